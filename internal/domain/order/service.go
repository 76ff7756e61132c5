package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/campus-canteen/internal/docstore"
	"github.com/xenking/campus-canteen/internal/domain/auth"
	"github.com/xenking/campus-canteen/internal/domain/cart"
)

// Config holds checkout pricing settings.
type Config struct {
	// TaxRate is applied to the subtotal, e.g. 0.10 for 10%.
	TaxRate decimal.Decimal
	// Currency is the ISO 4217 code stamped on new orders.
	Currency string
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(lg *zap.Logger) Option {
	return func(s *Service) { s.lg = lg }
}

// WithClock sets the clock used for in-memory timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer("canteen/order") }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter("canteen/order") }
}

// WithStatsReporter makes Stats use a backend-side aggregation instead of
// loading every order of the canteen.
func WithStatsReporter(r StatsReporter) Option {
	return func(s *Service) { s.stats = r }
}

// Service encapsulates checkout and order lifecycle business logic.
type Service struct {
	docs     docstore.Store
	notifier Notifier
	cfg      Config

	lg     *zap.Logger
	now    func() time.Time
	tracer trace.Tracer
	meter  metric.Meter
	stats  StatsReporter

	placed      metric.Int64Counter
	transitions metric.Int64Counter
	locks       keyedMutex
}

// NewService creates an order Service.
func NewService(docs docstore.Store, notifier Notifier, cfg Config, opts ...Option) (*Service, error) {
	if cfg.TaxRate.IsNegative() {
		return nil, errors.Errorf("tax rate %s is negative", cfg.TaxRate)
	}
	if cfg.Currency == "" {
		return nil, errors.New("currency is required")
	}
	s := &Service{
		docs:     docs,
		notifier: notifier,
		cfg:      cfg,
		lg:       zap.NewNop(),
		now:      time.Now,
		tracer:   tracenoop.NewTracerProvider().Tracer("canteen/order"),
		meter:    metricnoop.NewMeterProvider().Meter("canteen/order"),
	}
	for _, o := range opts {
		o(s)
	}

	var err error
	if s.placed, err = s.meter.Int64Counter("canteen.orders.placed",
		metric.WithDescription("Orders placed at checkout"),
	); err != nil {
		return nil, errors.Wrap(err, "create placed counter")
	}
	if s.transitions, err = s.meter.Int64Counter("canteen.orders.transitions",
		metric.WithDescription("Order status transitions"),
	); err != nil {
		return nil, errors.Wrap(err, "create transitions counter")
	}
	return s, nil
}

// Totals computes the frozen money fields for lines under taxRate. Tax is
// rounded to cents; total is exactly subtotal + tax.
func Totals(lines []cart.Line, taxRate decimal.Decimal) (subtotal, tax, total decimal.Decimal) {
	subtotal = decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Subtotal())
	}
	tax = subtotal.Mul(taxRate).Round(2)
	total = subtotal.Add(tax)
	return subtotal, tax, total
}

// Checkout turns the cart of sess into a pending order. The checks run in
// order: authentication, ownership, empty cart, single canteen. The cart is
// cleared only after the order is stored; if storing fails the cart is kept
// and a *PersistenceError is returned. When the order was placed but the
// emptied cart could not be saved, the order is returned together with the
// *cart.SaveError.
func (s *Service) Checkout(ctx context.Context, p *auth.Principal, sess *cart.Session, paymentMethod string) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Checkout")
	defer span.End()

	if p == nil {
		return nil, ErrUnauthenticated
	}
	if sess.UserID() != p.UID {
		return nil, ErrForbidden
	}

	var placed *Order
	err := sess.Checkout(ctx, func(ctx context.Context, lines []cart.Line) error {
		c := cart.Cart{Lines: lines}
		if c.IsEmpty() {
			return ErrEmptyCart
		}
		if ids := c.CanteenIDs(); len(ids) > 1 {
			return &MixedCanteenError{CanteenIDs: ids}
		}

		o := s.newOrder(p, lines, paymentMethod)
		id, err := s.docs.Add(ctx, Collection, newRecord(o))
		if err != nil {
			return &PersistenceError{Op: "create order", Err: err}
		}
		o.ID = id
		placed = o
		return nil
	})
	if placed == nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkout failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.String("order.id", placed.ID),
		attribute.String("canteen.id", placed.CanteenID),
	)
	s.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("canteen.id", placed.CanteenID)))
	s.lg.Info("Order placed",
		zap.String("order_id", placed.ID),
		zap.String("user_id", placed.UserID),
		zap.String("canteen_id", placed.CanteenID),
		zap.Stringer("total", placed.Total),
	)
	// err is a *cart.SaveError here, if anything.
	return placed, err
}

func (s *Service) newOrder(p *auth.Principal, lines []cart.Line, paymentMethod string) *Order {
	subtotal, tax, total := Totals(lines, s.cfg.TaxRate)
	now := s.now()
	name := p.DisplayName
	if name == "" {
		name = p.Email
	}
	o := &Order{
		UserID:        p.UID,
		UserEmail:     p.Email,
		CustomerName:  name,
		CanteenID:     lines[0].CanteenID,
		CanteenName:   lines[0].CanteenName,
		Items:         lines,
		Subtotal:      subtotal,
		TaxAmount:     tax,
		Total:         total,
		Currency:      s.cfg.Currency,
		Status:        StatusPending,
		PaymentMethod: paymentMethod,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if paymentMethod != "" {
		o.PaymentStatus = PaymentStatusCompleted
	}
	return o
}

// Transition changes the status of an order on behalf of canteen staff or an
// admin, stores it and notifies the owner when the new status is announced.
func (s *Service) Transition(ctx context.Context, p *auth.Principal, orderID string, to Status) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Transition",
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.String("order.status", string(to)),
		),
	)
	defer span.End()

	if p == nil {
		return nil, ErrUnauthenticated
	}

	unlock := s.locks.Lock(orderID)
	defer unlock()

	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !p.CanManageCanteen(o.CanteenID) {
		return nil, ErrForbidden
	}
	from := o.Status
	if err := o.Transition(to, s.now()); err != nil {
		return nil, err
	}

	if err := s.docs.Update(ctx, Collection, orderID, map[string]any{
		"status":    to,
		"updatedAt": docstore.ServerTimestamp,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store status")
		return nil, &PersistenceError{Op: "update order status", Err: err}
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
	s.lg.Info("Order status changed",
		zap.String("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("by", p.UID),
		zap.Bool("notify", to.Notifies()),
	)
	if n, ok := NotificationFor(o); ok {
		s.notifier.Notify(ctx, n)
	}
	return o, nil
}

// Get returns an order visible to p: its owner, the staff of its canteen
// and admins.
func (s *Service) Get(ctx context.Context, p *auth.Principal, orderID string) (*Order, error) {
	if p == nil {
		return nil, ErrUnauthenticated
	}
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != p.UID && !p.CanManageCanteen(o.CanteenID) {
		return nil, ErrForbidden
	}
	return o, nil
}

// UserOrdersQuery selects the orders of userID, newest first.
func UserOrdersQuery(userID string) docstore.Query {
	return docstore.Query{Collection: Collection}.
		Where("userId", userID).
		SortBy("createdAt", true)
}

// ListForUser returns the orders of p, newest first.
func (s *Service) ListForUser(ctx context.Context, p *auth.Principal) ([]Order, error) {
	if p == nil {
		return nil, ErrUnauthenticated
	}
	return s.find(ctx, UserOrdersQuery(p.UID))
}

// ListForCanteen returns the orders of canteenID, newest first, optionally
// only those in status.
func (s *Service) ListForCanteen(ctx context.Context, p *auth.Principal, canteenID string, status Status) ([]Order, error) {
	if p == nil {
		return nil, ErrUnauthenticated
	}
	if !p.CanManageCanteen(canteenID) {
		return nil, ErrForbidden
	}
	q := docstore.Query{Collection: Collection}.
		Where("canteenId", canteenID).
		SortBy("createdAt", true)
	if status != "" {
		q = q.Where("status", status)
	}
	return s.find(ctx, q)
}

func (s *Service) load(ctx context.Context, orderID string) (*Order, error) {
	doc, err := s.docs.Get(ctx, Collection, orderID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get order", Err: err}
	}
	return FromDocument(*doc)
}

func (s *Service) find(ctx context.Context, q docstore.Query) ([]Order, error) {
	docs, err := s.docs.Find(ctx, q)
	if err != nil {
		return nil, &PersistenceError{Op: "list orders", Err: err}
	}
	return FromDocuments(docs)
}
