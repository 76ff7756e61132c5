package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/xenking/campus-canteen/internal/domain/order"
)

const (
	// Exchange receives every order notification.
	Exchange = "canteen.notifications"

	publishTimeout = 3 * time.Second
)

// RoutingKey is the routing key of notifications for userID. Consumers bind
// "order.status.#" for all users.
func RoutingKey(userID string) string {
	return "order.status." + userID
}

// Channel is the subset of *amqp.Channel used by AMQP.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQP publishes notifications to a topic exchange.
type AMQP struct {
	ch  Channel
	lg  *zap.Logger
	now func() time.Time
}

// NewAMQP declares Exchange on ch and returns a publishing sink.
func NewAMQP(ch Channel, lg *zap.Logger) (*AMQP, error) {
	if err := ch.ExchangeDeclare(Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, errors.Wrapf(err, "declare exchange %s", Exchange)
	}
	return &AMQP{ch: ch, lg: lg, now: time.Now}, nil
}

// Notify publishes n. Failures are logged, never returned.
func (a *AMQP) Notify(ctx context.Context, n order.Notification) {
	if err := a.Publish(ctx, n); err != nil {
		a.lg.Warn("Notification not published",
			zap.String("user_id", n.UserID),
			zap.String("tag", n.Tag),
			zap.Error(err),
		)
	}
}

// Publish publishes n and reports the outcome.
func (a *AMQP) Publish(ctx context.Context, n order.Notification) error {
	now := a.now()
	var e jx.Encoder
	Encode(&e, n, now)

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := a.ch.PublishWithContext(pubCtx, Exchange, RoutingKey(n.UserID), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         "order.status",
		Timestamp:    now,
		Body:         e.Bytes(),
	}); err != nil {
		return errors.Wrap(err, "publish")
	}
	return nil
}
