package order

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/campus-canteen/internal/domain/auth"
)

// Stats summarises the orders of a canteen.
type Stats struct {
	CanteenID string
	Orders    int
	ByStatus  map[Status]int
	// Revenue is the total of all orders that were not rejected or cancelled.
	Revenue decimal.Decimal
}

// StatsReporter aggregates canteen statistics inside the backend.
type StatsReporter interface {
	CanteenStats(ctx context.Context, canteenID string) (*Stats, error)
}

// Stats returns order statistics for canteenID.
func (s *Service) Stats(ctx context.Context, p *auth.Principal, canteenID string) (*Stats, error) {
	if p == nil {
		return nil, ErrUnauthenticated
	}
	if !p.CanManageCanteen(canteenID) {
		return nil, ErrForbidden
	}
	if s.stats != nil {
		st, err := s.stats.CanteenStats(ctx, canteenID)
		if err != nil {
			return nil, &PersistenceError{Op: "canteen stats", Err: err}
		}
		return st, nil
	}

	orders, err := s.ListForCanteen(ctx, p, canteenID, "")
	if err != nil {
		return nil, err
	}
	return Summarize(canteenID, orders), nil
}

// Summarize computes Stats from loaded orders.
func Summarize(canteenID string, orders []Order) *Stats {
	st := &Stats{
		CanteenID: canteenID,
		ByStatus:  make(map[Status]int),
		Revenue:   decimal.Zero,
	}
	for _, o := range orders {
		st.Orders++
		st.ByStatus[o.Status]++
		if o.Status.CountsAsRevenue() {
			st.Revenue = st.Revenue.Add(o.Total)
		}
	}
	return st
}
