package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/campus-canteen/internal/domain/order"
)

const canteenStatsSQL = `SELECT data ->> 'status', count(*), COALESCE(sum((data ->> 'totalWithTax')::numeric), 0)
	FROM documents
	WHERE collection = $1 AND data ->> 'canteenId' = $2
	GROUP BY 1`

var _ order.StatsReporter = (*Store)(nil)

type statusTotals struct {
	status order.Status
	count  int64
	total  decimal.Decimal
}

// CanteenStats aggregates the orders of canteenID in SQL.
func (s *Store) CanteenStats(ctx context.Context, canteenID string) (*order.Stats, error) {
	rows, err := s.db.Query(ctx, canteenStatsSQL, order.Collection, canteenID)
	if err != nil {
		return nil, errors.Wrapf(err, "canteen stats %s", canteenID)
	}
	totals, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (statusTotals, error) {
		var t statusTotals
		err := row.Scan(&t.status, &t.count, &t.total)
		return t, err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan canteen stats %s", canteenID)
	}

	st := &order.Stats{
		CanteenID: canteenID,
		ByStatus:  make(map[order.Status]int, len(totals)),
		Revenue:   decimal.Zero,
	}
	for _, t := range totals {
		st.Orders += int(t.count)
		st.ByStatus[t.status] = int(t.count)
		if t.status.CountsAsRevenue() {
			st.Revenue = st.Revenue.Add(t.total)
		}
	}
	return st, nil
}
