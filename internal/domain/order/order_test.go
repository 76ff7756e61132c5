package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	all := []Status{
		StatusPending, StatusAccepted, StatusPreparing, StatusReady,
		StatusDelivered, StatusCompleted, StatusRejected, StatusCancelled,
	}
	allowed := map[[2]Status]bool{
		{StatusPending, StatusAccepted}:    true,
		{StatusPending, StatusRejected}:    true,
		{StatusPending, StatusCancelled}:   true,
		{StatusAccepted, StatusPreparing}:  true,
		{StatusAccepted, StatusCancelled}:  true,
		{StatusPreparing, StatusReady}:     true,
		{StatusPreparing, StatusCancelled}: true,
		{StatusReady, StatusDelivered}:     true,
		{StatusReady, StatusCompleted}:     true,
		{StatusReady, StatusCancelled}:     true,
		{StatusDelivered, StatusCompleted}: true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]Status{from, to}], from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestStatus_Properties(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
		notifies bool
		revenue  bool
	}{
		{StatusPending, false, false, true},
		{StatusAccepted, false, true, true},
		{StatusPreparing, false, true, true},
		{StatusReady, false, true, true},
		{StatusDelivered, false, false, true},
		{StatusCompleted, true, true, true},
		{StatusRejected, true, true, false},
		{StatusCancelled, true, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.True(t, tt.status.Valid())
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.terminal, len(tt.status.Next()) == 0)
			assert.Equal(t, tt.notifies, tt.status.Notifies())
			assert.Equal(t, tt.revenue, tt.status.CountsAsRevenue())
		})
	}
	assert.False(t, Status("shipped").Valid())
}

func TestOrder_Transition(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := &Order{ID: "o1", Status: StatusPending, CreatedAt: created, UpdatedAt: created}

	later := created.Add(time.Minute)
	require.NoError(t, o.Transition(StatusAccepted, later))
	assert.Equal(t, StatusAccepted, o.Status)
	assert.Equal(t, later, o.UpdatedAt)

	err := o.Transition(StatusCompleted, later.Add(time.Minute))
	var tErr *InvalidTransitionError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, "o1", tErr.OrderID)
	assert.Equal(t, StatusAccepted, o.Status)
	assert.Equal(t, later, o.UpdatedAt)
}

func TestOrder_ShortID(t *testing.T) {
	assert.Equal(t, "abc", (&Order{ID: "abc"}).ShortID())
	assert.Equal(t, "89abcdef", (&Order{ID: "0123456789abcdef"}).ShortID())
}

func TestNotificationFor(t *testing.T) {
	tests := []struct {
		status Status
		title  string
		ok     bool
	}{
		{StatusPending, "", false},
		{StatusAccepted, "Order Accepted!", true},
		{StatusPreparing, "Order in Progress!", true},
		{StatusReady, "Order Ready for Pickup!", true},
		{StatusDelivered, "", false},
		{StatusCompleted, "Order Completed!", true},
		{StatusRejected, "Order Rejected", true},
		{StatusCancelled, "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			o := &Order{ID: "order-0123456789", UserID: "u1", Status: tt.status}
			n, ok := NotificationFor(o)
			require.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.ok, tt.status.Notifies())
			if !ok {
				return
			}
			assert.Equal(t, tt.title, n.Title)
			assert.Equal(t, "u1", n.UserID)
			assert.Equal(t, "order-0123456789", n.Tag)
			assert.Contains(t, n.Body, "#23456789")
		})
	}
}

func TestDiffStatuses(t *testing.T) {
	ord := func(id string, s Status) Order { return Order{ID: id, UserID: "u1", Status: s} }

	tests := []struct {
		name string
		prev []Order
		next []Order
		want []StatusChange
	}{
		{
			name: "first snapshot is the baseline",
			next: []Order{ord("a", StatusAccepted)},
		},
		{
			name: "unchanged",
			prev: []Order{ord("a", StatusPending)},
			next: []Order{ord("a", StatusPending)},
		},
		{
			name: "new order is not a change",
			prev: []Order{},
			next: []Order{ord("a", StatusPending)},
		},
		{
			name: "status changed",
			prev: []Order{ord("a", StatusPending), ord("b", StatusAccepted)},
			next: []Order{ord("b", StatusPreparing), ord("a", StatusPending)},
			want: []StatusChange{{Order: ord("b", StatusPreparing), From: StatusAccepted}},
		},
		{
			name: "several changes keep next order",
			prev: []Order{ord("a", StatusPending), ord("b", StatusReady)},
			next: []Order{ord("b", StatusCompleted), ord("a", StatusRejected)},
			want: []StatusChange{
				{Order: ord("b", StatusCompleted), From: StatusReady},
				{Order: ord("a", StatusRejected), From: StatusPending},
			},
		},
		{
			name: "removed order is ignored",
			prev: []Order{ord("a", StatusPending)},
			next: []Order{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DiffStatuses(tt.prev, tt.next))
		})
	}
}

func TestNotifications(t *testing.T) {
	changes := []StatusChange{
		{Order: Order{ID: "a", UserID: "u1", Status: StatusAccepted}, From: StatusPending},
		{Order: Order{ID: "b", UserID: "u1", Status: StatusCancelled}, From: StatusPending},
		{Order: Order{ID: "c", UserID: "u1", Status: StatusReady}, From: StatusPreparing},
	}
	got := Notifications(changes)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Tag)
	assert.Equal(t, "c", got[1].Tag)
}
