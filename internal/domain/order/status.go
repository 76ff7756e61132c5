package order

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusDelivered Status = "delivered"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// transitions lists the statuses reachable from each status. Terminal
// statuses have no entry.
var transitions = map[Status][]Status{
	StatusPending:   {StatusAccepted, StatusRejected, StatusCancelled},
	StatusAccepted:  {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusReady, StatusCancelled},
	// Pickup orders complete straight from ready.
	StatusReady:     {StatusDelivered, StatusCompleted, StatusCancelled},
	StatusDelivered: {StatusCompleted},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusPreparing, StatusReady,
		StatusDelivered, StatusCompleted, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusCancelled
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Next returns the statuses reachable from s.
func (s Status) Next() []Status {
	return append([]Status(nil), transitions[s]...)
}

// Notifies reports whether entering s is announced to the order owner.
func (s Status) Notifies() bool {
	_, ok := announcements[s]
	return ok
}

// announcements holds the owner notification of each announced status. The
// body takes the short order id.
var announcements = map[Status]struct{ title, body string }{
	StatusAccepted:  {"Order Accepted!", "Your order #%s has been accepted and will be prepared soon."},
	StatusPreparing: {"Order in Progress!", "Chefs are preparing your food for order #%s."},
	StatusReady:     {"Order Ready for Pickup!", "Your order #%s is ready! Come and collect it."},
	StatusCompleted: {"Order Completed!", "Thank you for your order #%s! We hope you enjoyed it."},
	StatusRejected:  {"Order Rejected", "Your order #%s has been rejected. Please contact support."},
}

// CountsAsRevenue reports whether an order in status s is billed.
func (s Status) CountsAsRevenue() bool {
	return s != StatusRejected && s != StatusCancelled
}
