package order

// StatusChange is an order whose status differs between two snapshots.
type StatusChange struct {
	Order Order
	From  Status
}

// DiffStatuses compares two snapshots of the same order query and returns
// the orders whose status changed, in the order of next. Orders that are new
// in next are not changes. A nil prev is the first snapshot: it is the
// baseline and yields nothing.
func DiffStatuses(prev, next []Order) []StatusChange {
	if prev == nil {
		return nil
	}
	before := make(map[string]Status, len(prev))
	for _, o := range prev {
		before[o.ID] = o.Status
	}
	var changes []StatusChange
	for _, o := range next {
		was, ok := before[o.ID]
		if !ok || was == o.Status {
			continue
		}
		changes = append(changes, StatusChange{Order: o, From: was})
	}
	return changes
}

// Notifications maps status changes to the notifications they announce.
func Notifications(changes []StatusChange) []Notification {
	var out []Notification
	for i := range changes {
		if n, ok := NotificationFor(&changes[i].Order); ok {
			out = append(out, n)
		}
	}
	return out
}
