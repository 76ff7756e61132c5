package order

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// Sentinel errors for checkout and order access.
var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrUnauthenticated = errors.New("sign in to place or manage orders")
	ErrForbidden       = errors.New("not allowed to access this order")
	ErrNotFound        = errors.New("order not found")
)

// MixedCanteenError rejects a checkout whose lines come from more than one
// canteen. Orders are never split automatically.
type MixedCanteenError struct {
	CanteenIDs []string
}

func (e *MixedCanteenError) Error() string {
	return fmt.Sprintf(
		"all items must be from the same canteen, please separate your order (canteens: %s)",
		strings.Join(e.CanteenIDs, ", "),
	)
}

// InvalidTransitionError rejects a status change the state machine does not
// allow. The order is left unchanged.
type InvalidTransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot change status from %s to %s", e.OrderID, e.From, e.To)
}

// PersistenceError wraps a document store failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
