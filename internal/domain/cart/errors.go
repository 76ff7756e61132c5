package cart

import "fmt"

// SaveError reports that a cart mutation was applied in memory but could not
// be persisted. It is a warning: the in-memory cart stays authoritative.
type SaveError struct {
	UserID string
	Err    error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("cart of user %s not saved: %v", e.UserID, e.Err)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}
