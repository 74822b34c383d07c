package pledge

import "fmt"

// ValidationError means the submission was rejected before any store call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid pledge: %s %s", e.Field, e.Reason)
}

// PersistenceError means the store could not create the order even after
// its own fallback.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist order: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// UpdateError is surfaced to the administrator who changed a status.
type UpdateError struct {
	OrderID string
	Err     error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("update order %s: %v", e.OrderID, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }
