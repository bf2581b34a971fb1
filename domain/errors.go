package domain

import (
	"errors"
	"fmt"
)

// Validation failures. Terminal for the attempted operation; callers must
// not retry them without correcting the request.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionFull       = errors.New("session is full")
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotAuthorized     = errors.New("not authorized")
	ErrInvalidAmount     = errors.New("amount must be a positive integer")
	ErrSameAccount       = errors.New("source and destination are the same account")
	ErrInvalidConfig     = errors.New("invalid session configuration")
)

// StoreError reports a failure in the backing store. It is transient:
// reads may be retried, a failed commit has already been rolled back.
type StoreError struct {
	Op   string
	Code string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("store: %s: [%s] %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func NewStoreError(op, code string, err error) *StoreError {
	return &StoreError{Op: op, Code: code, Err: err}
}

// IsTransient reports whether err is a store failure worth retrying, as
// opposed to a terminal validation rejection.
func IsTransient(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// SubscriptionError is delivered to a single active subscriber when its
// feed breaks; other subscriptions are unaffected.
type SubscriptionError struct {
	SessionID SessionID
	Err       error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription for session %s: %v", e.SessionID, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }
