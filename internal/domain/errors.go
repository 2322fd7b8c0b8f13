package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrAlreadyExists          = errors.New("already exists")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrDependenciesUnmet      = errors.New("dependencies not completed")
	// ErrAlreadyCompleted reports that another caller completed the task first.
	ErrAlreadyCompleted = errors.New("already completed")
	// ErrUnreachable marks a recipient with no address on a channel; retrying cannot help.
	ErrUnreachable = errors.New("recipient unreachable")
)

// ValidationError rejects input or an illegal transition before any write.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransientStoreError marks a store failure that is safe to retry.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// DeliveryError is a failed notification channel call.
type DeliveryError struct {
	NotificationID string
	Channel        string
	Err            error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s via %s: %v", e.NotificationID, e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// MonitorFailure is a whole sweep invocation that failed.
type MonitorFailure struct {
	Sweep string
	Err   error
}

func (e *MonitorFailure) Error() string {
	return fmt.Sprintf("%s sweep failed: %v", e.Sweep, e.Err)
}

func (e *MonitorFailure) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsTransient(err error) bool {
	var t *TransientStoreError
	return errors.As(err, &t)
}
