package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	t.Run("Validation", func(t *testing.T) {
		err := fmt.Errorf("transition: %w", Invalid("status", "illegal"))
		assert.True(t, IsValidation(err))
		assert.Equal(t, "transition: validation: status: illegal", err.Error())
	})

	t.Run("ValidationWrapsCause", func(t *testing.T) {
		err := &ValidationError{Reason: "blocked", Err: ErrDependenciesUnmet}
		assert.ErrorIs(t, err, ErrDependenciesUnmet)
		assert.Equal(t, "validation: blocked", err.Error())
	})

	t.Run("Transient", func(t *testing.T) {
		cause := errors.New("database is locked")
		err := fmt.Errorf("apply: %w", &TransientStoreError{Op: "apply", Err: cause})
		assert.True(t, IsTransient(err))
		assert.ErrorIs(t, err, cause)
		assert.False(t, IsValidation(err))
	})

	t.Run("Delivery", func(t *testing.T) {
		err := &DeliveryError{NotificationID: "n1", Channel: "push", Err: errors.New("timeout")}
		assert.Contains(t, err.Error(), "n1 via push")
	})

	t.Run("MonitorFailure", func(t *testing.T) {
		err := &MonitorFailure{Sweep: "timeouts", Err: ErrConcurrentModification}
		assert.ErrorIs(t, err, ErrConcurrentModification)
	})
}
