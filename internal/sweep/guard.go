package sweep

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"villaops/internal/domain"
	"villaops/internal/metrics"
	"villaops/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// guarded runs one scan, turning a panic into an error.
func guarded(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{name: name, value: r, stack: debug.Stack()}
		}
	}()
	return fn()
}

type panicError struct {
	name  string
	value interface{}
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.name, e.value)
}

// withStack attaches the stack of a recovered panic, if err carries one.
func withStack(event *zerolog.Event, err error) *zerolog.Event {
	var p *panicError
	if errors.As(err, &p) {
		return event.Bytes("stack", p.stack)
	}
	return event
}

// raiseFailure records a whole-sweep failure as one critical alert. It never fails the caller.
func raiseFailure(ctx context.Context, alerts domain.AlertStore, logger *zerolog.Logger, failure *domain.MonitorFailure, now time.Time) {
	withStack(logger.Error().Err(failure.Err).Str("sweep", failure.Sweep), failure.Err).Msg("sweep failed")
	if alerts == nil {
		return
	}
	alert := &models.Alert{
		ID:        uuid.NewString(),
		Type:      models.AlertMonitorFailure,
		Severity:  models.SeverityCritical,
		Message:   failure.Error(),
		Context:   map[string]string{"sweep": failure.Sweep},
		CreatedAt: now,
	}
	// The failure may be the store itself; detach from a cancelled run context.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := alerts.CreateAlert(writeCtx, alert); err != nil {
		logger.Error().Err(err).Str("sweep", failure.Sweep).Msg("failed to record sweep failure alert")
		return
	}
	metrics.IncAlert(alert.Type, alert.Severity)
}
