package sweep

import (
	"context"
	"errors"
	"time"

	"villaops/internal/domain"
	"villaops/internal/metrics"
	"villaops/internal/models"

	"github.com/rs/zerolog"
)

const checkoutSweepName = "checkout"

// CheckoutCompleter is the engine operation the checkout sweep drives. It returns
// domain.ErrAlreadyCompleted when another run completed the checkout first.
type CheckoutCompleter interface {
	FireCheckout(ctx context.Context, taskID string) (*models.Task, error)
}

// CheckoutResult counts what one checkout sweep did.
type CheckoutResult struct {
	Due       int `json:"due"`
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// CheckoutSweep fires every pending checkout task whose scheduled time has passed.
type CheckoutSweep struct {
	tasks  domain.TaskStore
	engine CheckoutCompleter
	alerts domain.AlertStore
	now    domain.Clock
	logger zerolog.Logger
}

func NewCheckoutSweep(tasks domain.TaskStore, engine CheckoutCompleter, alerts domain.AlertStore, now domain.Clock, logger *zerolog.Logger) *CheckoutSweep {
	if now == nil {
		now = time.Now
	}
	return &CheckoutSweep{
		tasks:  tasks,
		engine: engine,
		alerts: alerts,
		now:    now,
		logger: logger.With().Str("component", "checkout_sweep").Logger(),
	}
}

// Run completes due checkouts one by one. A failing task is logged and counted; only a
// failure to list the due tasks fails the run.
func (s *CheckoutSweep) Run(ctx context.Context) (CheckoutResult, error) {
	started := time.Now()
	now := s.now()
	var res CheckoutResult

	err := guarded(checkoutSweepName, func() error {
		due, err := s.tasks.ListTasks(ctx, models.TaskFilter{
			Type:        models.TaskCheckout,
			Status:      models.StatusPending,
			ScheduledTo: now,
		})
		if err != nil {
			return err
		}
		res.Due = len(due)

		for _, task := range due {
			switch err := s.completeOne(ctx, task.ID); {
			case err == nil:
				res.Completed++
			case errors.Is(err, domain.ErrAlreadyCompleted), errors.Is(err, domain.ErrConcurrentModification):
				res.Skipped++
			default:
				res.Failed++
				withStack(s.logger.Error().Err(err), err).Str("task_id", task.ID).Str("booking_id", task.BookingID).
					Msg("checkout completion failed")
			}
		}
		return nil
	})

	metrics.ObserveSweep(checkoutSweepName, started, err)
	metrics.AddSweepMutations(checkoutSweepName, "completed_checkouts", res.Completed)
	if err != nil {
		failure := &domain.MonitorFailure{Sweep: checkoutSweepName, Err: err}
		raiseFailure(ctx, s.alerts, &s.logger, failure, now)
		return res, failure
	}

	if res.Due > 0 {
		s.logger.Info().
			Int("due", res.Due).
			Int("completed", res.Completed).
			Int("skipped", res.Skipped).
			Int("failed", res.Failed).
			Msg("checkout sweep finished")
	}
	return res, nil
}

func (s *CheckoutSweep) completeOne(ctx context.Context, taskID string) error {
	return guarded("checkout "+taskID, func() error {
		_, err := s.engine.FireCheckout(ctx, taskID)
		return err
	})
}
