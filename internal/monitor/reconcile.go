package monitor

import (
	"context"
	"errors"
	"fmt"

	"villaops/internal/domain"
	"villaops/internal/models"
	"villaops/internal/timeline"
)

// Reconcile brings one booking's timeline in line with its tasks. It reads current state
// rather than trusting the triggering event, so duplicated or reordered events converge.
func (m *Monitor) Reconcile(ctx context.Context, bookingID string) error {
	tl, err := m.store.GetTimeline(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("load timeline: %w", err)
	}
	if tl.Phase == models.PhaseReady {
		m.release(bookingID, nil)
		return nil
	}

	tasks, err := m.store.GetTasks(ctx, tl.TaskIDs)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	if m.repair(ctx, tasks) > 0 {
		if tasks, err = m.store.GetTasks(ctx, tl.TaskIDs); err != nil {
			return fmt.Errorf("reload tasks: %w", err)
		}
	}

	prev := tl.Phase
	timeline.Aggregate(tl, tasks, m.now())
	if err := m.store.UpdateTimelineAggregate(ctx, tl); err != nil {
		return fmt.Errorf("update timeline: %w", err)
	}
	if tl.Phase != prev {
		m.logger.Info().
			Str("booking_id", bookingID).
			Str("from", string(prev)).
			Str("to", string(tl.Phase)).
			Int("completion", tl.CompletionPercent).
			Msg("timeline phase changed")
	}

	if tl.Phase == models.PhaseReady {
		m.release(bookingID, nil)
	}
	return nil
}

// repair assigns tasks that are ready for work but have nobody on them: pending tasks
// whose dependencies have all succeeded, and tasks activated without a staff match.
// Checkouts are left to the checkout sweep.
func (m *Monitor) repair(ctx context.Context, tasks []*models.Task) int {
	if m.assigner == nil {
		return 0
	}
	status := make(map[string]models.TaskStatus, len(tasks))
	for _, t := range tasks {
		status[t.ID] = t.Status
	}

	repaired := 0
	for _, t := range tasks {
		if !needsAssignee(t, status) {
			continue
		}
		assigned, err := m.assigner.Assign(ctx, t.ID)
		switch {
		case err == nil:
			if assigned.AssignedStaffID != "" {
				repaired++
			}
		case domain.IsValidation(err), errors.Is(err, domain.ErrConcurrentModification):
			// Someone else moved the task first.
			m.logger.Debug().Err(err).Str("task_id", t.ID).Msg("auto-assign skipped")
		default:
			m.logger.Warn().Err(err).Str("task_id", t.ID).Msg("auto-assign failed")
		}
	}
	return repaired
}

func needsAssignee(t *models.Task, status map[string]models.TaskStatus) bool {
	switch t.Status {
	case models.StatusAssigned, models.StatusInProgress:
		return t.AssignedStaffID == ""
	case models.StatusPending:
		if t.Type == models.TaskCheckout {
			return false
		}
		for _, dep := range t.DependsOn {
			s, ok := status[dep]
			if !ok || !s.IsSuccess() {
				return false
			}
		}
		return true
	}
	return false
}
