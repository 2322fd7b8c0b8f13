package timeline

import (
	"time"

	"villaops/internal/models"
)

func open(s models.TaskStatus) bool {
	return !s.IsSuccess() && !s.IsTerminal()
}

// Aggregate re-derives phase and completion of tl from the current state of its tasks.
// It is order independent, so replaying stale change events converges on the same result.
// A timeline that is already ready is left as is.
func Aggregate(tl *models.Timeline, tasks []*models.Task, now time.Time) {
	if tl.Phase == models.PhaseReady {
		tl.CompletionPercent = 100
		return
	}

	byType := make(map[models.TaskType][]*models.Task)
	done := 0
	for _, task := range tasks {
		byType[task.Type] = append(byType[task.Type], task)
		if task.Status.IsSuccess() {
			done++
		}
	}

	tl.Phase = phase(byType, now)
	switch {
	case tl.Phase == models.PhaseReady:
		tl.CompletionPercent = 100
		if tl.ActualReadyAt == nil {
			at := now
			tl.ActualReadyAt = &at
		}
	case len(tasks) == 0:
		tl.CompletionPercent = 0
	default:
		tl.CompletionPercent = done * 100 / len(tasks)
	}
	tl.UpdatedAt = now
}

func phase(byType map[models.TaskType][]*models.Task, now time.Time) models.Phase {
	anyOpen := func(types ...models.TaskType) bool {
		for _, t := range types {
			for _, task := range byType[t] {
				if open(task.Status) {
					return true
				}
			}
		}
		return false
	}
	allSuccess := func(t models.TaskType) bool {
		if len(byType[t]) == 0 {
			return false
		}
		for _, task := range byType[t] {
			if !task.Status.IsSuccess() {
				return false
			}
		}
		return true
	}
	approved := func() bool {
		for _, task := range byType[models.TaskInspection] {
			if task.Status == models.StatusApproved {
				return true
			}
		}
		return false
	}

	if approved() && !anyOpen(models.TaskCheckout, models.TaskCleaning, models.TaskInspection, models.TaskMaintenance) {
		return models.PhaseReady
	}
	if allSuccess(models.TaskCleaning) || anyOpen(models.TaskMaintenance) {
		return models.PhaseInspection
	}
	if allSuccess(models.TaskCheckout) {
		return models.PhaseCleaning
	}

	for _, task := range byType[models.TaskCheckout] {
		if task.Status != models.StatusPending || !now.Before(task.ScheduledAt) {
			return models.PhaseCheckout
		}
	}
	for _, task := range byType[models.TaskCheckinInformational] {
		if now.Before(task.ScheduledAt) {
			return models.PhasePreArrival
		}
	}
	return models.PhaseOccupied
}
