package lifecycle

import "villaops/internal/models"

// allowed is the staff-driven transition table. Failed and cancelled are reachable from
// pending, assigned and in progress only: once a task succeeded its cascade has fired.
// Approved, failed and cancelled have no way out.
var allowed = map[models.TaskStatus][]models.TaskStatus{
	models.StatusPending:    {models.StatusAssigned},
	models.StatusAssigned:   {models.StatusInProgress},
	models.StatusInProgress: {models.StatusCompleted},
	models.StatusCompleted:  {models.StatusApproved},
}

// CanTransition reports whether a task of type typ may move from one status to another.
func CanTransition(typ models.TaskType, from, to models.TaskStatus) bool {
	if from.IsTerminal() || from == to {
		return false
	}
	if to == models.StatusFailed || to == models.StatusCancelled {
		return !from.IsSuccess()
	}
	// Check-in is informational and has no work to start.
	if typ == models.TaskCheckinInformational && from == models.StatusAssigned && to == models.StatusCompleted {
		return true
	}
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

// gated reports whether moving from -> to must wait for the task's dependencies.
func gated(from, to models.TaskStatus) bool {
	if to == models.StatusFailed || to == models.StatusCancelled {
		return false
	}
	return from == models.StatusPending || from == models.StatusAssigned
}

func validStatus(s models.TaskStatus) bool {
	switch s {
	case models.StatusPending, models.StatusAssigned, models.StatusInProgress, models.StatusCompleted,
		models.StatusApproved, models.StatusFailed, models.StatusCancelled:
		return true
	}
	return false
}

// maintenancePriority maps an inspection issue severity onto the repair task priority.
func maintenancePriority(severity string) models.Priority {
	switch severity {
	case models.SeverityHigh:
		return models.PriorityUrgent
	case models.SeverityMedium:
		return models.PriorityHigh
	default:
		return models.PriorityMedium
	}
}
