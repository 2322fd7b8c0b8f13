package timeline

import (
	"time"

	"villaops/internal/models"
)

// anchor selects which booking instant a task offset is measured from.
type anchor int

const (
	fromCheckIn anchor = iota
	fromCheckOut
)

type step struct {
	Type      models.TaskType
	Title     string
	Anchor    anchor
	Offset    time.Duration
	Minutes   int
	Priority  models.Priority
	DependsOn []models.TaskType
}

// blueprint is the canonical turnover, in timeline order.
var blueprint = []step{
	{
		Type:     models.TaskPreArrivalPrep,
		Title:    "Pre-arrival preparation",
		Anchor:   fromCheckIn,
		Offset:   -24 * time.Hour,
		Minutes:  180,
		Priority: models.PriorityMedium,
	},
	{
		Type:      models.TaskCheckinInformational,
		Title:     "Guest check-in",
		Anchor:    fromCheckIn,
		Minutes:   0,
		Priority:  models.PriorityLow,
		DependsOn: []models.TaskType{models.TaskPreArrivalPrep},
	},
	{
		Type:     models.TaskCheckout,
		Title:    "Guest checkout",
		Anchor:   fromCheckOut,
		Minutes:  30,
		Priority: models.PriorityUrgent,
	},
	{
		Type:      models.TaskCleaning,
		Title:     "Turnover cleaning",
		Anchor:    fromCheckOut,
		Offset:    30 * time.Minute,
		Minutes:   150,
		Priority:  models.PriorityHigh,
		DependsOn: []models.TaskType{models.TaskCheckout},
	},
	{
		Type:      models.TaskInspection,
		Title:     "Quality inspection",
		Anchor:    fromCheckOut,
		Offset:    3 * time.Hour,
		Minutes:   60,
		Priority:  models.PriorityHigh,
		DependsOn: []models.TaskType{models.TaskCleaning},
	},
}

// triggersOf mirrors the dependency edges: a task triggers every step that depends on it.
func triggersOf(t models.TaskType) []models.TaskType {
	var out []models.TaskType
	for _, s := range blueprint {
		for _, dep := range s.DependsOn {
			if dep == t {
				out = append(out, s.Type)
			}
		}
	}
	return out
}

func (s step) scheduledAt(checkIn, checkOut time.Time) time.Time {
	if s.Anchor == fromCheckIn {
		return checkIn.Add(s.Offset)
	}
	return checkOut.Add(s.Offset)
}
