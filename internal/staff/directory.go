// Package staff matches tasks to available staff and loads the staff roster.
package staff

import (
	"context"
	"fmt"

	"villaops/internal/domain"
	"villaops/internal/models"

	"github.com/rs/zerolog"
)

const (
	SkillHousekeeping   = "housekeeping"
	SkillGuestRelations = "guest_relations"
	SkillCleaning       = "cleaning"
	SkillInspection     = "inspection"
	SkillMaintenance    = "maintenance"
)

var skillByType = map[models.TaskType]string{
	models.TaskPreArrivalPrep:       SkillHousekeeping,
	models.TaskCheckinInformational: SkillGuestRelations,
	models.TaskCheckout:             SkillGuestRelations,
	models.TaskCleaning:             SkillCleaning,
	models.TaskInspection:           SkillInspection,
	models.TaskMaintenance:          SkillMaintenance,
}

// SkillFor returns the skill a task type needs.
func SkillFor(t models.TaskType) (string, bool) {
	skill, ok := skillByType[t]
	return skill, ok
}

// Directory picks the least loaded available staff member with the needed skill.
type Directory struct {
	store  domain.StaffStore
	logger zerolog.Logger
}

func NewDirectory(store domain.StaffStore, logger *zerolog.Logger) *Directory {
	return &Directory{store: store, logger: logger.With().Str("component", "staff").Logger()}
}

// Match returns nil, nil when nobody is available.
func (d *Directory) Match(ctx context.Context, task *models.Task) (*models.Staff, error) {
	skill, ok := SkillFor(task.Type)
	if !ok {
		return nil, fmt.Errorf("no skill mapped for task type %q", task.Type)
	}
	candidates, err := d.store.ListAvailableStaff(ctx, skill)
	if err != nil {
		return nil, fmt.Errorf("list %s staff: %w", skill, err)
	}
	if len(candidates) == 0 {
		d.logger.Debug().Str("task_id", task.ID).Str("skill", skill).Msg("no available staff")
		return nil, nil
	}
	return candidates[0], nil
}
