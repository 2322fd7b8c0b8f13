package timeline

import (
	"testing"
	"time"

	"villaops/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generated(t *testing.T) (*models.Timeline, []*models.Task) {
	t.Helper()
	tl, tasks, err := sequentialGenerator().Generate(event())
	require.NoError(t, err)
	return tl, tasks
}

func setStatus(tasks []*models.Task, typ models.TaskType, status models.TaskStatus) {
	for _, task := range tasks {
		if task.Type == typ {
			task.Status = status
		}
	}
}

func TestAggregate_Phases(t *testing.T) {
	during := time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC)
	afterCheckout := checkOut.Add(time.Minute)

	tests := []struct {
		name     string
		now      time.Time
		statuses map[models.TaskType]models.TaskStatus
		phase    models.Phase
		percent  int
	}{
		{"BeforeArrival", created, nil, models.PhasePreArrival, 0},
		{"Occupied", during, map[models.TaskType]models.TaskStatus{
			models.TaskPreArrivalPrep: models.StatusCompleted, models.TaskCheckinInformational: models.StatusCompleted,
		}, models.PhaseOccupied, 40},
		{"CheckoutDue", afterCheckout, nil, models.PhaseCheckout, 0},
		{"CheckoutAssignedEarly", during, map[models.TaskType]models.TaskStatus{
			models.TaskCheckout: models.StatusAssigned,
		}, models.PhaseCheckout, 0},
		{"Cleaning", afterCheckout, map[models.TaskType]models.TaskStatus{
			models.TaskCheckout: models.StatusCompleted, models.TaskCleaning: models.StatusAssigned,
		}, models.PhaseCleaning, 20},
		{"Inspection", afterCheckout, map[models.TaskType]models.TaskStatus{
			models.TaskCheckout: models.StatusCompleted, models.TaskCleaning: models.StatusCompleted,
			models.TaskInspection: models.StatusAssigned,
		}, models.PhaseInspection, 40},
		{"Ready", afterCheckout, map[models.TaskType]models.TaskStatus{
			models.TaskPreArrivalPrep: models.StatusCompleted, models.TaskCheckinInformational: models.StatusCompleted,
			models.TaskCheckout: models.StatusCompleted, models.TaskCleaning: models.StatusCompleted,
			models.TaskInspection: models.StatusApproved,
		}, models.PhaseReady, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl, tasks := generated(t)
			for typ, status := range tt.statuses {
				setStatus(tasks, typ, status)
			}
			Aggregate(tl, tasks, tt.now)
			assert.Equal(t, tt.phase, tl.Phase)
			assert.Equal(t, tt.percent, tl.CompletionPercent)
		})
	}
}

func TestAggregate_MaintenanceKeepsInspectionPhase(t *testing.T) {
	tl, tasks := generated(t)
	setStatus(tasks, models.TaskCheckout, models.StatusCompleted)
	setStatus(tasks, models.TaskCleaning, models.StatusCompleted)
	setStatus(tasks, models.TaskInspection, models.StatusFailed)
	tasks = append(tasks, &models.Task{ID: "m1", Type: models.TaskMaintenance, Status: models.StatusAssigned})

	Aggregate(tl, tasks, checkOut.Add(4*time.Hour))
	assert.Equal(t, models.PhaseInspection, tl.Phase)
	assert.Equal(t, 33, tl.CompletionPercent)
	assert.Nil(t, tl.ActualReadyAt)
}

func TestAggregate_ReadyIsTerminal(t *testing.T) {
	tl, tasks := generated(t)
	readyAt := checkOut.Add(4 * time.Hour)
	tl.Phase = models.PhaseReady
	tl.ActualReadyAt = &readyAt

	Aggregate(tl, tasks, checkOut.Add(5*time.Hour))
	assert.Equal(t, models.PhaseReady, tl.Phase)
	assert.Equal(t, 100, tl.CompletionPercent)
	assert.True(t, tl.ActualReadyAt.Equal(readyAt))
}

func TestAggregate_OrderIndependent(t *testing.T) {
	tl1, tasks := generated(t)
	setStatus(tasks, models.TaskCheckout, models.StatusCompleted)
	setStatus(tasks, models.TaskCleaning, models.StatusInProgress)

	reversed := make([]*models.Task, len(tasks))
	for i, task := range tasks {
		reversed[len(tasks)-1-i] = task
	}
	tl2 := *tl1

	Aggregate(tl1, tasks, checkOut.Add(time.Hour))
	Aggregate(&tl2, reversed, checkOut.Add(time.Hour))
	assert.Equal(t, tl1.Phase, tl2.Phase)
	assert.Equal(t, tl1.CompletionPercent, tl2.CompletionPercent)
}
