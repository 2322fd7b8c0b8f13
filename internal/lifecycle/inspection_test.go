package lifecycle

import (
	"context"
	"testing"

	"villaops/internal/domain"
	"villaops/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitInspection_Pass(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.cleaned(t)

	res, err := h.engine.SubmitInspection(ctx, InspectionRequest{
		TaskID: h.tasks[models.TaskInspection].ID, Passed: true, ApprovalNotes: "spotless",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, res.Task.Status)
	assert.Empty(t, res.Spawned)

	booking, err := h.db.GetBooking(ctx, h.booking)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusReady, booking.Status)

	tl, err := h.db.GetTimeline(ctx, h.booking)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseReady, tl.Phase)
	assert.Equal(t, 100, tl.CompletionPercent)
	assert.NotNil(t, tl.ActualReadyAt)

	alerts, err := h.db.ListAlerts(ctx, nil)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertTimelineComplete, alerts[0].Type)
	assert.Equal(t, models.SeverityLow, alerts[0].Severity)

	inspection := h.task(t, models.TaskInspection)
	assert.Equal(t, "spotless", inspection.ApprovalNotes)

	_, err = h.engine.SubmitInspection(ctx, InspectionRequest{TaskID: inspection.ID, Passed: true})
	assert.True(t, domain.IsValidation(err))
}

func TestSubmitInspection_Fail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.cleaned(t)

	res, err := h.engine.SubmitInspection(ctx, InspectionRequest{
		TaskID: h.tasks[models.TaskInspection].ID,
		Issues: []models.Issue{
			{Description: "Broken pool pump", Severity: models.SeverityHigh},
			{Description: "Stained towel", Severity: models.SeverityLow, RequiresBlocking: true},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, res.Task.Status)

	maintenance, err := h.db.ListTasks(ctx, models.TaskFilter{BookingID: h.booking, Type: models.TaskMaintenance})
	require.NoError(t, err)
	require.Len(t, maintenance, 2)
	priorities := map[string]models.Priority{}
	for _, m := range maintenance {
		priorities[m.Title] = m.Priority
		assert.Equal(t, models.StatusAssigned, m.Status)
		assert.Equal(t, "s-fix", m.AssignedStaffID)
	}
	assert.Equal(t, models.PriorityUrgent, priorities["Repair: Broken pool pump"])
	assert.Equal(t, models.PriorityMedium, priorities["Repair: Stained towel"])

	property, err := h.db.GetProperty(ctx, "villa-1")
	require.NoError(t, err)
	assert.True(t, property.Blocked)

	alerts, err := h.db.ListAlerts(ctx, nil)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertIssueFound, alerts[0].Type)
	assert.Equal(t, models.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, "2", alerts[0].Context["issues"])

	inspections, err := h.db.ListTasks(ctx, models.TaskFilter{BookingID: h.booking, Type: models.TaskInspection,
		Status: models.StatusPending})
	require.NoError(t, err)
	require.Len(t, inspections, 1)
	assert.Len(t, inspections[0].DependsOn, 2)

	tl, err := h.db.GetTimeline(ctx, h.booking)
	require.NoError(t, err)
	assert.Len(t, tl.TaskIDs, 8)
	assert.Equal(t, models.PhaseInspection, tl.Phase)

	booking, err := h.db.GetBooking(ctx, h.booking)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCheckedOut, booking.Status)
}

func TestSubmitInspection_ReinspectionAfterRepairs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.cleaned(t)

	res, err := h.engine.SubmitInspection(ctx, InspectionRequest{
		TaskID: h.tasks[models.TaskInspection].ID,
		Issues: []models.Issue{{Description: "Leaking tap", Severity: models.SeverityMedium, RequiresBlocking: true}},
	})
	require.NoError(t, err)
	require.Len(t, res.Spawned, 2)
	repair, reinspection := res.Spawned[0], res.Spawned[1]
	assert.Equal(t, models.PriorityHigh, repair.Priority)

	_, err = h.engine.SubmitInspection(ctx, InspectionRequest{TaskID: reinspection.ID, Passed: true})
	assert.ErrorIs(t, err, domain.ErrDependenciesUnmet)

	for _, to := range []models.TaskStatus{models.StatusInProgress, models.StatusCompleted} {
		_, err := h.engine.Transition(ctx, TransitionRequest{TaskID: repair.ID, NewStatus: to})
		require.NoError(t, err)
	}
	got, err := h.db.GetTask(ctx, reinspection.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, got.Status)

	_, err = h.engine.SubmitInspection(ctx, InspectionRequest{TaskID: reinspection.ID, Passed: true})
	require.NoError(t, err)

	property, err := h.db.GetProperty(ctx, "villa-1")
	require.NoError(t, err)
	assert.False(t, property.Blocked)
}

func TestSubmitInspection_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inspectionID := h.tasks[models.TaskInspection].ID

	tests := []InspectionRequest{
		{TaskID: ""},
		{TaskID: inspectionID},
		{TaskID: inspectionID, Issues: []models.Issue{{Description: "", Severity: models.SeverityLow}}},
		{TaskID: inspectionID, Issues: []models.Issue{{Description: "dust", Severity: "extreme"}}},
		{TaskID: h.tasks[models.TaskCleaning].ID, Passed: true},
	}
	for _, req := range tests {
		_, err := h.engine.SubmitInspection(ctx, req)
		assert.True(t, domain.IsValidation(err), "%+v", req)
	}

	// Cleaning is not done yet.
	_, err := h.engine.SubmitInspection(ctx, InspectionRequest{TaskID: inspectionID, Passed: true})
	assert.ErrorIs(t, err, domain.ErrDependenciesUnmet)
}

func TestMaintenancePriority(t *testing.T) {
	assert.Equal(t, models.PriorityUrgent, maintenancePriority(models.SeverityHigh))
	assert.Equal(t, models.PriorityHigh, maintenancePriority(models.SeverityMedium))
	assert.Equal(t, models.PriorityMedium, maintenancePriority(models.SeverityLow))
}
