package lifecycle

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"villaops/internal/domain"
	"villaops/internal/models"
	"villaops/internal/timeline"
)

// InspectionRequest is the structured outcome of an inspection.
type InspectionRequest struct {
	TaskID        string         `json:"taskId"`
	Passed        bool           `json:"passed"`
	Issues        []models.Issue `json:"issuesFound,omitempty"`
	ApprovalNotes string         `json:"approvalNotes,omitempty"`
	ActorID       string         `json:"actorId,omitempty"`
}

// InspectionResult carries the spawned maintenance tasks and re-inspection of a failed run.
type InspectionResult struct {
	Task     *models.Task     `json:"task"`
	Timeline *models.Timeline `json:"timeline"`
	Spawned  []*models.Task   `json:"spawned,omitempty"`
	Alert    *models.Alert    `json:"alert"`
}

const (
	maintenanceMinutes  = 60
	reinspectionMinutes = 60
)

// SubmitInspection records an inspection run. A pass makes the booking ready and unblocks
// the property; a failure spawns one maintenance task per issue plus a re-inspection.
func (e *Engine) SubmitInspection(ctx context.Context, req InspectionRequest) (*InspectionResult, error) {
	if req.TaskID == "" {
		return nil, domain.Invalid("taskId", "is required")
	}
	if !req.Passed {
		if err := validateIssues(req.Issues); err != nil {
			return nil, err
		}
	}

	task, err := e.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if task.Type != models.TaskInspection {
		return nil, domain.Invalid("type", fmt.Sprintf("task %s is %s, not an inspection", task.ID, task.Type))
	}
	switch task.Status {
	case models.StatusPending, models.StatusAssigned, models.StatusInProgress:
	default:
		return nil, domain.Invalid("status", fmt.Sprintf("inspection %s is already %s", task.ID, task.Status))
	}
	if err := e.checkDependencies(ctx, task); err != nil {
		return nil, err
	}

	tl, err := e.store.GetTimeline(ctx, task.BookingID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	next := *task
	next.UpdatedAt = now
	next.ApprovalNotes = req.ApprovalNotes

	batch := &domain.TransitionBatch{
		Task:           &next,
		ExpectedStatus: task.Status,
		RequireSuccess: task.DependsOn,
		PropertyID:     task.PropertyID,
		Timeline:       tl,
	}

	var spawned []*models.Task
	var alert *models.Alert
	if req.Passed {
		alert = e.pass(&next, batch, now)
		if batch.Activations, err = e.activations(ctx, &next); err != nil {
			return nil, err
		}
	} else {
		spawned, alert = e.fail(ctx, &next, req.Issues, batch, now)
		if err := e.refreshTimeline(ctx, tl, &next, spawned, now); err != nil {
			return nil, err
		}
	}

	res, err := e.store.ApplyTransition(ctx, batch)
	if err != nil {
		return nil, err
	}

	e.afterCommit(ctx, &committed{
		task:      &next,
		from:      task.Status,
		actor:     req.ActorID,
		activated: res.Activated,
		spawned:   spawned,
		alerts:    batch.Alerts,
	})
	return &InspectionResult{Task: &next, Timeline: tl, Spawned: spawned, Alert: alert}, nil
}

func (e *Engine) pass(task *models.Task, batch *domain.TransitionBatch, now time.Time) *models.Alert {
	task.Status = models.StatusApproved
	task.Issues = nil
	task.CompletedAt = &now

	unblocked := false
	batch.PropertyBlocked = &unblocked
	batch.BookingID = task.BookingID
	batch.BookingStatus = models.BookingStatusReady

	tl := batch.Timeline
	tl.Phase = models.PhaseReady
	tl.CompletionPercent = 100
	tl.ActualReadyAt = &now
	tl.UpdatedAt = now

	alert := &models.Alert{
		ID:        e.newID(),
		Type:      models.AlertTimelineComplete,
		Severity:  models.SeverityLow,
		Message:   fmt.Sprintf("%s is ready for the next guest", task.PropertyName),
		Context:   alertContext(task),
		CreatedAt: now,
	}
	batch.Alerts = []*models.Alert{alert}
	return alert
}

func (e *Engine) fail(ctx context.Context, task *models.Task, issues []models.Issue, batch *domain.TransitionBatch, now time.Time) ([]*models.Task, *models.Alert) {
	task.Status = models.StatusFailed
	task.Issues = issues

	reinspection := &models.Task{
		ID:               e.newID(),
		BookingID:        task.BookingID,
		PropertyID:       task.PropertyID,
		PropertyName:     task.PropertyName,
		Type:             models.TaskInspection,
		Title:            "Re-inspection - " + task.PropertyName,
		Priority:         models.PriorityHigh,
		Status:           models.StatusPending,
		ScheduledAt:      now.Add(maintenanceMinutes * time.Minute),
		EstimatedMinutes: reinspectionMinutes,
		Triggers:         []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	var spawned []*models.Task
	block, severe := false, false
	for _, issue := range issues {
		repair := &models.Task{
			ID:               e.newID(),
			BookingID:        task.BookingID,
			PropertyID:       task.PropertyID,
			PropertyName:     task.PropertyName,
			Type:             models.TaskMaintenance,
			Title:            "Repair: " + issue.Description,
			Priority:         maintenancePriority(issue.Severity),
			Status:           models.StatusPending,
			ScheduledAt:      now,
			EstimatedMinutes: maintenanceMinutes,
			DependsOn:        []string{},
			Triggers:         []string{reinspection.ID},
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if staff := e.match(ctx, repair); staff != nil {
			repair.Status = models.StatusAssigned
			repair.AssignedStaffID, repair.AssignedStaffName = staff.ID, staff.Name
		}
		reinspection.DependsOn = append(reinspection.DependsOn, repair.ID)
		spawned = append(spawned, repair)

		block = block || issue.RequiresBlocking
		severe = severe || issue.Severity == models.SeverityHigh
	}
	spawned = append(spawned, reinspection)
	batch.Spawn = spawned

	if block {
		blocked := true
		batch.PropertyBlocked = &blocked
	}

	severity := models.SeverityHigh
	if block || severe {
		severity = models.SeverityCritical
	}
	ctxMap := alertContext(task)
	ctxMap["issues"] = strconv.Itoa(len(issues))
	ctxMap["blocked"] = strconv.FormatBool(block)
	alert := &models.Alert{
		ID:        e.newID(),
		Type:      models.AlertIssueFound,
		Severity:  severity,
		Message:   fmt.Sprintf("Inspection failed at %s: %s", task.PropertyName, describeIssues(issues)),
		Context:   ctxMap,
		CreatedAt: now,
	}
	batch.Alerts = []*models.Alert{alert}
	return spawned, alert
}

// refreshTimeline extends tl with the spawned tasks and re-derives its aggregate.
func (e *Engine) refreshTimeline(ctx context.Context, tl *models.Timeline, task *models.Task, spawned []*models.Task, now time.Time) error {
	current, err := e.store.GetTasks(ctx, tl.TaskIDs)
	if err != nil {
		return err
	}
	tasks := make([]*models.Task, 0, len(current)+len(spawned))
	for _, t := range current {
		if t.ID == task.ID {
			t = task
		}
		tasks = append(tasks, t)
	}
	for _, t := range spawned {
		tl.TaskIDs = append(tl.TaskIDs, t.ID)
		tasks = append(tasks, t)
		if end := t.ScheduledAt.Add(time.Duration(t.EstimatedMinutes) * time.Minute); end.After(tl.EstimatedReadyAt) {
			tl.EstimatedReadyAt = end
		}
	}
	timeline.Aggregate(tl, tasks, now)
	return nil
}

func validateIssues(issues []models.Issue) error {
	if len(issues) == 0 {
		return domain.Invalid("issuesFound", "a failed inspection must report at least one issue")
	}
	for i, issue := range issues {
		field := fmt.Sprintf("issuesFound[%d]", i)
		if strings.TrimSpace(issue.Description) == "" {
			return domain.Invalid(field+".description", "is required")
		}
		switch issue.Severity {
		case models.SeverityLow, models.SeverityMedium, models.SeverityHigh:
		default:
			return domain.Invalid(field+".severity", fmt.Sprintf("unknown severity %q", issue.Severity))
		}
	}
	return nil
}

func describeIssues(issues []models.Issue) string {
	parts := make([]string, 0, len(issues))
	for _, issue := range issues {
		parts = append(parts, fmt.Sprintf("%s (%s)", issue.Description, issue.Severity))
	}
	return strings.Join(parts, "; ")
}

func alertContext(task *models.Task) map[string]string {
	return map[string]string{
		"bookingId":  task.BookingID,
		"propertyId": task.PropertyID,
		"taskId":     task.ID,
	}
}
