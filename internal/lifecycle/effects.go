package lifecycle

import (
	"context"
	"fmt"

	"villaops/internal/events"
	"villaops/internal/metrics"
	"villaops/internal/models"
)

// afterCommit runs the best-effort effects of a committed batch. Nothing here can undo
// or fail the transition.
func (e *Engine) afterCommit(ctx context.Context, c *committed) {
	now := e.now()
	task := c.task

	metrics.IncTransition(string(task.Type), string(task.Status))
	e.logger.Info().
		Str("task_id", task.ID).
		Str("booking_id", task.BookingID).
		Str("type", string(task.Type)).
		Str("from", string(c.from)).
		Str("to", string(task.Status)).
		Int("activated", len(c.activated)).
		Int("spawned", len(c.spawned)).
		Msg("task transition committed")

	e.publish(events.TaskChangedPayload{
		TaskID:          task.ID,
		BookingID:       task.BookingID,
		PropertyID:      task.PropertyID,
		TaskType:        string(task.Type),
		From:            string(c.from),
		To:              string(task.Status),
		AssignedStaffID: task.AssignedStaffID,
		ChangedBy:       c.actor,
		ChangedAt:       now,
	})
	if c.assigned {
		e.notifyAssignee(ctx, task, task.AssignedStaffID)
	}

	for _, act := range c.activated {
		e.publish(events.TaskChangedPayload{
			TaskID:          act.TaskID,
			BookingID:       task.BookingID,
			PropertyID:      task.PropertyID,
			From:            string(models.StatusPending),
			To:              string(models.StatusAssigned),
			AssignedStaffID: act.StaffID,
			ChangedBy:       "cascade:" + task.ID,
			ChangedAt:       now,
		})
		if act.StaffID == "" {
			continue
		}
		downstream := &models.Task{
			ID:           act.TaskID,
			BookingID:    task.BookingID,
			PropertyName: task.PropertyName,
			Priority:     models.PriorityHigh,
		}
		if loaded, err := e.store.GetTask(ctx, act.TaskID); err == nil {
			downstream = loaded
		}
		e.notifyAssignee(ctx, downstream, act.StaffID)
	}

	for _, t := range c.spawned {
		e.publish(events.TaskChangedPayload{
			TaskID:          t.ID,
			BookingID:       t.BookingID,
			PropertyID:      t.PropertyID,
			TaskType:        string(t.Type),
			To:              string(t.Status),
			AssignedStaffID: t.AssignedStaffID,
			ChangedBy:       "inspection:" + task.ID,
			ChangedAt:       now,
		})
		if t.AssignedStaffID != "" {
			e.notifyAssignee(ctx, t, t.AssignedStaffID)
		}
	}

	for _, a := range c.alerts {
		metrics.IncAlert(a.Type, a.Severity)
		if e.events != nil {
			_ = e.events.PublishJSON(events.EventAlertRaised, events.AlertPayload{
				AlertID: a.ID, Type: a.Type, Severity: a.Severity, Message: a.Message,
			})
		}
	}
}

func (e *Engine) publish(p events.TaskChangedPayload) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishJSON(events.EventTaskStatusChanged, p); err != nil {
		e.logger.Warn().Err(err).Str("task_id", p.TaskID).Msg("failed to publish task event")
	}
}

// notifyAssignee sends the activation notice of task to staffID. The notification id is
// derived from the task and assignee, so a repeated cascade is deduplicated by the gateway.
func (e *Engine) notifyAssignee(ctx context.Context, task *models.Task, staffID string) {
	if e.notifier == nil {
		return
	}
	n := &models.Notification{
		ID:               fmt.Sprintf("task-activated:%s:%s", task.ID, staffID),
		RecipientID:      staffID,
		Title:            "New task: " + task.Title,
		Message:          activationMessage(task),
		Channels:         e.channels,
		Priority:         task.Priority,
		RelatedTaskID:    task.ID,
		RelatedBookingID: task.BookingID,
	}
	if err := e.notifier.Dispatch(ctx, n); err != nil {
		e.logger.Warn().Err(err).Str("notification_id", n.ID).Msg("notification dispatch failed")
	}
}

func activationMessage(task *models.Task) string {
	if task.ScheduledAt.IsZero() {
		return fmt.Sprintf("%s at %s is ready for you.", task.Title, task.PropertyName)
	}
	return fmt.Sprintf("%s at %s is ready for you. Scheduled %s.",
		task.Title, task.PropertyName, task.ScheduledAt.Format("Jan 2 15:04 MST"))
}
