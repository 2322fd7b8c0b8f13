package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"villaops/internal/domain"
	"villaops/internal/models"
)

const taskColumns = `id, booking_id, property_id, property_name, type, title, priority, status,
	scheduled_at, estimated_minutes, assigned_staff_id, assigned_staff_name, depends_on, triggers,
	photo_refs, checklist_completed, evidence_notes, issues, approval_notes, completed_at,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CreateTimeline persists the booking, its property, the timeline and the whole task graph
// in one transaction. A second call for the same booking returns ErrAlreadyExists.
func (db *DB) CreateTimeline(
	ctx context.Context,
	booking *models.Booking,
	property *models.Property,
	timeline *models.Timeline,
	tasks []*models.Task,
) error {
	if booking == nil || property == nil || timeline == nil {
		return errors.New("create timeline: booking, property and timeline are required")
	}

	return db.withTx(ctx, "create timeline", func(tx *sql.Tx) error {
		now := time.Now()

		_, err := tx.ExecContext(ctx, `INSERT INTO properties (id, name, address, blocked, updated_at)
			VALUES (?, ?, ?, 0, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				address = CASE WHEN excluded.address <> '' THEN excluded.address ELSE address END,
				updated_at = excluded.updated_at`,
			property.ID, property.Name, property.Address, formatTime(now))
		if err != nil {
			return storeErr("upsert property", err)
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO bookings (
				id, property_id, property_name, guest_name, check_in, check_out, status, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				property_id = excluded.property_id,
				property_name = excluded.property_name,
				guest_name = excluded.guest_name,
				check_in = excluded.check_in,
				check_out = excluded.check_out,
				updated_at = excluded.updated_at`,
			booking.ID, booking.PropertyID, booking.PropertyName, booking.GuestName,
			formatTime(booking.CheckIn), formatTime(booking.CheckOut), booking.Status,
			formatTime(now), formatTime(now))
		if err != nil {
			return storeErr("upsert booking", err)
		}

		taskIDs, err := encodeJSON(timeline.TaskIDs)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO timelines (
				booking_id, property_id, task_ids, phase, completion_percent, estimated_ready_at,
				actual_ready_at, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			timeline.BookingID, timeline.PropertyID, taskIDs, string(timeline.Phase),
			timeline.CompletionPercent, formatTime(timeline.EstimatedReadyAt),
			formatNullTime(timeline.ActualReadyAt), formatTime(timeline.CreatedAt), formatTime(timeline.UpdatedAt))
		if err != nil {
			return storeErr("insert timeline", err)
		}

		for _, task := range tasks {
			if err := insertTask(ctx, tx, task); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertTask(ctx context.Context, q queryer, task *models.Task) error {
	dependsOn, err := encodeJSON(nonNil(task.DependsOn))
	if err != nil {
		return err
	}
	triggers, err := encodeJSON(nonNil(task.Triggers))
	if err != nil {
		return err
	}
	photos, err := encodeJSON(nonNil(task.Evidence.PhotoRefs))
	if err != nil {
		return err
	}
	issues, err := encodeJSON(task.Issues)
	if err != nil {
		return err
	}

	query := `INSERT INTO tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = q.ExecContext(ctx, query,
		task.ID,
		task.BookingID,
		task.PropertyID,
		task.PropertyName,
		string(task.Type),
		task.Title,
		string(task.Priority),
		string(task.Status),
		formatTime(task.ScheduledAt),
		task.EstimatedMinutes,
		task.AssignedStaffID,
		task.AssignedStaffName,
		dependsOn,
		triggers,
		photos,
		boolToInt(task.Evidence.ChecklistCompleted),
		task.Evidence.Notes,
		issues,
		task.ApprovalNotes,
		formatNullTime(task.CompletedAt),
		formatTime(task.CreatedAt),
		formatTime(task.UpdatedAt),
	)
	if err != nil {
		return storeErr("insert task", err)
	}
	return nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	var task models.Task
	var taskType, priority, status string
	var scheduledAt, createdAt, updatedAt string
	var dependsOn, triggers, photos, issues string
	var checklist int
	var completedAt sql.NullString

	err := row.Scan(
		&task.ID, &task.BookingID, &task.PropertyID, &task.PropertyName, &taskType, &task.Title,
		&priority, &status, &scheduledAt, &task.EstimatedMinutes, &task.AssignedStaffID,
		&task.AssignedStaffName, &dependsOn, &triggers, &photos, &checklist, &task.Evidence.Notes,
		&issues, &task.ApprovalNotes, &completedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Type = models.TaskType(taskType)
	task.Priority = models.Priority(priority)
	task.Status = models.TaskStatus(status)
	task.Evidence.ChecklistCompleted = checklist == 1

	if task.ScheduledAt, err = parseTime(scheduledAt); err != nil {
		return nil, err
	}
	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if task.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if task.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(dependsOn, &task.DependsOn); err != nil {
		return nil, err
	}
	if err := decodeJSON(triggers, &task.Triggers); err != nil {
		return nil, err
	}
	if err := decodeJSON(photos, &task.Evidence.PhotoRefs); err != nil {
		return nil, err
	}
	if err := decodeJSON(issues, &task.Issues); err != nil {
		return nil, err
	}
	return &task, nil
}

func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		return nil, storeErr("get task", err)
	}
	return task, nil
}

// GetTasks loads the given ids ordered by schedule. Missing ids are skipped.
func (db *DB) GetTasks(ctx context.Context, ids []string) ([]*models.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(ids)
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id IN (` + placeholders + `) ORDER BY scheduled_at ASC, id ASC`
	return db.queryTasks(ctx, "get tasks", query, args...)
}

// ListTasks answers the dashboard queries: by booking, property, status, type and
// scheduled-time range.
func (db *DB) ListTasks(ctx context.Context, filter models.TaskFilter) ([]*models.Task, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.BookingID != "" {
		conds = append(conds, "booking_id = ?")
		args = append(args, filter.BookingID)
	}
	if filter.PropertyID != "" {
		conds = append(conds, "property_id = ?")
		args = append(args, filter.PropertyID)
	}
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.ScheduledFrom.IsZero() {
		conds = append(conds, "scheduled_at >= ?")
		args = append(args, formatTime(filter.ScheduledFrom))
	}
	if !filter.ScheduledTo.IsZero() {
		conds = append(conds, "scheduled_at <= ?")
		args = append(args, formatTime(filter.ScheduledTo))
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY scheduled_at ASC, id ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return db.queryTasks(ctx, "list tasks", query, args...)
}

func (db *DB) queryTasks(ctx context.Context, op, query string, args ...interface{}) ([]*models.Task, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return tasks, nil
}

// AssignTask sets the assignee, conditional on the task still being in the expected status.
// A pending task moves to assigned; any other status is kept.
func (db *DB) AssignTask(ctx context.Context, taskID string, expected models.TaskStatus, staffID, staffName string) error {
	res, err := db.ExecContext(ctx, `UPDATE tasks
		SET status = CASE WHEN status = ? THEN ? ELSE status END,
			assigned_staff_id = ?, assigned_staff_name = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(models.StatusPending), string(models.StatusAssigned), staffID, staffName,
		formatTime(time.Now()), taskID, string(expected))
	if err != nil {
		return storeErr("assign task", err)
	}
	return db.checkConditional(ctx, db.DB, res, taskID)
}

// ApplyTransition writes one lifecycle transition and all of its cascades atomically.
func (db *DB) ApplyTransition(ctx context.Context, batch *domain.TransitionBatch) (*domain.TransitionResult, error) {
	if batch == nil || batch.Task == nil {
		return nil, errors.New("apply transition: task is required")
	}

	result := &domain.TransitionResult{}
	err := db.withTx(ctx, "apply transition", func(tx *sql.Tx) error {
		now := formatTime(time.Now())

		if len(batch.RequireSuccess) > 0 {
			if err := requireSuccess(ctx, tx, batch.RequireSuccess); err != nil {
				return err
			}
		}

		if err := updateTask(ctx, tx, batch.Task, batch.ExpectedStatus); err != nil {
			return err
		}

		for _, act := range batch.Activations {
			ready, err := dependenciesDone(ctx, tx, act.TaskID)
			if err != nil {
				return err
			}
			if !ready {
				continue
			}
			res, err := tx.ExecContext(ctx, `UPDATE tasks
				SET status = ?,
					assigned_staff_id = CASE WHEN ? <> '' THEN ? ELSE assigned_staff_id END,
					assigned_staff_name = CASE WHEN ? <> '' THEN ? ELSE assigned_staff_name END,
					updated_at = ?
				WHERE id = ? AND status = ?`,
				string(models.StatusAssigned), act.StaffID, act.StaffID, act.StaffName, act.StaffName,
				now, act.TaskID, string(models.StatusPending))
			if err != nil {
				return storeErr("activate task", err)
			}
			if n, _ := res.RowsAffected(); n == 1 {
				result.Activated = append(result.Activated, act)
			}
		}

		if batch.BookingID != "" && batch.BookingStatus != "" {
			res, err := tx.ExecContext(ctx, `UPDATE bookings SET status = ?, updated_at = ? WHERE id = ?`,
				batch.BookingStatus, now, batch.BookingID)
			if err != nil {
				return storeErr("update booking status", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("update booking %s: %w", batch.BookingID, domain.ErrNotFound)
			}
		}

		if batch.PropertyID != "" && batch.PropertyBlocked != nil {
			res, err := tx.ExecContext(ctx, `UPDATE properties SET blocked = ?, updated_at = ? WHERE id = ?`,
				boolToInt(*batch.PropertyBlocked), now, batch.PropertyID)
			if err != nil {
				return storeErr("update property", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("update property %s: %w", batch.PropertyID, domain.ErrNotFound)
			}
		}

		for _, task := range batch.Spawn {
			if err := insertTask(ctx, tx, task); err != nil {
				return err
			}
		}

		if batch.Timeline != nil {
			if err := replaceTimeline(ctx, tx, batch.Timeline); err != nil {
				return err
			}
		}

		for _, alert := range batch.Alerts {
			if err := insertAlert(ctx, tx, alert); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func requireSuccess(ctx context.Context, tx *sql.Tx, ids []string) error {
	done, total, err := countSuccess(ctx, tx, ids)
	if err != nil {
		return err
	}
	if unmet := total - done; unmet > 0 {
		return &domain.ValidationError{
			Field:  "depends_on",
			Reason: fmt.Sprintf("%d of %d dependencies not completed", unmet, total),
			Err:    domain.ErrDependenciesUnmet,
		}
	}
	return nil
}

// dependenciesDone reads a task's dependencies inside tx, so writes made earlier in the
// same transaction count.
func dependenciesDone(ctx context.Context, tx *sql.Tx, taskID string) (bool, error) {
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT depends_on FROM tasks WHERE id = ?`, taskID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("load dependencies", err)
	}
	var deps []string
	if err := decodeJSON(raw, &deps); err != nil {
		return false, err
	}
	done, total, err := countSuccess(ctx, tx, deps)
	if err != nil {
		return false, err
	}
	return done == total, nil
}

// countSuccess counts the distinct ids among ids that are completed or approved.
func countSuccess(ctx context.Context, tx *sql.Tx, ids []string) (done, total int, err error) {
	unique := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		unique[id] = struct{}{}
	}
	if len(unique) == 0 {
		return 0, 0, nil
	}
	list := make([]string, 0, len(unique))
	for id := range unique {
		list = append(list, id)
	}

	placeholders, args := inClause(list)
	args = append(args, string(models.StatusCompleted), string(models.StatusApproved))
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE id IN (`+placeholders+`) AND status IN (?, ?)`, args...).Scan(&done)
	if err != nil {
		return 0, 0, storeErr("check dependencies", err)
	}
	return done, len(list), nil
}

func updateTask(ctx context.Context, tx *sql.Tx, task *models.Task, expected models.TaskStatus) error {
	photos, err := encodeJSON(nonNil(task.Evidence.PhotoRefs))
	if err != nil {
		return err
	}
	issues, err := encodeJSON(task.Issues)
	if err != nil {
		return err
	}
	triggers, err := encodeJSON(nonNil(task.Triggers))
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `UPDATE tasks SET
			priority = ?, status = ?, assigned_staff_id = ?, assigned_staff_name = ?, triggers = ?,
			photo_refs = ?, checklist_completed = ?, evidence_notes = ?, issues = ?,
			approval_notes = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(task.Priority), string(task.Status), task.AssignedStaffID, task.AssignedStaffName, triggers,
		photos, boolToInt(task.Evidence.ChecklistCompleted), task.Evidence.Notes, issues,
		task.ApprovalNotes, formatNullTime(task.CompletedAt), formatTime(task.UpdatedAt),
		task.ID, string(expected))
	if err != nil {
		return storeErr("update task", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 1 {
		return nil
	}

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, task.ID).Scan(&current)
	if err != nil {
		return storeErr("update task", err)
	}
	return fmt.Errorf("task %s is %s, expected %s: %w", task.ID, current, expected, domain.ErrConcurrentModification)
}

func (db *DB) checkConditional(ctx context.Context, q queryer, res sql.Result, taskID string) error {
	rows, _ := res.RowsAffected()
	if rows == 1 {
		return nil
	}
	var current string
	if err := q.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, taskID).Scan(&current); err != nil {
		return storeErr("load task", err)
	}
	return fmt.Errorf("task %s is %s: %w", taskID, current, domain.ErrConcurrentModification)
}

func inClause(values []string) (string, []interface{}) {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(values)), ","), args
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
