package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"villaops/internal/domain"
	"villaops/internal/models"
)

const timelineColumns = `booking_id, property_id, task_ids, phase, completion_percent,
	estimated_ready_at, actual_ready_at, created_at, updated_at`

func scanTimeline(row rowScanner) (*models.Timeline, error) {
	var tl models.Timeline
	var taskIDs, phase, estimated, createdAt, updatedAt string
	var actual sql.NullString

	if err := row.Scan(&tl.BookingID, &tl.PropertyID, &taskIDs, &phase, &tl.CompletionPercent,
		&estimated, &actual, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	tl.Phase = models.Phase(phase)
	var err error
	if tl.EstimatedReadyAt, err = parseTime(estimated); err != nil {
		return nil, err
	}
	if tl.ActualReadyAt, err = parseNullTime(actual); err != nil {
		return nil, err
	}
	if tl.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if tl.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(taskIDs, &tl.TaskIDs); err != nil {
		return nil, err
	}
	return &tl, nil
}

func (db *DB) GetTimeline(ctx context.Context, bookingID string) (*models.Timeline, error) {
	row := db.QueryRowContext(ctx, `SELECT `+timelineColumns+` FROM timelines WHERE booking_id = ?`, bookingID)
	tl, err := scanTimeline(row)
	if err != nil {
		return nil, storeErr("get timeline", err)
	}
	return tl, nil
}

// ListOpenTimelines returns every timeline that has not reached the ready phase.
func (db *DB) ListOpenTimelines(ctx context.Context) ([]*models.Timeline, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+timelineColumns+` FROM timelines
		WHERE phase <> ? ORDER BY created_at ASC`, string(models.PhaseReady))
	if err != nil {
		return nil, storeErr("list timelines", err)
	}
	defer rows.Close()

	var timelines []*models.Timeline
	for rows.Next() {
		tl, err := scanTimeline(rows)
		if err != nil {
			return nil, storeErr("list timelines", err)
		}
		timelines = append(timelines, tl)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list timelines", err)
	}
	return timelines, nil
}

// UpdateTimelineAggregate stores a recomputed phase and completion. A timeline that is
// already ready is left untouched.
func (db *DB) UpdateTimelineAggregate(ctx context.Context, tl *models.Timeline) error {
	_, err := db.ExecContext(ctx, `UPDATE timelines
		SET phase = ?, completion_percent = ?, actual_ready_at = ?, updated_at = ?
		WHERE booking_id = ? AND phase <> ?`,
		string(tl.Phase), tl.CompletionPercent, formatNullTime(tl.ActualReadyAt), formatTime(time.Now()),
		tl.BookingID, string(models.PhaseReady))
	if err != nil {
		return storeErr("update timeline", err)
	}
	return nil
}

func replaceTimeline(ctx context.Context, q queryer, tl *models.Timeline) error {
	taskIDs, err := encodeJSON(tl.TaskIDs)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `UPDATE timelines
		SET task_ids = ?, phase = ?, completion_percent = ?, estimated_ready_at = ?,
			actual_ready_at = ?, updated_at = ?
		WHERE booking_id = ?`,
		taskIDs, string(tl.Phase), tl.CompletionPercent, formatTime(tl.EstimatedReadyAt),
		formatNullTime(tl.ActualReadyAt), formatTime(time.Now()), tl.BookingID)
	if err != nil {
		return storeErr("replace timeline", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("replace timeline %s: %w", tl.BookingID, domain.ErrNotFound)
	}
	return nil
}
