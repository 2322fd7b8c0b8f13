package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"villaops/internal/domain"
	"villaops/internal/models"

	"github.com/google/uuid"
)

func insertAlert(ctx context.Context, q queryer, alert *models.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}
	alertContext, err := encodeJSON(alert.Context)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO alerts (id, type, severity, message, resolved, context, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.Type, alert.Severity, alert.Message, boolToInt(alert.Resolved), alertContext,
		formatTime(alert.CreatedAt), formatNullTime(alert.ResolvedAt))
	if err != nil {
		return storeErr("insert alert", err)
	}
	return nil
}

func (db *DB) CreateAlert(ctx context.Context, alert *models.Alert) error {
	return insertAlert(ctx, db.DB, alert)
}

// ListAlerts returns alerts newest first; a nil filter returns both resolved and open ones.
func (db *DB) ListAlerts(ctx context.Context, resolved *bool) ([]*models.Alert, error) {
	query := `SELECT id, type, severity, message, resolved, context, created_at, resolved_at FROM alerts`
	var args []interface{}
	if resolved != nil {
		query += ` WHERE resolved = ?`
		args = append(args, boolToInt(*resolved))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list alerts", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		var a models.Alert
		var resolvedFlag int
		var alertContext, createdAt string
		var resolvedAt sql.NullString
		if err := rows.Scan(&a.ID, &a.Type, &a.Severity, &a.Message, &resolvedFlag, &alertContext,
			&createdAt, &resolvedAt); err != nil {
			return nil, storeErr("list alerts", err)
		}
		a.Resolved = resolvedFlag == 1
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if a.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
			return nil, err
		}
		if err := decodeJSON(alertContext, &a.Context); err != nil {
			return nil, err
		}
		alerts = append(alerts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list alerts", err)
	}
	return alerts, nil
}

// ResolveAlert is the human acknowledgement of an alert.
func (db *DB) ResolveAlert(ctx context.Context, id string, now time.Time) error {
	res, err := db.ExecContext(ctx, `UPDATE alerts SET resolved = 1, resolved_at = ? WHERE id = ? AND resolved = 0`,
		formatTime(now), id)
	if err != nil {
		return storeErr("resolve alert", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var exists int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE id = ?`, id).Scan(&exists); err != nil {
		return storeErr("resolve alert", err)
	}
	if exists == 0 {
		return fmt.Errorf("resolve alert %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
