package database

import (
	"context"
	"database/sql"
	"time"

	"villaops/internal/models"

	"github.com/google/uuid"
)

// Delivery statuses of the notification outbox.
const (
	DeliveryPending    = "pending"
	DeliveryRetry      = "retry"
	DeliveryProcessing = "processing"
	DeliveryCompleted  = "completed"
	DeliveryFailed     = "failed"
)

func (db *DB) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	channels, err := encodeJSON(n.Channels)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO notifications
		(id, recipient_id, title, message, channels, priority, related_task_id, related_booking_id, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.RecipientID, n.Title, n.Message, channels, string(n.Priority),
		n.RelatedTaskID, n.RelatedBookingID, boolToInt(n.Read), formatTime(n.CreatedAt))
	if err != nil {
		return storeErr("create notification", err)
	}
	return nil
}

func (db *DB) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	var n models.Notification
	var channels, priority, createdAt string
	var read int
	err := db.QueryRowContext(ctx, `SELECT id, recipient_id, title, message, channels, priority,
			related_task_id, related_booking_id, read, created_at
		FROM notifications WHERE id = ?`, id).
		Scan(&n.ID, &n.RecipientID, &n.Title, &n.Message, &channels, &priority,
			&n.RelatedTaskID, &n.RelatedBookingID, &read, &createdAt)
	if err != nil {
		return nil, storeErr("get notification", err)
	}
	n.Priority = models.Priority(priority)
	n.Read = read == 1
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(channels, &n.Channels); err != nil {
		return nil, err
	}
	return &n, nil
}

// CreateDelivery queues one channel delivery. A notification/channel pair is queued once.
func (db *DB) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	now := time.Now()
	if d.Status == "" {
		d.Status = DeliveryPending
	}
	result, err := db.ExecContext(ctx, `INSERT INTO deliveries
		(notification_id, channel, status, retry_count, last_error, created_at, next_retry_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.NotificationID, string(d.Channel), d.Status, d.RetryCount, d.LastError,
		formatTime(now), formatNullTime(d.NextRetryAt))
	if err != nil {
		return storeErr("create delivery", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return storeErr("create delivery", err)
	}
	d.ID = id
	d.CreatedAt = now
	return nil
}

// GetPendingDeliveries returns queued deliveries whose retry time has come, oldest first.
func (db *DB) GetPendingDeliveries(ctx context.Context, limit int) ([]models.Delivery, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, notification_id, channel, status, retry_count, last_error,
			created_at, processed_at, next_retry_at
		FROM deliveries
		WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at ASC, id ASC LIMIT ?`,
		DeliveryPending, DeliveryRetry, formatTime(time.Now()), limit)
	if err != nil {
		return nil, storeErr("get pending deliveries", err)
	}
	defer rows.Close()

	var deliveries []models.Delivery
	for rows.Next() {
		var d models.Delivery
		var channel, createdAt string
		var lastError, processedAt, nextRetryAt sql.NullString
		if err := rows.Scan(&d.ID, &d.NotificationID, &channel, &d.Status, &d.RetryCount, &lastError,
			&createdAt, &processedAt, &nextRetryAt); err != nil {
			return nil, storeErr("scan delivery", err)
		}
		d.Channel = models.Channel(channel)
		if lastError.Valid {
			msg := lastError.String
			d.LastError = &msg
		}
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if d.ProcessedAt, err = parseNullTime(processedAt); err != nil {
			return nil, err
		}
		if d.NextRetryAt, err = parseNullTime(nextRetryAt); err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("get pending deliveries", err)
	}
	return deliveries, nil
}

func (db *DB) UpdateDeliveryStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	lastError := sql.NullString{String: errMsg, Valid: errMsg != ""}

	switch status {
	case DeliveryRetry:
		query = `UPDATE deliveries SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, lastError, formatNullTime(nextRetryAt), id}
	case DeliveryCompleted, DeliveryFailed:
		query = `UPDATE deliveries SET status = ?, last_error = ?, next_retry_at = NULL, processed_at = ? WHERE id = ?`
		args = []interface{}{status, lastError, formatTime(time.Now()), id}
	default:
		query = `UPDATE deliveries SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, lastError, formatNullTime(nextRetryAt), id}
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeErr("update delivery status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storeErr("update delivery status", sql.ErrNoRows)
	}
	return nil
}

// ClaimDelivery moves a queued delivery to processing. Only one caller wins; a delivery
// that is already being processed or finished returns false.
func (db *DB) ClaimDelivery(ctx context.Context, id int64) (bool, error) {
	res, err := db.ExecContext(ctx, `UPDATE deliveries SET status = ? WHERE id = ? AND status IN (?, ?)`,
		DeliveryProcessing, id, DeliveryPending, DeliveryRetry)
	if err != nil {
		return false, storeErr("claim delivery", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("claim delivery", err)
	}
	return n == 1, nil
}

// MarkInAppDelivered makes the notification visible in the staff inbox.
func (db *DB) MarkInAppDelivered(ctx context.Context, notificationID string) error {
	res, err := db.ExecContext(ctx, `UPDATE notifications SET delivered_in_app = 1 WHERE id = ?`, notificationID)
	if err != nil {
		return storeErr("mark in-app delivered", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storeErr("mark in-app delivered", sql.ErrNoRows)
	}
	return nil
}
