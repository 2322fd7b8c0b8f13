package models

import "time"

type Alert struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Severity   string            `json:"severity"`
	Message    string            `json:"message"`
	Resolved   bool              `json:"resolved"`
	Context    map[string]string `json:"context,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
}

type Notification struct {
	ID               string    `json:"id"`
	RecipientID      string    `json:"recipientId"`
	Title            string    `json:"title"`
	Message          string    `json:"message"`
	Channels         []Channel `json:"channels"`
	Priority         Priority  `json:"priority"`
	RelatedTaskID    string    `json:"relatedTaskId,omitempty"`
	RelatedBookingID string    `json:"relatedBookingId,omitempty"`
	Read             bool      `json:"read"`
	CreatedAt        time.Time `json:"created_at"`
}

// Delivery is one queued channel delivery of a notification.
type Delivery struct {
	ID             int64      `json:"id"`
	NotificationID string     `json:"notification_id"`
	Channel        Channel    `json:"channel"`
	Status         string     `json:"status"`
	RetryCount     int        `json:"retry_count"`
	LastError      *string    `json:"last_error"`
	CreatedAt      time.Time  `json:"created_at"`
	ProcessedAt    *time.Time `json:"processed_at"`
	NextRetryAt    *time.Time `json:"next_retry_at"`
}
