package domain

import (
	"context"
	"time"

	"villaops/internal/models"
)

// Activation moves one downstream task from pending to assigned.
type Activation struct {
	TaskID    string
	StaffID   string
	StaffName string
}

// TransitionBatch is every write of one lifecycle transition. The store applies it
// in a single transaction or not at all.
type TransitionBatch struct {
	Task           *models.Task
	ExpectedStatus models.TaskStatus
	// RequireSuccess lists task ids that must be completed or approved at commit time.
	RequireSuccess []string
	// Activations are candidates. Each is applied only if the task is still pending and
	// all of its dependencies succeeded, as seen inside the transaction.
	Activations []Activation

	BookingID     string
	BookingStatus string

	PropertyID      string
	PropertyBlocked *bool

	Spawn    []*models.Task
	Timeline *models.Timeline
	Alerts   []*models.Alert
}

// TransitionResult reports which activations actually changed a row.
type TransitionResult struct {
	Activated []Activation
}

type TaskStore interface {
	CreateTimeline(ctx context.Context, booking *models.Booking, property *models.Property, timeline *models.Timeline, tasks []*models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	GetTasks(ctx context.Context, ids []string) ([]*models.Task, error)
	ListTasks(ctx context.Context, filter models.TaskFilter) ([]*models.Task, error)
	AssignTask(ctx context.Context, taskID string, expected models.TaskStatus, staffID, staffName string) error
	ApplyTransition(ctx context.Context, batch *TransitionBatch) (*TransitionResult, error)
	GetTimeline(ctx context.Context, bookingID string) (*models.Timeline, error)
	ListOpenTimelines(ctx context.Context) ([]*models.Timeline, error)
	UpdateTimelineAggregate(ctx context.Context, timeline *models.Timeline) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetProperty(ctx context.Context, id string) (*models.Property, error)
}

type OfferStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	CreateOffer(ctx context.Context, offer *models.Offer) error
	GetOffer(ctx context.Context, id string) (*models.Offer, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	AcceptOffer(ctx context.Context, offerID string, now time.Time) (*models.Job, error)
	StartJob(ctx context.Context, jobID string, now time.Time) error
	ExpireStaleOffers(ctx context.Context, cutoff, now time.Time) ([]*models.Offer, error)
	MarkStuckJobs(ctx context.Context, from, to string, cutoff, now time.Time) ([]*models.Job, error)
}

type AlertStore interface {
	CreateAlert(ctx context.Context, alert *models.Alert) error
	ListAlerts(ctx context.Context, resolved *bool) ([]*models.Alert, error)
	ResolveAlert(ctx context.Context, id string, now time.Time) error
}

type StaffStore interface {
	UpsertStaff(ctx context.Context, staff *models.Staff) error
	GetStaff(ctx context.Context, id string) (*models.Staff, error)
	ListAvailableStaff(ctx context.Context, skill string) ([]*models.Staff, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetNotification(ctx context.Context, id string) (*models.Notification, error)
	CreateDelivery(ctx context.Context, d *models.Delivery) error
	GetPendingDeliveries(ctx context.Context, limit int) ([]models.Delivery, error)
	ClaimDelivery(ctx context.Context, id int64) (bool, error)
	UpdateDeliveryStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
	MarkInAppDelivered(ctx context.Context, notificationID string) error
}

// StaffDirectory picks an assignee. It returns nil, nil when nobody matches.
type StaffDirectory interface {
	Match(ctx context.Context, task *models.Task) (*models.Staff, error)
}

// NotificationGateway fans a notification out across its channels.
type NotificationGateway interface {
	Dispatch(ctx context.Context, n *models.Notification) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Clock abstracts time for sweeps and transitions.
type Clock func() time.Time

// DedupeStore remembers keys that were already claimed. Claim reports true only for the
// first caller of a key within ttl.
type DedupeStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
