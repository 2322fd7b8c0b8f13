package models

import "time"

type TaskType string

const (
	TaskPreArrivalPrep       TaskType = "pre_arrival_prep"
	TaskCheckinInformational TaskType = "checkin_informational"
	TaskCheckout             TaskType = "checkout"
	TaskCleaning             TaskType = "cleaning"
	TaskInspection           TaskType = "inspection"
	TaskMaintenance          TaskType = "maintenance"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusAssigned   TaskStatus = "assigned"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusApproved   TaskStatus = "approved"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

// IsSuccess reports whether the status satisfies a dependency edge.
func (s TaskStatus) IsSuccess() bool {
	return s == StatusCompleted || s == StatusApproved
}

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusFailed || s == StatusCancelled
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

const (
	BookingStatusConfirmed  = "confirmed"
	BookingStatusCheckedOut = "checked_out"
	BookingStatusReady      = "ready"
)

type Phase string

const (
	PhasePreArrival Phase = "pre_arrival"
	PhaseOccupied   Phase = "occupied"
	PhaseCheckout   Phase = "checkout"
	PhaseCleaning   Phase = "cleaning"
	PhaseInspection Phase = "inspection"
	PhaseReady      Phase = "ready"
)

const (
	OfferSent     = "sent"
	OfferAccepted = "accepted"
	OfferExpired  = "expired"
)

const (
	JobOffered       = "offered"
	JobAccepted      = "accepted"
	JobStarted       = "started"
	JobStuckAccepted = "stuck_accepted"
	JobStuckStarted  = "stuck_started"
	JobCompleted     = "completed"
)

const (
	AlertMonitorFailure   = "timeout-monitor-failure"
	AlertStuckJob         = "stuck-job-alert"
	AlertIssueFound       = "issue-found"
	AlertTimelineComplete = "timeline-complete"
)

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
)

const (
	// DefaultOfferTimeout is how long a sent offer waits for acceptance.
	DefaultOfferTimeout = 15 * time.Minute

	// DefaultJobAcceptedTimeout is how long an accepted job may wait to start.
	DefaultJobAcceptedTimeout = 2 * time.Hour

	// DefaultJobStartedTimeout is how long a started job may run.
	DefaultJobStartedTimeout = 8 * time.Hour

	// DefaultCheckoutSweepSpec runs the checkout sweep every minute.
	DefaultCheckoutSweepSpec = "@every 1m"

	// DefaultTimeoutSweepSpec runs the offer/job sweep every five minutes.
	DefaultTimeoutSweepSpec = "@every 5m"

	// DeliveryQueueSize is the in-memory buffer of the delivery worker.
	DeliveryQueueSize = 256

	// DedupeTTL keeps notification ids for idempotent dispatch.
	DedupeTTL = 7 * 24 * time.Hour
)
