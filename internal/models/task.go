package models

import "time"

type Task struct {
	ID                string     `json:"id"`
	BookingID         string     `json:"booking_id"`
	PropertyID        string     `json:"property_id"`
	PropertyName      string     `json:"property_name"`
	Type              TaskType   `json:"type"`
	Title             string     `json:"title"`
	Priority          Priority   `json:"priority"`
	Status            TaskStatus `json:"status"`
	ScheduledAt       time.Time  `json:"scheduled_at"`
	EstimatedMinutes  int        `json:"estimated_minutes"`
	AssignedStaffID   string     `json:"assigned_staff_id,omitempty"`
	AssignedStaffName string     `json:"assigned_staff_name,omitempty"`
	DependsOn         []string   `json:"depends_on"`
	Triggers          []string   `json:"triggers"`
	Evidence          Evidence   `json:"evidence"`
	Issues            []Issue    `json:"issues,omitempty"`
	ApprovalNotes     string     `json:"approval_notes,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Evidence is what staff attach when finishing a task.
type Evidence struct {
	PhotoRefs          []string `json:"photoRefs"`
	ChecklistCompleted bool     `json:"checklistCompleted"`
	Notes              string   `json:"notes,omitempty"`
}

type Issue struct {
	Description      string `json:"description"`
	Severity         string `json:"severity"`
	RequiresBlocking bool   `json:"requiresBlocking"`
}

type Timeline struct {
	BookingID         string     `json:"booking_id"`
	PropertyID        string     `json:"property_id"`
	TaskIDs           []string   `json:"task_ids"`
	Phase             Phase      `json:"phase"`
	CompletionPercent int        `json:"completion_percent"`
	EstimatedReadyAt  time.Time  `json:"estimated_ready_at"`
	ActualReadyAt     *time.Time `json:"actual_ready_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TaskFilter narrows task queries. Zero values are ignored.
type TaskFilter struct {
	BookingID     string
	PropertyID    string
	Type          TaskType
	Status        TaskStatus
	ScheduledFrom time.Time
	ScheduledTo   time.Time
	Limit         int
}
