package models

import "time"

// Offer is a time-boxed job proposal to one staff member.
type Offer struct {
	ID          string     `json:"id"`
	JobID       string     `json:"job_id"`
	StaffID     string     `json:"staff_id"`
	Status      string     `json:"status"` // sent, accepted, expired
	SentAt      time.Time  `json:"sent_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

type Job struct {
	ID                 string     `json:"id"`
	PropertyID         string     `json:"property_id"`
	Title              string     `json:"title"`
	Status             string     `json:"status"`
	StaffID            string     `json:"staff_id,omitempty"`
	EscalationRequired bool       `json:"escalation_required"`
	AcceptedAt         *time.Time `json:"accepted_at,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}
