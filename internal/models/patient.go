package models

import "time"

type Patient struct {
	PatientID   string    `json:"patient_id"`
	ClinicID    string    `json:"clinic_id"`
	Name        string    `json:"name"`
	PhoneNumber string    `json:"phone_number"`
	Email       string    `json:"email,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

type Clinic struct {
	ClinicID string `json:"clinic_id"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"`
	IsActive bool   `json:"is_active"`
}

// QueueStats is recomputed from the full turn set on every read; there are
// no incremental counters to drift.
type QueueStats struct {
	Total          int `json:"total"`
	Scheduled      int `json:"scheduled"`
	Waiting        int `json:"waiting"`
	Next           int `json:"next"`
	InConsultation int `json:"in_consultation"`
	Done           int `json:"done"`
	Cancelled      int `json:"cancelled"`
	Skipped        int `json:"skipped"`
	Urgent         int `json:"urgent"`
}
