package models

import "time"

type Turn struct {
	TurnID              string     `json:"turn_id"`
	ClinicID            string     `json:"clinic_id"`
	PatientID           string     `json:"patient_id"`
	TurnDate            time.Time  `json:"turn_date"`
	QueuePosition       int        `json:"queue_position"`
	Status              string     `json:"status"`
	IsUrgent            bool       `json:"is_urgent"`
	ScheduledTime       *time.Time `json:"scheduled_time,omitempty"`
	CheckedInAt         *time.Time `json:"checked_in_at,omitempty"`
	CalledAt            *time.Time `json:"called_at,omitempty"`
	ConsultationStartAt *time.Time `json:"consultation_start_at,omitempty"`
	ConsultationEndAt   *time.Time `json:"consultation_end_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	ServiceType         string     `json:"service_type,omitempty"`
	ServiceNotes        string     `json:"service_notes,omitempty"`
	CreatedBy           string     `json:"created_by"`
	UpdatedBy           *string    `json:"updated_by,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

const (
	StatusScheduled      = "SCHEDULED"
	StatusWaiting        = "WAITING"
	StatusNext           = "NEXT"
	StatusInConsultation = "IN_CONSULTATION"
	StatusDone           = "DONE"
	StatusCancelled      = "CANCELLED"
	StatusSkipped        = "SKIPPED"
)

// Active means the turn occupies the clinic-day's single calling slot.
func IsActiveStatus(status string) bool {
	return status == StatusNext || status == StatusInConsultation
}

// Open turns are the ones a bulk reorder must account for. DONE and
// CANCELLED are terminal; SKIPPED can still return to the queue.
func IsOpenStatus(status string) bool {
	return status != StatusDone && status != StatusCancelled
}

func IsValidStatus(status string) bool {
	switch status {
	case StatusScheduled, StatusWaiting, StatusNext, StatusInConsultation, StatusDone, StatusCancelled, StatusSkipped:
		return true
	default:
		return false
	}
}
