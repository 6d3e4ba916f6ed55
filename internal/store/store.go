package store

import (
	"context"
	"encoding/json"
	"time"

	"clinicq/internal/models"
)

// Scope identifies one clinic-day, the unit of queue serialization. TurnDate
// is normalized to UTC midnight.
type Scope struct {
	ClinicID string
	TurnDate time.Time
}

func ScopeFor(clinicID string, at time.Time) Scope {
	day := at.UTC()
	return Scope{
		ClinicID: clinicID,
		TurnDate: time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
	}
}

type CreatePatientInput struct {
	ClinicID    string
	Name        string
	PhoneNumber string
	Email       string
	Notes       string
}

// UpdatePatientInput carries a partial update; nil fields keep their
// stored value.
type UpdatePatientInput struct {
	Name        *string
	PhoneNumber *string
	Email       *string
	Notes       *string
	IsActive    *bool
}

type AuditEntry struct {
	ActorID   string
	Action    string
	Entity    string
	EntityID  string
	OldStatus string
	NewStatus string
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	ClinicID  string          `json:"clinic_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// ScopeTx is the view of one clinic-day inside a serialized transaction.
// All reads observe the locked scope; all writes commit or roll back as one
// unit together with the audit and outbox rows appended alongside them.
type ScopeTx interface {
	Turns(ctx context.Context, statuses ...string) ([]models.Turn, error)
	Turn(ctx context.Context, turnID string) (models.Turn, error)
	MaxPosition(ctx context.Context) (int, error)
	InsertTurn(ctx context.Context, turn models.Turn) error
	UpdateTurn(ctx context.Context, turn models.Turn) error
	SetPositions(ctx context.Context, orderedTurnIDs []string, actorID string) error
	AppendAudit(ctx context.Context, entry AuditEntry) error
	AppendEvent(ctx context.Context, eventType string, turn models.Turn) error
}

type TurnStore interface {
	// WithScope runs fn inside a transaction that holds the clinic-day's
	// serialization lock. Concurrent callers on the same scope queue up;
	// different scopes proceed independently.
	WithScope(ctx context.Context, scope Scope, fn func(tx ScopeTx) error) error

	GetTurn(ctx context.Context, turnID string) (models.Turn, error)
	ListTurns(ctx context.Context, scope Scope) ([]models.Turn, error)

	GetClinic(ctx context.Context, clinicID string) (models.Clinic, error)
	CreatePatient(ctx context.Context, input CreatePatientInput) (models.Patient, error)
	GetPatient(ctx context.Context, clinicID, patientID string) (models.Patient, error)
	ListPatients(ctx context.Context, clinicID, search string) ([]models.Patient, error)
	FindOrCreatePatient(ctx context.Context, clinicID, phoneNumber, name string) (models.Patient, error)

	ListOutboxEvents(ctx context.Context, clinicID string, after time.Time, limit int) ([]OutboxEvent, error)
}
