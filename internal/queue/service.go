package queue

import (
	"context"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/store"

	"github.com/google/uuid"
)

const (
	EventTurnCreated        = "turn.created"
	EventTurnWaiting        = "turn.waiting"
	EventTurnNext           = "turn.next"
	EventTurnInConsultation = "turn.in_consultation"
	EventTurnDone           = "turn.done"
	EventTurnCancelled      = "turn.cancelled"
	EventTurnSkipped        = "turn.skipped"
)

// Service owns the turn lifecycle for clinic-day queues. Compound operations
// run inside the store's per-scope serialized transaction so position
// assignment and the single-active-slot invariant survive concurrent callers.
type Service struct {
	store store.TurnStore
	now   func() time.Time
}

func NewService(st store.TurnStore) *Service {
	return &Service{
		store: st,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

type CreateTurnInput struct {
	ClinicID string
	// PatientID references a registered patient. For walk-ins it may be left
	// empty and PatientName/PatientPhone provided instead; the patient record
	// is then looked up by phone or created on the spot.
	PatientID     string
	PatientName   string
	PatientPhone  string
	IsUrgent      bool
	ScheduledTime *time.Time
	ServiceType   string
	CreatedBy     string
}

type TransitionInput struct {
	TurnID   string
	ClinicID string
	Target   string
	ActorID  string
	Notes    string
}

// CreateTurn admits a patient into today's queue. A turn with a future
// scheduled time starts in SCHEDULED and needs an explicit check-in before it
// can be called; everything else starts WAITING. The queue position is
// assigned under the scope lock so two concurrent admissions never share one.
func (s *Service) CreateTurn(ctx context.Context, input CreateTurnInput) (models.Turn, error) {
	if _, err := s.store.GetClinic(ctx, input.ClinicID); err != nil {
		return models.Turn{}, err
	}
	if input.PatientID == "" {
		patient, err := s.store.FindOrCreatePatient(ctx, input.ClinicID, input.PatientPhone, input.PatientName)
		if err != nil {
			return models.Turn{}, err
		}
		input.PatientID = patient.PatientID
	} else if _, err := s.store.GetPatient(ctx, input.ClinicID, input.PatientID); err != nil {
		return models.Turn{}, err
	}

	now := s.now()
	scope := store.ScopeFor(input.ClinicID, now)

	status := models.StatusWaiting
	if input.ScheduledTime != nil && input.ScheduledTime.After(now) {
		status = models.StatusScheduled
	}

	turn := models.Turn{
		TurnID:        uuid.NewString(),
		ClinicID:      input.ClinicID,
		PatientID:     input.PatientID,
		TurnDate:      scope.TurnDate,
		Status:        status,
		IsUrgent:      input.IsUrgent,
		ScheduledTime: input.ScheduledTime,
		ServiceType:   input.ServiceType,
		CreatedBy:     input.CreatedBy,
		CreatedAt:     now,
	}
	applyTimestamps(&turn, status, now)

	var created models.Turn
	err := s.store.WithScope(ctx, scope, func(tx store.ScopeTx) error {
		max, err := tx.MaxPosition(ctx)
		if err != nil {
			return err
		}
		turn.QueuePosition = max + 1

		if err := tx.InsertTurn(ctx, turn); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, store.AuditEntry{
			ActorID:   input.CreatedBy,
			Action:    "create",
			Entity:    "turn",
			EntityID:  turn.TurnID,
			NewStatus: status,
		}); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, EventTurnCreated, turn); err != nil {
			return err
		}
		if err := s.promoteIfIdle(ctx, tx, input.CreatedBy); err != nil {
			return err
		}

		created, err = tx.Turn(ctx, turn.TurnID)
		return err
	})
	if err != nil {
		return models.Turn{}, err
	}
	return created, nil
}

// Transition applies one status-machine edge. Calling a turn demotes any
// other NEXT turn first; leaving the active slot triggers a promotion pass.
func (s *Service) Transition(ctx context.Context, input TransitionInput) (models.Turn, error) {
	if !models.IsValidStatus(input.Target) {
		return models.Turn{}, store.ErrInvalidTransition
	}

	ref, err := s.store.GetTurn(ctx, input.TurnID)
	if err != nil {
		return models.Turn{}, err
	}
	if input.ClinicID != "" && input.ClinicID != ref.ClinicID {
		return models.Turn{}, store.ErrScopeMismatch
	}
	scope := store.Scope{ClinicID: ref.ClinicID, TurnDate: ref.TurnDate}

	var updated models.Turn
	err = s.store.WithScope(ctx, scope, func(tx store.ScopeTx) error {
		turn, err := tx.Turn(ctx, input.TurnID)
		if err != nil {
			return err
		}
		if !CanTransition(turn.Status, input.Target) {
			return store.ErrInvalidTransition
		}

		if input.Target == models.StatusNext {
			if err := s.ensureSingleActive(ctx, tx, turn.TurnID, input.ActorID); err != nil {
				return err
			}
		}

		old := turn.Status
		turn.Status = input.Target
		applyTimestamps(&turn, input.Target, s.now())
		if input.Target == models.StatusDone && input.Notes != "" {
			turn.ServiceNotes = input.Notes
		}
		actor := input.ActorID
		turn.UpdatedBy = &actor

		if err := tx.UpdateTurn(ctx, turn); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, store.AuditEntry{
			ActorID:   input.ActorID,
			Action:    "transition",
			Entity:    "turn",
			EntityID:  turn.TurnID,
			OldStatus: old,
			NewStatus: input.Target,
		}); err != nil {
			return err
		}
		if eventType := eventTypeFor(input.Target); eventType != "" {
			if err := tx.AppendEvent(ctx, eventType, turn); err != nil {
				return err
			}
		}

		if vacatesActiveSlot(input.Target) {
			if err := s.promoteIfIdle(ctx, tx, input.ActorID); err != nil {
				return err
			}
		}

		updated, err = tx.Turn(ctx, input.TurnID)
		return err
	})
	if err != nil {
		return models.Turn{}, err
	}
	return updated, nil
}

// Reorder atomically reassigns positions 1..N following the given order. The
// id list must match the scope's open turns exactly.
func (s *Service) Reorder(ctx context.Context, clinicID string, turnDate time.Time, orderedTurnIDs []string, actorID string) error {
	scope := store.ScopeFor(clinicID, turnDate)
	return s.store.WithScope(ctx, scope, func(tx store.ScopeTx) error {
		turns, err := tx.Turns(ctx)
		if err != nil {
			return err
		}
		open := make(map[string]bool)
		for _, turn := range turns {
			if models.IsOpenStatus(turn.Status) {
				open[turn.TurnID] = true
			}
		}
		if len(orderedTurnIDs) != len(open) {
			return store.ErrReorderSetMismatch
		}
		seen := make(map[string]bool)
		for _, id := range orderedTurnIDs {
			if !open[id] || seen[id] {
				return store.ErrReorderSetMismatch
			}
			seen[id] = true
		}

		if err := tx.SetPositions(ctx, orderedTurnIDs, actorID); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, store.AuditEntry{
			ActorID:  actorID,
			Action:   "reorder",
			Entity:   "queue",
			EntityID: clinicID,
		})
	})
}

// PromoteIfIdle runs one promotion pass for a clinic-day and reports the
// promoted turn, if any. Safe to re-run: with the active slot occupied it is
// a no-op.
func (s *Service) PromoteIfIdle(ctx context.Context, clinicID string, turnDate time.Time, actorID string) (models.Turn, bool, error) {
	scope := store.ScopeFor(clinicID, turnDate)
	var promoted models.Turn
	var ok bool
	err := s.store.WithScope(ctx, scope, func(tx store.ScopeTx) error {
		before, err := tx.Turns(ctx, models.StatusNext)
		if err != nil {
			return err
		}
		if err := s.promoteIfIdle(ctx, tx, actorID); err != nil {
			return err
		}
		after, err := tx.Turns(ctx, models.StatusNext)
		if err != nil {
			return err
		}
		if len(after) > len(before) {
			promoted = after[0]
			ok = true
		}
		return nil
	})
	if err != nil {
		return models.Turn{}, false, err
	}
	return promoted, ok, nil
}

func (s *Service) GetTurn(ctx context.Context, turnID string) (models.Turn, error) {
	return s.store.GetTurn(ctx, turnID)
}

// GetQueue returns the clinic-day's turns ordered for display.
func (s *Service) GetQueue(ctx context.Context, clinicID string, turnDate time.Time) ([]models.Turn, error) {
	if _, err := s.store.GetClinic(ctx, clinicID); err != nil {
		return nil, err
	}
	turns, err := s.store.ListTurns(ctx, store.ScopeFor(clinicID, turnDate))
	if err != nil {
		return nil, err
	}
	SortQueue(turns)
	return turns, nil
}

func (s *Service) GetStats(ctx context.Context, clinicID string, turnDate time.Time) (models.QueueStats, error) {
	if _, err := s.store.GetClinic(ctx, clinicID); err != nil {
		return models.QueueStats{}, err
	}
	turns, err := s.store.ListTurns(ctx, store.ScopeFor(clinicID, turnDate))
	if err != nil {
		return models.QueueStats{}, err
	}
	return ComputeStats(turns), nil
}

// GetNextCandidate exposes the ordering policy result without mutating state.
func (s *Service) GetNextCandidate(ctx context.Context, clinicID string, turnDate time.Time) (models.Turn, bool, error) {
	if _, err := s.store.GetClinic(ctx, clinicID); err != nil {
		return models.Turn{}, false, err
	}
	turns, err := s.store.ListTurns(ctx, store.ScopeFor(clinicID, turnDate))
	if err != nil {
		return models.Turn{}, false, err
	}
	candidate, ok := NextCandidate(turns)
	return candidate, ok, nil
}

// ensureSingleActive demotes any NEXT turn other than keepID back to WAITING.
// A human call may target any waiting turn, so the previous callee steps
// aside rather than blocking the action.
func (s *Service) ensureSingleActive(ctx context.Context, tx store.ScopeTx, keepID, actorID string) error {
	actives, err := tx.Turns(ctx, models.StatusNext)
	if err != nil {
		return err
	}
	for _, other := range actives {
		if other.TurnID == keepID {
			continue
		}
		old := other.Status
		other.Status = models.StatusWaiting
		actor := actorID
		other.UpdatedBy = &actor
		if err := tx.UpdateTurn(ctx, other); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, store.AuditEntry{
			ActorID:   actorID,
			Action:    "demote",
			Entity:    "turn",
			EntityID:  other.TurnID,
			OldStatus: old,
			NewStatus: models.StatusWaiting,
		}); err != nil {
			return err
		}
	}
	return nil
}

// promoteIfIdle fills an empty active slot with the policy's best waiting
// candidate. With the slot occupied it does nothing, which makes repeated
// runs over unchanged state harmless.
func (s *Service) promoteIfIdle(ctx context.Context, tx store.ScopeTx, actorID string) error {
	turns, err := tx.Turns(ctx)
	if err != nil {
		return err
	}
	var waiting []models.Turn
	for _, turn := range turns {
		if models.IsActiveStatus(turn.Status) {
			return nil
		}
		if turn.Status == models.StatusWaiting {
			waiting = append(waiting, turn)
		}
	}
	candidate, ok := NextCandidate(waiting)
	if !ok {
		return nil
	}

	old := candidate.Status
	candidate.Status = models.StatusNext
	applyTimestamps(&candidate, models.StatusNext, s.now())
	actor := actorID
	candidate.UpdatedBy = &actor

	if err := tx.UpdateTurn(ctx, candidate); err != nil {
		return err
	}
	if err := tx.AppendAudit(ctx, store.AuditEntry{
		ActorID:   actorID,
		Action:    "promote",
		Entity:    "turn",
		EntityID:  candidate.TurnID,
		OldStatus: old,
		NewStatus: models.StatusNext,
	}); err != nil {
		return err
	}
	return tx.AppendEvent(ctx, EventTurnNext, candidate)
}

func eventTypeFor(status string) string {
	switch status {
	case models.StatusWaiting:
		return EventTurnWaiting
	case models.StatusNext:
		return EventTurnNext
	case models.StatusInConsultation:
		return EventTurnInConsultation
	case models.StatusDone:
		return EventTurnDone
	case models.StatusCancelled:
		return EventTurnCancelled
	case models.StatusSkipped:
		return EventTurnSkipped
	default:
		return ""
	}
}
