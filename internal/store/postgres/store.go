package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const turnColumns = `turn_id, clinic_id, patient_id, turn_date, queue_position, status, is_urgent,
	scheduled_time, checked_in_at, called_at, consultation_start_at, consultation_end_at, completed_at,
	service_type, service_notes, created_by, updated_by, created_at`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithScope runs fn inside a transaction that holds an advisory lock on the
// clinic-day, so all writers for one queue serialize. Serialization failures
// surface as store.ErrConflict for the caller to retry.
func (s *Store) WithScope(ctx context.Context, scope store.Scope, fn func(tx store.ScopeTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	lockKey := fmt.Sprintf("%s:%s", scope.ClinicID, scope.TurnDate.Format("2006-01-02"))
	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return mapPgError(err)
	}

	if err = fn(&scopeTx{tx: tx, scope: scope}); err != nil {
		return mapPgError(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	return nil
}

func (s *Store) GetTurn(ctx context.Context, turnID string) (models.Turn, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+turnColumns+`
		FROM turns
		WHERE turn_id = $1
	`, turnID)
	turn, err := scanTurn(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Turn{}, store.ErrTurnNotFound
		}
		return models.Turn{}, err
	}
	return turn, nil
}

func (s *Store) ListTurns(ctx context.Context, scope store.Scope) ([]models.Turn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+turnColumns+`
		FROM turns
		WHERE clinic_id = $1 AND turn_date = $2
		ORDER BY is_urgent DESC, queue_position ASC, created_at ASC
	`, scope.ClinicID, scope.TurnDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTurns(rows)
}

func (s *Store) GetClinic(ctx context.Context, clinicID string) (models.Clinic, error) {
	var clinic models.Clinic
	row := s.pool.QueryRow(ctx, `
		SELECT clinic_id, name, timezone, is_active
		FROM clinics
		WHERE clinic_id = $1 AND is_active = TRUE
	`, clinicID)
	if err := row.Scan(&clinic.ClinicID, &clinic.Name, &clinic.Timezone, &clinic.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Clinic{}, store.ErrClinicNotFound
		}
		return models.Clinic{}, err
	}
	return clinic, nil
}

func (s *Store) CreatePatient(ctx context.Context, input store.CreatePatientInput) (models.Patient, error) {
	patient := models.Patient{
		PatientID:   uuid.NewString(),
		ClinicID:    input.ClinicID,
		Name:        input.Name,
		PhoneNumber: input.PhoneNumber,
		Email:       input.Email,
		Notes:       input.Notes,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO patients (patient_id, clinic_id, name, phone_number, email, notes, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, patient.PatientID, patient.ClinicID, patient.Name, patient.PhoneNumber,
		nullIfEmpty(patient.Email), nullIfEmpty(patient.Notes), patient.IsActive, patient.CreatedAt)
	if err != nil {
		return models.Patient{}, mapPgError(err)
	}
	return patient, nil
}

func (s *Store) GetPatient(ctx context.Context, clinicID, patientID string) (models.Patient, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT patient_id, clinic_id, name, phone_number, email, notes, is_active, created_at
		FROM patients
		WHERE patient_id = $1 AND clinic_id = $2
	`, patientID, clinicID)
	patient, err := scanPatient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Patient{}, store.ErrPatientNotFound
		}
		return models.Patient{}, err
	}
	return patient, nil
}

func (s *Store) ListPatients(ctx context.Context, clinicID, search string) ([]models.Patient, error) {
	query := `
		SELECT patient_id, clinic_id, name, phone_number, email, notes, is_active, created_at
		FROM patients
		WHERE clinic_id = $1 AND is_active = TRUE
	`
	args := []interface{}{clinicID}
	if search != "" {
		query += " AND (name ILIKE '%' || $2 || '%' OR phone_number LIKE '%' || $2 || '%')"
		args = append(args, search)
	}
	query += " ORDER BY name ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patients []models.Patient
	for rows.Next() {
		patient, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, patient)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return patients, nil
}

func (s *Store) UpdatePatient(ctx context.Context, clinicID, patientID string, input store.UpdatePatientInput) (models.Patient, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE patients
		SET name = COALESCE($3, name),
		    phone_number = COALESCE($4, phone_number),
		    email = COALESCE($5, email),
		    notes = COALESCE($6, notes),
		    is_active = COALESCE($7, is_active)
		WHERE patient_id = $1 AND clinic_id = $2
		RETURNING patient_id, clinic_id, name, phone_number, email, notes, is_active, created_at
	`, patientID, clinicID, input.Name, input.PhoneNumber, input.Email, input.Notes, input.IsActive)
	patient, err := scanPatient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Patient{}, store.ErrPatientNotFound
		}
		return models.Patient{}, mapPgError(err)
	}
	return patient, nil
}

func (s *Store) ListClinics(ctx context.Context) ([]models.Clinic, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT clinic_id, name, timezone, is_active
		FROM clinics
		WHERE is_active = TRUE
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clinics []models.Clinic
	for rows.Next() {
		var clinic models.Clinic
		if err := rows.Scan(&clinic.ClinicID, &clinic.Name, &clinic.Timezone, &clinic.IsActive); err != nil {
			return nil, err
		}
		clinics = append(clinics, clinic)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return clinics, nil
}

func (s *Store) FindOrCreatePatient(ctx context.Context, clinicID, phoneNumber, name string) (models.Patient, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT patient_id, clinic_id, name, phone_number, email, notes, is_active, created_at
		FROM patients
		WHERE clinic_id = $1 AND phone_number = $2
		ORDER BY created_at ASC
		LIMIT 1
	`, clinicID, phoneNumber)
	patient, err := scanPatient(row)
	if err == nil {
		return patient, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Patient{}, err
	}
	return s.CreatePatient(ctx, store.CreatePatientInput{
		ClinicID:    clinicID,
		Name:        name,
		PhoneNumber: phoneNumber,
	})
}

func (s *Store) ListOutboxEvents(ctx context.Context, clinicID string, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT event_id, clinic_id, type, payload_json, created_at
		FROM outbox_events
		WHERE clinic_id = $1
	`
	args := []interface{}{clinicID}
	if !after.IsZero() {
		query += " AND created_at > $2 ORDER BY created_at ASC LIMIT $3"
		args = append(args, after, limit)
	} else {
		query += " ORDER BY created_at ASC LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.ClinicID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

type scopeTx struct {
	tx    pgx.Tx
	scope store.Scope
}

func (t *scopeTx) Turns(ctx context.Context, statuses ...string) ([]models.Turn, error) {
	query := `
		SELECT ` + turnColumns + `
		FROM turns
		WHERE clinic_id = $1 AND turn_date = $2
	`
	args := []interface{}{t.scope.ClinicID, t.scope.TurnDate}
	if len(statuses) > 0 {
		query += " AND status = ANY($3)"
		args = append(args, statuses)
	}
	query += " ORDER BY is_urgent DESC, queue_position ASC, created_at ASC"

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTurns(rows)
}

func (t *scopeTx) Turn(ctx context.Context, turnID string) (models.Turn, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+turnColumns+`
		FROM turns
		WHERE turn_id = $1 AND clinic_id = $2 AND turn_date = $3
	`, turnID, t.scope.ClinicID, t.scope.TurnDate)
	turn, err := scanTurn(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Turn{}, store.ErrTurnNotFound
		}
		return models.Turn{}, err
	}
	return turn, nil
}

func (t *scopeTx) MaxPosition(ctx context.Context) (int, error) {
	var max int
	row := t.tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(queue_position), 0)
		FROM turns
		WHERE clinic_id = $1 AND turn_date = $2
	`, t.scope.ClinicID, t.scope.TurnDate)
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}

func (t *scopeTx) InsertTurn(ctx context.Context, turn models.Turn) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO turns (
			turn_id, clinic_id, patient_id, turn_date, queue_position, status, is_urgent,
			scheduled_time, checked_in_at, called_at, consultation_start_at, consultation_end_at, completed_at,
			service_type, service_notes, created_by, updated_by, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, turn.TurnID, turn.ClinicID, turn.PatientID, turn.TurnDate, turn.QueuePosition, turn.Status, turn.IsUrgent,
		turn.ScheduledTime, turn.CheckedInAt, turn.CalledAt, turn.ConsultationStartAt, turn.ConsultationEndAt, turn.CompletedAt,
		nullIfEmpty(turn.ServiceType), nullIfEmpty(turn.ServiceNotes), turn.CreatedBy, turn.UpdatedBy, turn.CreatedAt)
	return err
}

func (t *scopeTx) UpdateTurn(ctx context.Context, turn models.Turn) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE turns
		SET status = $1,
			queue_position = $2,
			checked_in_at = $3,
			called_at = $4,
			consultation_start_at = $5,
			consultation_end_at = $6,
			completed_at = $7,
			service_notes = $8,
			updated_by = $9
		WHERE turn_id = $10 AND clinic_id = $11 AND turn_date = $12
	`, turn.Status, turn.QueuePosition, turn.CheckedInAt, turn.CalledAt,
		turn.ConsultationStartAt, turn.ConsultationEndAt, turn.CompletedAt,
		nullIfEmpty(turn.ServiceNotes), turn.UpdatedBy,
		turn.TurnID, t.scope.ClinicID, t.scope.TurnDate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrTurnNotFound
	}
	return nil
}

// SetPositions rewrites positions in two passes: first to negated values so
// the partial unique index never sees a transient collision, then to the
// final 1..N assignment.
func (t *scopeTx) SetPositions(ctx context.Context, orderedTurnIDs []string, actorID string) error {
	for i, turnID := range orderedTurnIDs {
		tag, err := t.tx.Exec(ctx, `
			UPDATE turns
			SET queue_position = $1
			WHERE turn_id = $2 AND clinic_id = $3 AND turn_date = $4
		`, -(i + 1), turnID, t.scope.ClinicID, t.scope.TurnDate)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrTurnNotFound
		}
	}
	for i, turnID := range orderedTurnIDs {
		if _, err := t.tx.Exec(ctx, `
			UPDATE turns
			SET queue_position = $1,
				updated_by = $2
			WHERE turn_id = $3 AND clinic_id = $4 AND turn_date = $5
		`, i+1, actorID, turnID, t.scope.ClinicID, t.scope.TurnDate); err != nil {
			return err
		}
	}
	return nil
}

func (t *scopeTx) AppendAudit(ctx context.Context, entry store.AuditEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO audit_logs (audit_id, clinic_id, actor_id, action, entity, entity_id, old_status, new_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.NewString(), t.scope.ClinicID, entry.ActorID, entry.Action, entry.Entity, entry.EntityID,
		nullIfEmpty(entry.OldStatus), nullIfEmpty(entry.NewStatus), time.Now().UTC())
	return err
}

func (t *scopeTx) AppendEvent(ctx context.Context, eventType string, turn models.Turn) error {
	payload := map[string]interface{}{
		"turn_id":        turn.TurnID,
		"clinic_id":      turn.ClinicID,
		"patient_id":     turn.PatientID,
		"turn_date":      turn.TurnDate.Format("2006-01-02"),
		"queue_position": turn.QueuePosition,
		"status":         turn.Status,
		"is_urgent":      turn.IsUrgent,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, clinic_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), turn.ClinicID, eventType, payloadJSON, time.Now().UTC())
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTurn(row rowScanner) (models.Turn, error) {
	var turn models.Turn
	var scheduledNull, checkedInNull, calledNull, startNull, endNull, completedNull sql.NullTime
	var serviceTypeNull, serviceNotesNull, updatedByNull sql.NullString
	if err := row.Scan(
		&turn.TurnID, &turn.ClinicID, &turn.PatientID, &turn.TurnDate, &turn.QueuePosition, &turn.Status, &turn.IsUrgent,
		&scheduledNull, &checkedInNull, &calledNull, &startNull, &endNull, &completedNull,
		&serviceTypeNull, &serviceNotesNull, &turn.CreatedBy, &updatedByNull, &turn.CreatedAt,
	); err != nil {
		return models.Turn{}, err
	}
	turn.TurnDate = turn.TurnDate.UTC()
	turn.ScheduledTime = nullTimePtr(scheduledNull)
	turn.CheckedInAt = nullTimePtr(checkedInNull)
	turn.CalledAt = nullTimePtr(calledNull)
	turn.ConsultationStartAt = nullTimePtr(startNull)
	turn.ConsultationEndAt = nullTimePtr(endNull)
	turn.CompletedAt = nullTimePtr(completedNull)
	if serviceTypeNull.Valid {
		turn.ServiceType = serviceTypeNull.String
	}
	if serviceNotesNull.Valid {
		turn.ServiceNotes = serviceNotesNull.String
	}
	turn.UpdatedBy = nullStringPtr(updatedByNull)
	return turn, nil
}

func scanPatient(row rowScanner) (models.Patient, error) {
	var patient models.Patient
	var emailNull, notesNull sql.NullString
	if err := row.Scan(&patient.PatientID, &patient.ClinicID, &patient.Name, &patient.PhoneNumber,
		&emailNull, &notesNull, &patient.IsActive, &patient.CreatedAt); err != nil {
		return models.Patient{}, err
	}
	if emailNull.Valid {
		patient.Email = emailNull.String
	}
	if notesNull.Valid {
		patient.Notes = notesNull.String
	}
	return patient, nil
}

func collectTurns(rows pgx.Rows) ([]models.Turn, error) {
	var turns []models.Turn
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return turns, nil
}

// mapPgError folds postgres serialization and deadlock failures into
// store.ErrConflict; everything else passes through.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return store.ErrConflict
		}
	}
	return err
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func (s *Store) ListAllOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, clinic_id, type, payload_json, created_at
		FROM outbox_events
		WHERE created_at > $1
		ORDER BY created_at ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.ClinicID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetNotifierOffset(ctx context.Context) (time.Time, error) {
	var last time.Time
	row := s.pool.QueryRow(ctx, `
		SELECT last_event_at FROM notifier_offsets WHERE consumer = 'notifier'
	`)
	if err := row.Scan(&last); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return last, nil
}

func (s *Store) SetNotifierOffset(ctx context.Context, last time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifier_offsets (consumer, last_event_at)
		VALUES ('notifier', $1)
		ON CONFLICT (consumer) DO UPDATE SET last_event_at = EXCLUDED.last_event_at
	`, last)
	return err
}
