package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/queue"
	"clinicq/internal/store"

	"github.com/google/uuid"
)

// QueueService is the slice of the queue engine the HTTP layer needs.
type QueueService interface {
	CreateTurn(ctx context.Context, input queue.CreateTurnInput) (models.Turn, error)
	Transition(ctx context.Context, input queue.TransitionInput) (models.Turn, error)
	Reorder(ctx context.Context, clinicID string, turnDate time.Time, orderedTurnIDs []string, actorID string) error
	GetTurn(ctx context.Context, turnID string) (models.Turn, error)
	GetQueue(ctx context.Context, clinicID string, turnDate time.Time) ([]models.Turn, error)
	GetStats(ctx context.Context, clinicID string, turnDate time.Time) (models.QueueStats, error)
	GetNextCandidate(ctx context.Context, clinicID string, turnDate time.Time) (models.Turn, bool, error)
}

// PatientDirectory covers the patient and event reads served directly from
// the store.
type PatientDirectory interface {
	CreatePatient(ctx context.Context, input store.CreatePatientInput) (models.Patient, error)
	GetPatient(ctx context.Context, clinicID, patientID string) (models.Patient, error)
	UpdatePatient(ctx context.Context, clinicID, patientID string, input store.UpdatePatientInput) (models.Patient, error)
	ListPatients(ctx context.Context, clinicID, search string) ([]models.Patient, error)
	ListClinics(ctx context.Context) ([]models.Clinic, error)
	ListOutboxEvents(ctx context.Context, clinicID string, after time.Time, limit int) ([]store.OutboxEvent, error)
}

type Handler struct {
	svc       QueueService
	directory PatientDirectory
}

func NewHandler(svc QueueService, directory PatientDirectory) *Handler {
	return &Handler{svc: svc, directory: directory}
}

// actionTargets maps URL action names onto target statuses. "check-in" and
// "return" both land in WAITING; the status machine decides whether the edge
// is legal for the turn's current status.
var actionTargets = map[string]string{
	"check-in": models.StatusWaiting,
	"call":     models.StatusNext,
	"start":    models.StatusInConsultation,
	"done":     models.StatusDone,
	"skip":     models.StatusSkipped,
	"cancel":   models.StatusCancelled,
	"return":   models.StatusWaiting,
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/turns", h.handleTurns)
	mux.HandleFunc("/api/turns/", h.handleTurnByID)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/queue/reorder", h.handleReorder)
	mux.HandleFunc("/api/queue/stats", h.handleStats)
	mux.HandleFunc("/api/queue/next", h.handleNextCandidate)
	mux.HandleFunc("/api/patients", h.handlePatients)
	mux.HandleFunc("/api/patients/", h.handlePatientByID)
	mux.HandleFunc("/api/clinics", h.handleClinics)
	mux.HandleFunc("/api/events", h.handleEvents)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type createTurnRequest struct {
	ClinicID      string `json:"clinic_id"`
	PatientID     string `json:"patient_id"`
	PatientName   string `json:"patient_name"`
	PatientPhone  string `json:"patient_phone"`
	IsUrgent      bool   `json:"is_urgent"`
	ScheduledTime string `json:"scheduled_time"`
	ServiceType   string `json:"service_type"`
	CreatedBy     string `json:"created_by"`
}

func (h *Handler) handleTurns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createTurnRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.ClinicID = strings.TrimSpace(req.ClinicID)
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.PatientName = strings.TrimSpace(req.PatientName)
	req.PatientPhone = strings.TrimSpace(req.PatientPhone)
	req.ServiceType = strings.TrimSpace(req.ServiceType)
	req.CreatedBy = strings.TrimSpace(req.CreatedBy)

	if req.ClinicID == "" || req.CreatedBy == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "clinic_id and created_by are required")
		return
	}
	if !isValidUUID(req.ClinicID) || !isValidUUID(req.CreatedBy) {
		writeError(w, http.StatusBadRequest, "invalid_request", "clinic_id and created_by must be UUIDs")
		return
	}
	// Registered patients come by id; walk-ins by name plus phone.
	switch {
	case req.PatientID != "":
		if !isValidUUID(req.PatientID) {
			writeError(w, http.StatusBadRequest, "invalid_request", "patient_id must be a UUID")
			return
		}
	case req.PatientName != "" && req.PatientPhone != "":
		if !isValidPhone(req.PatientPhone) {
			writeError(w, http.StatusBadRequest, "invalid_request", "patient_phone must be 8-16 digits")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "either patient_id or patient_name with patient_phone is required")
		return
	}

	var scheduledTime *time.Time
	if raw := strings.TrimSpace(req.ScheduledTime); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "scheduled_time must be an RFC3339 timestamp")
			return
		}
		scheduledTime = &parsed
	}

	turn, err := h.svc.CreateTurn(r.Context(), queue.CreateTurnInput{
		ClinicID:      req.ClinicID,
		PatientID:     req.PatientID,
		PatientName:   req.PatientName,
		PatientPhone:  req.PatientPhone,
		IsUrgent:      req.IsUrgent,
		ScheduledTime: scheduledTime,
		ServiceType:   req.ServiceType,
		CreatedBy:     req.CreatedBy,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusCreated, turn)
}

func (h *Handler) handleTurnByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/turns/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGetTurn(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTurnAction(w, r, parts[0], parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetTurn(w http.ResponseWriter, r *http.Request, turnID string) {
	if !isValidUUID(turnID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "turn_id must be a UUID")
		return
	}
	turn, err := h.svc.GetTurn(r.Context(), turnID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

type turnActionRequest struct {
	ClinicID string `json:"clinic_id"`
	ActorID  string `json:"actor_id"`
	Notes    string `json:"notes"`
}

func (h *Handler) handleTurnAction(w http.ResponseWriter, r *http.Request, turnID, action string) {
	if !isValidUUID(turnID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "turn_id must be a UUID")
		return
	}
	target, ok := actionTargets[strings.ToLower(action)]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var req turnActionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.ClinicID = strings.TrimSpace(req.ClinicID)
	req.ActorID = strings.TrimSpace(req.ActorID)
	req.Notes = strings.TrimSpace(req.Notes)

	if req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "actor_id is required")
		return
	}
	if !isValidUUID(req.ActorID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "actor_id must be a UUID")
		return
	}
	if req.ClinicID != "" && !isValidUUID(req.ClinicID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "clinic_id must be a UUID when provided")
		return
	}

	turn, err := h.svc.Transition(r.Context(), queue.TransitionInput{
		TurnID:   turnID,
		ClinicID: req.ClinicID,
		Target:   target,
		ActorID:  req.ActorID,
		Notes:    req.Notes,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	clinicID, turnDate, ok := queueScopeParams(w, r)
	if !ok {
		return
	}
	turns, err := h.svc.GetQueue(r.Context(), clinicID, turnDate)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if turns == nil {
		turns = []models.Turn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	clinicID, turnDate, ok := queueScopeParams(w, r)
	if !ok {
		return
	}
	stats, err := h.svc.GetStats(r.Context(), clinicID, turnDate)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleNextCandidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	clinicID, turnDate, ok := queueScopeParams(w, r)
	if !ok {
		return
	}
	turn, found, err := h.svc.GetNextCandidate(r.Context(), clinicID, turnDate)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

type reorderRequest struct {
	ClinicID string   `json:"clinic_id"`
	TurnDate string   `json:"turn_date"`
	TurnIDs  []string `json:"turn_ids"`
	ActorID  string   `json:"actor_id"`
}

func (h *Handler) handleReorder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req reorderRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.ClinicID = strings.TrimSpace(req.ClinicID)
	req.ActorID = strings.TrimSpace(req.ActorID)

	if req.ClinicID == "" || req.ActorID == "" || len(req.TurnIDs) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "clinic_id, actor_id, and turn_ids are required")
		return
	}
	if !isValidUUID(req.ClinicID) || !isValidUUID(req.ActorID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "clinic_id and actor_id must be UUIDs")
		return
	}
	for _, id := range req.TurnIDs {
		if !isValidUUID(id) {
			writeError(w, http.StatusBadRequest, "invalid_request", "turn_ids must be UUIDs")
			return
		}
	}

	turnDate := time.Now().UTC()
	if raw := strings.TrimSpace(req.TurnDate); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "turn_date must be YYYY-MM-DD")
			return
		}
		turnDate = parsed
	}

	if err := h.svc.Reorder(r.Context(), req.ClinicID, turnDate, req.TurnIDs, req.ActorID); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createPatientRequest struct {
	ClinicID    string `json:"clinic_id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email"`
	Notes       string `json:"notes"`
}

func (h *Handler) handlePatients(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleCreatePatient(w, r)
	case http.MethodGet:
		h.handleListPatients(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	var req createPatientRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.ClinicID = strings.TrimSpace(req.ClinicID)
	req.Name = strings.TrimSpace(req.Name)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)

	if req.ClinicID == "" || req.Name == "" || req.PhoneNumber == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "clinic_id, name, and phone_number are required")
		return
	}
	if !isValidUUID(req.ClinicID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "clinic_id must be a UUID")
		return
	}
	if !isValidPhone(req.PhoneNumber) {
		writeError(w, http.StatusBadRequest, "invalid_request", "phone_number must be 8-16 digits")
		return
	}

	patient, err := h.directory.CreatePatient(r.Context(), store.CreatePatientInput{
		ClinicID:    req.ClinicID,
		Name:        req.Name,
		PhoneNumber: req.PhoneNumber,
		Email:       strings.TrimSpace(req.Email),
		Notes:       strings.TrimSpace(req.Notes),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, patient)
}

func (h *Handler) handleListPatients(w http.ResponseWriter, r *http.Request) {
	clinicID := strings.TrimSpace(r.URL.Query().Get("clinic_id"))
	if clinicID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "clinic_id is required")
		return
	}
	if !isValidUUID(clinicID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "clinic_id must be a UUID")
		return
	}
	search := strings.TrimSpace(r.URL.Query().Get("search"))

	patients, err := h.directory.ListPatients(r.Context(), clinicID, search)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if patients == nil {
		patients = []models.Patient{}
	}
	writeJSON(w, http.StatusOK, patients)
}

type updatePatientRequest struct {
	ClinicID    string  `json:"clinic_id"`
	Name        *string `json:"name"`
	PhoneNumber *string `json:"phone_number"`
	Email       *string `json:"email"`
	Notes       *string `json:"notes"`
	IsActive    *bool   `json:"is_active"`
}

func (h *Handler) handlePatientByID(w http.ResponseWriter, r *http.Request) {
	patientID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/patients/"), "/")
	if patientID == "" || strings.Contains(patientID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !isValidUUID(patientID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "patient id must be a UUID")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handleGetPatient(w, r, patientID)
	case http.MethodPatch:
		h.handleUpdatePatient(w, r, patientID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleGetPatient(w http.ResponseWriter, r *http.Request, patientID string) {
	clinicID := strings.TrimSpace(r.URL.Query().Get("clinic_id"))
	if clinicID == "" || !isValidUUID(clinicID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "clinic_id must be a UUID")
		return
	}

	patient, err := h.directory.GetPatient(r.Context(), clinicID, patientID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

func (h *Handler) handleUpdatePatient(w http.ResponseWriter, r *http.Request, patientID string) {
	var req updatePatientRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.ClinicID = strings.TrimSpace(req.ClinicID)
	if req.ClinicID == "" || !isValidUUID(req.ClinicID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "clinic_id must be a UUID")
		return
	}
	if req.Name == nil && req.PhoneNumber == nil && req.Email == nil && req.Notes == nil && req.IsActive == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "at least one field to update is required")
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name must not be blank")
		return
	}
	if req.PhoneNumber != nil && !isValidPhone(strings.TrimSpace(*req.PhoneNumber)) {
		writeError(w, http.StatusBadRequest, "invalid_request", "phone_number must be 8-16 digits")
		return
	}

	patient, err := h.directory.UpdatePatient(r.Context(), req.ClinicID, patientID, store.UpdatePatientInput{
		Name:        req.Name,
		PhoneNumber: req.PhoneNumber,
		Email:       req.Email,
		Notes:       req.Notes,
		IsActive:    req.IsActive,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

func (h *Handler) handleClinics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	clinics, err := h.directory.ListClinics(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if clinics == nil {
		clinics = []models.Clinic{}
	}
	writeJSON(w, http.StatusOK, clinics)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	clinicID := strings.TrimSpace(r.URL.Query().Get("clinic_id"))
	if clinicID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "clinic_id is required")
		return
	}
	if !isValidUUID(clinicID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "clinic_id must be a UUID")
		return
	}

	var after time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "after must be RFC3339 timestamp")
			return
		}
		after = parsed
	}

	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.directory.ListOutboxEvents(r.Context(), clinicID, after, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if events == nil {
		events = []store.OutboxEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func queueScopeParams(w http.ResponseWriter, r *http.Request) (string, time.Time, bool) {
	clinicID := strings.TrimSpace(r.URL.Query().Get("clinic_id"))
	if clinicID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "clinic_id is required")
		return "", time.Time{}, false
	}
	if !isValidUUID(clinicID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "clinic_id must be a UUID")
		return "", time.Time{}, false
	}
	turnDate := time.Now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
			return "", time.Time{}, false
		}
		turnDate = parsed
	}
	return clinicID, turnDate, true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func isValidPhone(value string) bool {
	if len(value) < 8 || len(value) > 16 {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrClinicNotFound):
		return http.StatusNotFound, "clinic_not_found", "clinic not found"
	case errors.Is(err, store.ErrPatientNotFound):
		return http.StatusNotFound, "patient_not_found", "patient not found"
	case errors.Is(err, store.ErrTurnNotFound):
		return http.StatusNotFound, "turn_not_found", "turn not found"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "turn status does not allow this action"
	case errors.Is(err, store.ErrReorderSetMismatch):
		return http.StatusConflict, "reorder_set_mismatch", "turn_ids must match the open turns of the clinic-day exactly"
	case errors.Is(err, store.ErrScopeMismatch):
		return http.StatusConflict, "scope_mismatch", "turn belongs to a different clinic"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", "concurrent update, retry the request"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
