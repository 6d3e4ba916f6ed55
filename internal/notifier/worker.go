package notifier

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/store"
)

// Source is the store surface the worker polls: the outbox cursor, the
// events behind it, and the patient lookup for recipients.
type Source interface {
	GetNotifierOffset(ctx context.Context) (time.Time, error)
	SetNotifierOffset(ctx context.Context, last time.Time) error
	ListAllOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error)
	GetPatient(ctx context.Context, clinicID, patientID string) (models.Patient, error)
}

type Worker struct {
	source    Source
	provider  Provider
	batchSize int
}

type payloadData map[string]interface{}

type Config struct {
	BatchSize int
	Provider  string
}

func New(source Source, cfg Config) *Worker {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	return &Worker{
		source:    source,
		provider:  newProvider(cfg.Provider),
		batchSize: batch,
	}
}

// Run drains one batch of outbox events. Delivery is fire-and-forget: a
// provider failure is logged and the cursor still advances, so a bad
// recipient can never wedge the queue.
func (w *Worker) Run(ctx context.Context) error {
	last, err := w.source.GetNotifierOffset(ctx)
	if err != nil {
		return err
	}

	events, err := w.source.ListAllOutboxEvents(ctx, last, w.batchSize)
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := w.processEvent(ctx, event); err != nil {
			log.Printf("notifier process error: %v", err)
		}
		last = event.CreatedAt
	}

	if !last.IsZero() {
		if err := w.source.SetNotifierOffset(ctx, last); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) processEvent(ctx context.Context, event store.OutboxEvent) error {
	template := templateForEvent(event.Type)
	if template == "" {
		return nil
	}

	payload := payloadData{}
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return err
	}

	clinicID := str(payload, "clinic_id")
	patientID := str(payload, "patient_id")
	if clinicID == "" || patientID == "" {
		return nil
	}

	patient, err := w.source.GetPatient(ctx, clinicID, patientID)
	if err != nil {
		return err
	}
	if patient.PhoneNumber == "" {
		return nil
	}

	message := renderTemplate(template, payload)
	return w.provider.Send(ctx, message, patient.PhoneNumber)
}

func templateForEvent(eventType string) string {
	switch eventType {
	case "turn.created":
		return "You are in the queue at position {queue_position}."
	case "turn.next":
		return "It is your turn now, please proceed to the consultation room."
	case "turn.done":
		return "Your consultation is complete. Thank you for your visit."
	default:
		return ""
	}
}

func renderTemplate(template string, payload payloadData) string {
	result := template
	result = strings.ReplaceAll(result, "{queue_position}", str(payload, "queue_position"))
	result = strings.ReplaceAll(result, "{status}", str(payload, "status"))
	result = strings.ReplaceAll(result, "{turn_date}", str(payload, "turn_date"))
	return result
}

func str(payload payloadData, key string) string {
	switch value := payload[key].(type) {
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	}
	return ""
}

func Start(ctx context.Context, interval time.Duration, w *Worker) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Run(ctx); err != nil {
				log.Printf("notifier worker error: %v", err)
			}
		}
	}
}
