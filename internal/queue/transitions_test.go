package queue

import (
	"testing"
	"time"

	"clinicq/internal/models"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from  string
		to    string
		valid bool
	}{
		{models.StatusScheduled, models.StatusWaiting, true},
		{models.StatusScheduled, models.StatusCancelled, true},
		{models.StatusScheduled, models.StatusNext, false},
		{models.StatusWaiting, models.StatusNext, true},
		{models.StatusWaiting, models.StatusSkipped, true},
		{models.StatusWaiting, models.StatusCancelled, true},
		{models.StatusWaiting, models.StatusInConsultation, false},
		{models.StatusWaiting, models.StatusDone, false},
		{models.StatusNext, models.StatusInConsultation, true},
		{models.StatusNext, models.StatusWaiting, true},
		{models.StatusNext, models.StatusSkipped, true},
		{models.StatusNext, models.StatusCancelled, true},
		{models.StatusNext, models.StatusDone, false},
		{models.StatusInConsultation, models.StatusDone, true},
		{models.StatusInConsultation, models.StatusCancelled, true},
		{models.StatusInConsultation, models.StatusWaiting, false},
		{models.StatusSkipped, models.StatusWaiting, true},
		{models.StatusSkipped, models.StatusCancelled, true},
		{models.StatusSkipped, models.StatusNext, false},
		{models.StatusDone, models.StatusWaiting, false},
		{models.StatusDone, models.StatusCancelled, false},
		{models.StatusCancelled, models.StatusWaiting, false},
		{"UNKNOWN", models.StatusWaiting, false},
	}

	for _, tt := range cases {
		if got := CanTransition(tt.from, tt.to); got != tt.valid {
			t.Fatalf("CanTransition(%q, %q)=%v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestApplyTimestampsFirstEntryOnly(t *testing.T) {
	first := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	second := first.Add(30 * time.Minute)

	turn := models.Turn{Status: models.StatusWaiting}
	applyTimestamps(&turn, models.StatusNext, first)
	if turn.CalledAt == nil || !turn.CalledAt.Equal(first) {
		t.Fatalf("expected called_at %v, got %v", first, turn.CalledAt)
	}

	applyTimestamps(&turn, models.StatusNext, second)
	if !turn.CalledAt.Equal(first) {
		t.Fatalf("called_at overwritten on re-entry: %v", turn.CalledAt)
	}
}

func TestApplyTimestampsDone(t *testing.T) {
	now := time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)
	turn := models.Turn{Status: models.StatusInConsultation}
	applyTimestamps(&turn, models.StatusDone, now)
	if turn.ConsultationEndAt == nil || turn.CompletedAt == nil {
		t.Fatalf("expected both end timestamps set, got %+v", turn)
	}
}

func TestVacatesActiveSlot(t *testing.T) {
	for _, status := range []string{models.StatusDone, models.StatusCancelled, models.StatusSkipped, models.StatusWaiting} {
		if !vacatesActiveSlot(status) {
			t.Fatalf("expected %s to vacate the active slot", status)
		}
	}
	for _, status := range []string{models.StatusNext, models.StatusInConsultation, models.StatusScheduled} {
		if vacatesActiveSlot(status) {
			t.Fatalf("did not expect %s to vacate the active slot", status)
		}
	}
}
