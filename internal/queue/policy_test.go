package queue

import (
	"testing"
	"time"

	"clinicq/internal/models"
)

func waitingTurn(id string, urgent bool, position int, checkedIn *time.Time) models.Turn {
	return models.Turn{
		TurnID:        id,
		Status:        models.StatusWaiting,
		IsUrgent:      urgent,
		QueuePosition: position,
		CheckedInAt:   checkedIn,
	}
}

func TestNextCandidateUrgentFirst(t *testing.T) {
	turns := []models.Turn{
		waitingTurn("t1", false, 1, nil),
		waitingTurn("t2", true, 2, nil),
	}
	candidate, ok := NextCandidate(turns)
	if !ok || candidate.TurnID != "t2" {
		t.Fatalf("expected urgent t2, got %+v ok=%v", candidate, ok)
	}
}

func TestNextCandidateLowerPosition(t *testing.T) {
	turns := []models.Turn{
		waitingTurn("t1", false, 3, nil),
		waitingTurn("t2", false, 1, nil),
		waitingTurn("t3", false, 2, nil),
	}
	candidate, ok := NextCandidate(turns)
	if !ok || candidate.TurnID != "t2" {
		t.Fatalf("expected t2 at position 1, got %+v", candidate)
	}
}

func TestNextCandidateMissingPositionSortsLast(t *testing.T) {
	turns := []models.Turn{
		waitingTurn("t1", false, 0, nil),
		waitingTurn("t2", false, 5, nil),
	}
	candidate, _ := NextCandidate(turns)
	if candidate.TurnID != "t2" {
		t.Fatalf("expected positioned t2 before unpositioned t1, got %s", candidate.TurnID)
	}
}

func TestNextCandidateCheckedInTiebreak(t *testing.T) {
	early := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)
	turns := []models.Turn{
		waitingTurn("t1", false, 0, &late),
		waitingTurn("t2", false, 0, &early),
		waitingTurn("t3", false, 0, nil),
	}
	candidate, _ := NextCandidate(turns)
	if candidate.TurnID != "t2" {
		t.Fatalf("expected earliest check-in t2, got %s", candidate.TurnID)
	}
}

func TestNextCandidateIgnoresNonWaiting(t *testing.T) {
	turns := []models.Turn{
		{TurnID: "t1", Status: models.StatusScheduled, QueuePosition: 1},
		{TurnID: "t2", Status: models.StatusSkipped, QueuePosition: 2},
		{TurnID: "t3", Status: models.StatusDone, QueuePosition: 3},
	}
	if _, ok := NextCandidate(turns); ok {
		t.Fatal("expected no candidate without waiting turns")
	}
}

func TestNextCandidateDeterministic(t *testing.T) {
	turns := []models.Turn{
		waitingTurn("t3", false, 0, nil),
		waitingTurn("t1", false, 0, nil),
		waitingTurn("t2", false, 0, nil),
	}
	first, _ := NextCandidate(turns)
	reversed := []models.Turn{turns[2], turns[1], turns[0]}
	for i := 0; i < 5; i++ {
		again, _ := NextCandidate(reversed)
		if again.TurnID != first.TurnID {
			t.Fatalf("candidate changed across calls: %s vs %s", first.TurnID, again.TurnID)
		}
	}
}

func TestSortQueueOrder(t *testing.T) {
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	turns := []models.Turn{
		{TurnID: "t1", QueuePosition: 2, CreatedAt: base},
		{TurnID: "t2", QueuePosition: 3, IsUrgent: true, CreatedAt: base.Add(time.Minute)},
		{TurnID: "t3", QueuePosition: 1, CreatedAt: base.Add(2 * time.Minute)},
	}
	SortQueue(turns)
	want := []string{"t2", "t3", "t1"}
	for i, id := range want {
		if turns[i].TurnID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, turns[i].TurnID)
		}
	}
}
