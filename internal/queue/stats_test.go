package queue

import (
	"testing"

	"clinicq/internal/models"
)

func TestComputeStats(t *testing.T) {
	turns := []models.Turn{
		{Status: models.StatusScheduled},
		{Status: models.StatusWaiting, IsUrgent: true},
		{Status: models.StatusWaiting},
		{Status: models.StatusNext},
		{Status: models.StatusInConsultation},
		{Status: models.StatusDone},
		{Status: models.StatusCancelled, IsUrgent: true},
		{Status: models.StatusSkipped},
	}

	stats := ComputeStats(turns)
	if stats.Total != 8 {
		t.Fatalf("total: expected 8, got %d", stats.Total)
	}
	if stats.Scheduled != 1 || stats.Waiting != 2 || stats.Next != 1 || stats.InConsultation != 1 {
		t.Fatalf("unexpected open counts: %+v", stats)
	}
	if stats.Done != 1 || stats.Cancelled != 1 || stats.Skipped != 1 {
		t.Fatalf("unexpected closed counts: %+v", stats)
	}
	if stats.Urgent != 2 {
		t.Fatalf("urgent: expected 2, got %d", stats.Urgent)
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	stats := ComputeStats(nil)
	if stats != (models.QueueStats{}) {
		t.Fatalf("expected zero stats, got %+v", stats)
	}
}
