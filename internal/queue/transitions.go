package queue

import (
	"time"

	"clinicq/internal/models"
)

// transitionMap lists the legal destinations for each status. DONE and
// CANCELLED have no outbound edges.
var transitionMap = map[string][]string{
	models.StatusScheduled:      {models.StatusWaiting, models.StatusCancelled},
	models.StatusWaiting:        {models.StatusNext, models.StatusSkipped, models.StatusCancelled},
	models.StatusNext:           {models.StatusInConsultation, models.StatusWaiting, models.StatusSkipped, models.StatusCancelled},
	models.StatusInConsultation: {models.StatusDone, models.StatusCancelled},
	models.StatusSkipped:        {models.StatusWaiting, models.StatusCancelled},
}

func CanTransition(from, to string) bool {
	allowed, ok := transitionMap[from]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == to {
			return true
		}
	}
	return false
}

// applyTimestamps stamps the lifecycle field that corresponds to the entered
// status. A field already set is left alone, so a turn that re-enters a
// status keeps its original timestamp.
func applyTimestamps(turn *models.Turn, to string, now time.Time) {
	switch to {
	case models.StatusWaiting:
		if turn.CheckedInAt == nil {
			turn.CheckedInAt = &now
		}
	case models.StatusNext:
		if turn.CalledAt == nil {
			turn.CalledAt = &now
		}
	case models.StatusInConsultation:
		if turn.ConsultationStartAt == nil {
			turn.ConsultationStartAt = &now
		}
	case models.StatusDone:
		if turn.ConsultationEndAt == nil {
			turn.ConsultationEndAt = &now
		}
		if turn.CompletedAt == nil {
			turn.CompletedAt = &now
		}
	}
}

// vacatesActiveSlot reports whether landing in the given status can free the
// clinic-day's single active slot and so warrants a promotion pass.
func vacatesActiveSlot(to string) bool {
	switch to {
	case models.StatusDone, models.StatusCancelled, models.StatusSkipped, models.StatusWaiting:
		return true
	default:
		return false
	}
}
