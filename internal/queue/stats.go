package queue

import "clinicq/internal/models"

// ComputeStats derives the clinic-day counters from the full turn set.
func ComputeStats(turns []models.Turn) models.QueueStats {
	var stats models.QueueStats
	for _, turn := range turns {
		stats.Total++
		if turn.IsUrgent {
			stats.Urgent++
		}
		switch turn.Status {
		case models.StatusScheduled:
			stats.Scheduled++
		case models.StatusWaiting:
			stats.Waiting++
		case models.StatusNext:
			stats.Next++
		case models.StatusInConsultation:
			stats.InConsultation++
		case models.StatusDone:
			stats.Done++
		case models.StatusCancelled:
			stats.Cancelled++
		case models.StatusSkipped:
			stats.Skipped++
		}
	}
	return stats
}
