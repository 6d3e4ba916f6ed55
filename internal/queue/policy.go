package queue

import (
	"sort"

	"clinicq/internal/models"
)

// NextCandidate picks who is called next among WAITING turns: urgent first,
// then lowest queue position, then earliest check-in. Missing positions and
// timestamps sort last. The turn id is the final tiebreak so the result is
// deterministic for any input order.
func NextCandidate(turns []models.Turn) (models.Turn, bool) {
	var best models.Turn
	found := false
	for _, turn := range turns {
		if turn.Status != models.StatusWaiting {
			continue
		}
		if !found || candidateBefore(turn, best) {
			best = turn
			found = true
		}
	}
	return best, found
}

func candidateBefore(a, b models.Turn) bool {
	if a.IsUrgent != b.IsUrgent {
		return a.IsUrgent
	}
	ap, bp := positionRank(a), positionRank(b)
	if ap != bp {
		return ap < bp
	}
	at, bt := checkedInRank(a), checkedInRank(b)
	if at != bt {
		return at < bt
	}
	return a.TurnID < b.TurnID
}

func positionRank(turn models.Turn) int {
	if turn.QueuePosition <= 0 {
		return int(^uint(0) >> 1)
	}
	return turn.QueuePosition
}

func checkedInRank(turn models.Turn) int64 {
	if turn.CheckedInAt == nil {
		return int64(^uint64(0) >> 1)
	}
	return turn.CheckedInAt.UnixNano()
}

// SortQueue orders a clinic-day's turns for display: urgent first, then
// queue position, then creation time.
func SortQueue(turns []models.Turn) {
	sort.SliceStable(turns, func(i, j int) bool {
		a, b := turns[i], turns[j]
		if a.IsUrgent != b.IsUrgent {
			return a.IsUrgent
		}
		if a.QueuePosition != b.QueuePosition {
			return a.QueuePosition < b.QueuePosition
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
