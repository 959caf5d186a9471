package scheduling

import (
	"math/rand"
	"sort"
	"time"

	"github.com/applyhq/applypilot/pkg/models"
)

// Business-hour window in the user's local time. Hour 9 is in-hours,
// hour 17 is after-hours.
const (
	businessStartHour = 9
	businessEndHour   = 17

	minGapMinutes = 30
	maxGapMinutes = 60

	// Assumed throughput for the coarse completion estimate. Deliberately
	// independent of the 30–60-minute per-item spacing: the estimate is a
	// loose upper bound, not an SLA.
	assumedItemsPerHour = 8
	workHoursPerDay     = 8
)

// ScoredItem is a queue item annotated with its computed score and assigned
// slot during one optimizer pass. Both values are folded back into the item's
// priority and next_run_at columns on write-back.
type ScoredItem struct {
	Item        models.QueueItem
	Score       int
	ScheduledAt time.Time
}

// Optimize assigns business-hour slots to the given scored items, spaced by a
// uniformly random 30–60 whole minutes, snapping forward whenever the cursor
// leaves the [9,17) window. The same set is returned in descending-score
// order; equal scores break deterministically by item ID ascending.
func Optimize(items []ScoredItem, timezone string, now time.Time, rng *rand.Rand) []ScoredItem {
	if len(items) == 0 {
		return []ScoredItem{}
	}

	out := make([]ScoredItem, len(items))
	copy(out, items)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Item.ID.String() < out[j].Item.ID.String()
	})

	loc := Location(timezone)
	cursor := NextBusinessSlot(now.In(loc))
	for i := range out {
		out[i].ScheduledAt = cursor
		gap := minGapMinutes + rng.Intn(maxGapMinutes-minGapMinutes+1)
		cursor = NextBusinessSlot(cursor.Add(time.Duration(gap) * time.Minute))
	}
	return out
}

// NextBusinessSlot returns the earliest in-window instant at or after t,
// evaluated in t's location: after 17:00 advances to 09:00 the next day,
// before 09:00 advances to 09:00 the same day.
func NextBusinessSlot(t time.Time) time.Time {
	switch h := t.Hour(); {
	case h >= businessEndHour:
		next := t.AddDate(0, 0, 1)
		return time.Date(next.Year(), next.Month(), next.Day(), businessStartHour, 0, 0, 0, t.Location())
	case h < businessStartHour:
		return time.Date(t.Year(), t.Month(), t.Day(), businessStartHour, 0, 0, 0, t.Location())
	default:
		return t
	}
}

// Estimate is a coarse completion projection for a workflow.
type Estimate struct {
	PendingCount int       `json:"pending_count"`
	HoursNeeded  int       `json:"hours_needed"`
	DaysNeeded   int       `json:"days_needed"`
	CompletionAt time.Time `json:"estimated_completion"`
}

// EstimateCompletion projects how long the pending backlog takes at the
// assumed fixed throughput.
func EstimateCompletion(pendingCount int, now time.Time) Estimate {
	hours := ceilDiv(pendingCount, assumedItemsPerHour)
	return Estimate{
		PendingCount: pendingCount,
		HoursNeeded:  hours,
		DaysNeeded:   ceilDiv(hours, workHoursPerDay),
		CompletionAt: now.Add(time.Duration(hours) * time.Hour),
	}
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
