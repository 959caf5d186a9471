// Package scheduling contains the pure scoring and time-slot-packing logic
// used to pace submissions. Nothing in this package touches storage or clocks;
// callers pass the current time explicitly.
package scheduling

import (
	"strings"
	"time"
)

const baseScore = 50

// Urgency keyword sets, matched case-insensitively against title+description.
// The first set marks postings that ask for an immediate start, the second a
// softer "soon" signal. Multilingual on purpose: the board serves several markets.
var (
	urgentKeywords = []string{
		"urgent", "immediately", "immediate start", "asap",
		"dringend", "sofort",
		"urgente", "inmediata",
		"pilne", "natychmiast",
	}
	soonKeywords = []string{
		"soon", "quickly", "fast-growing", "start date",
		"bald", "schnell",
		"pronto",
		"wkrótce",
	}
)

// PriorityScore combines the externally supplied match signal, posting
// freshness and urgency language into a single integer. Larger scores are
// scheduled earlier.
func PriorityScore(matchScore int, age time.Duration, title, description string) int {
	return baseScore + matchScore + FreshnessScore(age) + UrgencyScore(title, description)
}

// FreshnessScore rewards recently created items: 20 under 24h, 10 under 48h,
// 5 under 72h, 0 otherwise.
func FreshnessScore(age time.Duration) int {
	switch {
	case age < 24*time.Hour:
		return 20
	case age < 48*time.Hour:
		return 10
	case age < 72*time.Hour:
		return 5
	default:
		return 0
	}
}

// UrgencyScore returns 15 when the posting text contains an "urgent" keyword,
// 8 for a softer "soon" keyword, 0 otherwise.
func UrgencyScore(title, description string) int {
	text := strings.ToLower(title + " " + description)
	for _, kw := range urgentKeywords {
		if strings.Contains(text, kw) {
			return 15
		}
	}
	for _, kw := range soonKeywords {
		if strings.Contains(text, kw) {
			return 8
		}
	}
	return 0
}
