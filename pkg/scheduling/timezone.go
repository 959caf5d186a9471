package scheduling

import "time"

// Fixed offset table, minutes east of UTC. No daylight-saving adjustment:
// submission pacing only needs a plausible local wall clock, not civil-time
// accuracy. Unknown zones fall back to UTC.
var zoneOffsets = map[string]int{
	"UTC":                 0,
	"Europe/London":       0,
	"Europe/Berlin":       60,
	"Europe/Paris":        60,
	"Europe/Madrid":       60,
	"Europe/Warsaw":       60,
	"Europe/Kyiv":         120,
	"Asia/Kolkata":        330,
	"Asia/Singapore":      480,
	"Asia/Tokyo":          540,
	"Australia/Sydney":    600,
	"America/Sao_Paulo":   -180,
	"America/New_York":    -300,
	"America/Chicago":     -360,
	"America/Denver":      -420,
	"America/Los_Angeles": -480,
}

// Location resolves a zone name against the fixed offset table.
func Location(name string) *time.Location {
	offset, ok := zoneOffsets[name]
	if !ok {
		return time.UTC
	}
	if offset == 0 {
		return time.UTC
	}
	return time.FixedZone(name, offset*60)
}
