package bhyve

import "time"

// Timestamp layouts observed on the vendor API. Most payloads carry
// millisecond precision ("2020-01-09T20:30:00.000Z"), some omit it.
var orbitLayouts = []string{
	"2006-01-02T15:04:05.000Z",
	time.RFC3339Nano,
	time.RFC3339,
}

// OrbitTimeToLocal converts a vendor UTC timestamp string to the local
// time zone. ok is false for empty or malformed input.
func OrbitTimeToLocal(ts string) (time.Time, bool) {
	if ts == "" {
		return time.Time{}, false
	}
	for _, layout := range orbitLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.Local(), true
		}
	}
	return time.Time{}, false
}
