package policy

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// DedupeHash fingerprints one failure episode. The bucket timestamp is
// truncated to the hour in UTC, so repeated evaluation passes over the same
// missed occurrence collapse to one key while the next scheduled occurrence
// produces a fresh one.
func DedupeHash(monitorID, kind string, bucket time.Time) string {
	hour := bucket.UTC().Truncate(time.Hour)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", monitorID, kind, hour.Unix())))
	return fmt.Sprintf("%x", sum)
}

// DedupeHashDay is the day-granularity variant used by the expiry checkers,
// where an episode spans a calendar day rather than a scheduling hour.
func DedupeHashDay(monitorID, kind string, bucket time.Time) string {
	day := bucket.UTC().Truncate(24 * time.Hour)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", monitorID, kind, day.Unix())))
	return fmt.Sprintf("%x", sum)
}
