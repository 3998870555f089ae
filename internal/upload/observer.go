package upload

import "time"

// Observer receives upload subsystem telemetry. Implementations must be
// safe for concurrent use. A nil Observer disables reporting.
type Observer interface {
	// RecordUpload tracks one finished upload attempt.
	RecordUpload(duration time.Duration, sizeBytes int64, err error)
	// RecordCommit tracks one reconciler commit.
	RecordCommit(err error)
	// RecordCancel tracks a user-initiated cancellation.
	RecordCancel()
	// RecordSweep tracks one executed sweep and how many orphans it found.
	RecordSweep(orphans int)
	// RecordOrphanDelete tracks one remote delete issued for an orphan.
	RecordOrphanDelete(duration time.Duration, err error)
}
