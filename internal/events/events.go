package events

import "github.com/mfenderov/bam-events/internal/report"

// SourceCompleteEvent is sent by a worker when a source's sub-run ends.
type SourceCompleteEvent struct {
	Report report.SourceReport // Final counts, owned by the receiver
	Fatal  error               // Non-nil when the run must abort (store failure)
}

