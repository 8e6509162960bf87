// Package meeting holds the persistent meeting records and the repository
// that writes them transactionally.
package meeting

import "time"

// Meeting is the persisted result of one successfully ingested recording.
// The filename (object key) is unique: it is the natural idempotency key
// for at-least-once delivery. Rows are created exactly once and never
// updated by the pipeline.
type Meeting struct {
	ID            int64
	Filename      string
	Title         string
	Summary       string
	ShortSummary  string
	Transcription string
	DurationMs    int64
	CreatedAt     time.Time
}

// Participant is a speaking participant extracted from the transcript,
// created in the same transaction as its Meeting.
type Participant struct {
	ID        int64
	Name      string
	Role      string
	MeetingID int64
}

// Analysis is the structured digest derived from a transcript: it is merged
// into the Meeting row at write time, never persisted on its own.
type Analysis struct {
	Title        string                `json:"title"`
	Summary      string                `json:"summary"`
	ShortSummary string                `json:"short_summary"`
	Participants []AnalysisParticipant `json:"participants"`
}

type AnalysisParticipant struct {
	Name string `json:"name"`
	Role string `json:"role"`
}
