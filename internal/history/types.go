package history

import (
	"context"
	"time"
)

// Record is the metadata handed to the sink when a call finalizes. Audio is
// never persisted; transcript text and summary are.
type Record struct {
	CallID          string    `json:"call_id"`
	PhoneNumber     string    `json:"phone_number"`
	DeviceID        string    `json:"device_id"`
	Incoming        bool      `json:"incoming"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds int       `json:"duration_seconds"`
	Transcript      string    `json:"transcript"`
	Summary         string    `json:"summary"`
}

// Sink receives finalized call records, best effort. A sink failure never
// affects call state.
type Sink interface {
	SaveCall(ctx context.Context, rec Record) error
	RecentCalls(ctx context.Context, limit int) ([]Record, error)
	Close() error
}
