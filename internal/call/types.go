package call

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusRinging    Status = "ringing"
	StatusAnswered   Status = "answered"
	StatusInProgress Status = "in_progress"
	StatusEnded      Status = "ended"
)

var (
	ErrNotFound  = errors.New("call not found")
	ErrDuplicate = errors.New("call already registered")
)

// InvalidTransitionError reports an illegal status change request.
type InvalidTransitionError struct {
	CallID string
	From   Status
	To     Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("call %s: invalid transition %s -> %s", e.CallID, e.From, e.To)
}

// ParseStatus validates a wire status value.
func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusRinging, StatusAnswered, StatusInProgress, StatusEnded:
		return Status(raw), true
	default:
		return "", false
	}
}

// legalNext reports whether from -> to is a permitted transition. Ending is
// legal from any non-terminal state; everything else follows the exact
// ringing -> answered -> in_progress order.
func legalNext(from, to Status) bool {
	if to == StatusEnded {
		return from != StatusEnded
	}
	switch from {
	case StatusRinging:
		return to == StatusAnswered
	case StatusAnswered:
		return to == StatusInProgress
	default:
		return false
	}
}

// Session is the in-memory record of one phone call's lifecycle. The device
// connection is referenced by id only; the session survives the device
// disconnecting mid-call.
type Session struct {
	CallID      string    `json:"call_id"`
	PhoneNumber string    `json:"phone_number"`
	DeviceID    string    `json:"device_id"`
	Incoming    bool      `json:"incoming"`
	Status      Status    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	AnsweredAt  time.Time `json:"answered_at,omitzero"`
	EndedAt     time.Time `json:"ended_at,omitzero"`
	// DurationSeconds is computed exactly once, at the ended transition,
	// as ended_at - (answered_at if answered, else started_at).
	DurationSeconds int      `json:"duration_seconds"`
	Transcript      []string `json:"transcript,omitempty"`
	Summary         string   `json:"summary,omitempty"`
}

func (s Session) FullTranscript() string {
	return strings.Join(s.Transcript, "\n")
}

func (s Session) Terminal() bool {
	return s.Status == StatusEnded
}
