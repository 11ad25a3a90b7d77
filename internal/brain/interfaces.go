package brain

import (
	"context"
	"fmt"
)

// CallContext carries the call metadata handed to every capability.
type CallContext struct {
	CallID      string `json:"call_id"`
	PhoneNumber string `json:"phone_number"`
	Incoming    bool   `json:"incoming"`
	InProgress  bool   `json:"in_progress"`
}

// Response action values understood by devices.
const (
	ActionSpeak   = "speak"
	ActionEndCall = "end_call"
	ActionNone    = "none"
)

// Response is the triage verdict for one transcript delta.
type Response struct {
	Action string `json:"action"`
	Text   string `json:"text"`
}

// Transcriber converts accumulated call audio to text. It may fail or time
// out; the caller treats that as a skipped attempt.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, call CallContext) (string, error)
}

// Responder produces a conversational reaction to new transcript text.
type Responder interface {
	Respond(ctx context.Context, transcript string, call CallContext) (Response, error)
}

// Summarizer condenses a full call transcript after the call ends.
type Summarizer interface {
	Summarize(ctx context.Context, fullTranscript string, call CallContext) (string, error)
}

// Notifier pushes a message to the operator chat channel, best effort.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Provider bundles the three triage capabilities a backend offers.
type Provider interface {
	Transcriber
	Responder
	Summarizer
}

// CapabilityError wraps an external capability failure with enough context
// to decide between retrying on the next trigger and giving up.
type CapabilityError struct {
	Op        string
	Code      string
	Retryable bool
	Err       error
}

func (e *CapabilityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s failed (%s)", e.Op, e.Code)
}

func (e *CapabilityError) Unwrap() error { return e.Err }
