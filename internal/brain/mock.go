package brain

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider is a deterministic in-process provider used when no triage
// backend is configured, and by tests.
type MockProvider struct {
	mu sync.Mutex

	TranscribeResult string
	RespondResult    Response
	SummarizeResult  string

	TranscribeErr error
	RespondErr    error
	SummarizeErr  error

	transcribeCalls int
	respondCalls    int
	summarizeCalls  int
	notifyCalls     int
	respondInputs   []string
	notifyMessages  []string
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		RespondResult: Response{Action: ActionSpeak, Text: "I'm listening."},
	}
}

func (p *MockProvider) Transcribe(_ context.Context, audio []byte, _ CallContext) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transcribeCalls++
	if p.TranscribeErr != nil {
		return "", p.TranscribeErr
	}
	if p.TranscribeResult != "" {
		return p.TranscribeResult, nil
	}
	return fmt.Sprintf("simulated transcript of %d audio bytes", len(audio)), nil
}

func (p *MockProvider) Respond(_ context.Context, transcript string, _ CallContext) (Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.respondCalls++
	p.respondInputs = append(p.respondInputs, transcript)
	if p.RespondErr != nil {
		return Response{}, p.RespondErr
	}
	return p.RespondResult, nil
}

func (p *MockProvider) Summarize(_ context.Context, fullTranscript string, _ CallContext) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summarizeCalls++
	if p.SummarizeErr != nil {
		return "", p.SummarizeErr
	}
	if p.SummarizeResult != "" {
		return p.SummarizeResult, nil
	}
	return fmt.Sprintf("summary of %d transcript bytes", len(fullTranscript)), nil
}

func (p *MockProvider) Notify(_ context.Context, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifyCalls++
	p.notifyMessages = append(p.notifyMessages, message)
	return nil
}

func (p *MockProvider) TranscribeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transcribeCalls
}

func (p *MockProvider) RespondCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.respondCalls
}

func (p *MockProvider) RespondInputs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.respondInputs...)
}

func (p *MockProvider) SummarizeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summarizeCalls
}

func (p *MockProvider) NotifyMessages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.notifyMessages...)
}
