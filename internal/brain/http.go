package brain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmverd/switchboard/internal/audio"
	"github.com/jmverd/switchboard/internal/reliability"
)

// HTTPProvider forwards capability calls to a triage-compatible HTTP
// backend. Endpoints are baseURL + /transcribe, /respond, /summarize.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProvider(baseURL string) (*HTTPProvider, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("triage HTTP URL is required")
	}
	return &HTTPProvider{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

type transcribeRequest struct {
	AudioBase64 string      `json:"audio_base64"`
	Call        CallContext `json:"call"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

type respondRequest struct {
	Transcript string      `json:"transcript"`
	Call       CallContext `json:"call"`
}

type summarizeRequest struct {
	Transcript string      `json:"transcript"`
	Call       CallContext `json:"call"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

func (p *HTTPProvider) Transcribe(ctx context.Context, pcm []byte, call CallContext) (string, error) {
	// Devices stream bare PCM16LE; the backend expects a WAV container.
	wav, err := audio.EnsureWAV(pcm, audio.DefaultSampleRate)
	if err != nil {
		return "", &CapabilityError{Op: "transcribe", Code: "bad_audio", Err: err}
	}

	var out transcribeResponse
	err = p.post(ctx, "transcribe", transcribeRequest{
		AudioBase64: base64.StdEncoding.EncodeToString(wav),
		Call:        call,
	}, &out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Text), nil
}

func (p *HTTPProvider) Respond(ctx context.Context, transcript string, call CallContext) (Response, error) {
	var out Response
	err := p.post(ctx, "respond", respondRequest{Transcript: transcript, Call: call}, &out)
	if err != nil {
		return Response{}, err
	}
	switch out.Action {
	case ActionSpeak, ActionEndCall, ActionNone:
	case "":
		out.Action = ActionNone
	default:
		return Response{}, &CapabilityError{
			Op:   "respond",
			Code: "bad_action",
			Err:  fmt.Errorf("unknown action %q", out.Action),
		}
	}
	return out, nil
}

func (p *HTTPProvider) Summarize(ctx context.Context, fullTranscript string, call CallContext) (string, error) {
	var out summarizeResponse
	err := p.post(ctx, "summarize", summarizeRequest{Transcript: fullTranscript, Call: call}, &out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Summary), nil
}

func (p *HTTPProvider) post(ctx context.Context, op string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/"+op, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		code := "transport"
		if reliability.IsTimeout(err) {
			code = "timeout"
		}
		return &CapabilityError{Op: op, Code: code, Retryable: true, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return &CapabilityError{
			Op:        op,
			Code:      fmt.Sprintf("http_%d", res.StatusCode),
			Retryable: reliability.IsRetryableHTTPStatus(res.StatusCode),
			Err:       fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return &CapabilityError{Op: op, Code: "bad_body", Err: err}
	}
	return nil
}

// WebhookNotifier posts plain-text messages to a chat webhook. Failures are
// the caller's problem to swallow; this type just reports them.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string) (*WebhookNotifier, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("chat webhook URL is required")
	}
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}, nil
}

// Notify posts the message, retrying transient failures with a short backoff
// while the context allows.
func (n *WebhookNotifier) Notify(ctx context.Context, message string) error {
	payload, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(reliability.ExponentialBackoff(attempt, 200*time.Millisecond, time.Second)):
			}
		}

		lastErr = n.post(ctx, payload)
		if lastErr == nil {
			return nil
		}
		var capErr *CapabilityError
		if !errors.As(lastErr, &capErr) || !capErr.Retryable {
			return lastErr
		}
	}
	return lastErr
}

func (n *WebhookNotifier) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := n.client.Do(req)
	if err != nil {
		return &CapabilityError{Op: "notify", Code: "transport", Retryable: true, Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &CapabilityError{
			Op:        "notify",
			Code:      fmt.Sprintf("http_%d", res.StatusCode),
			Retryable: reliability.IsRetryableHTTPStatus(res.StatusCode),
		}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<10))
	return nil
}
