package relay

import (
	"sync"

	"github.com/jmverd/switchboard/internal/observability"
	"github.com/jmverd/switchboard/internal/registry"
)

// Event kinds published to observers.
const (
	KindSessionUpdate   = "session_update"
	KindTranscriptDelta = "transcript_delta"
	KindAIResponse      = "ai_response"
	KindSummary         = "summary"
)

// Fanout maintains per-call observer sets and pushes events to them, best
// effort. It holds connection ids only; the registry owns the transports.
type Fanout struct {
	mu   sync.Mutex
	subs map[string]map[string]struct{}

	reg     *registry.Registry
	metrics *observability.Metrics
}

func NewFanout(reg *registry.Registry, metrics *observability.Metrics) *Fanout {
	return &Fanout{
		subs:    make(map[string]map[string]struct{}),
		reg:     reg,
		metrics: metrics,
	}
}

// Subscribe adds a connection to a call's observer set. Idempotent.
func (f *Fanout) Subscribe(callID, connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.subs[callID]
	if !ok {
		set = make(map[string]struct{})
		f.subs[callID] = set
	}
	set[connID] = struct{}{}
}

// Unsubscribe removes a connection from a call's observer set. Idempotent.
func (f *Fanout) Unsubscribe(callID, connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.subs[callID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(f.subs, callID)
	}
}

// PruneConnection removes a connection from every observer set. Hooked to
// registry unregistration.
func (f *Fanout) PruneConnection(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for callID, set := range f.subs {
		delete(set, connID)
		if len(set) == 0 {
			delete(f.subs, callID)
		}
	}
}

// Subscribers returns a snapshot of a call's observer set.
func (f *Fanout) Subscribers(callID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.subs[callID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Publish sends msg to every observer of callID. A missing or failed
// connection is skipped; nothing is surfaced to the publisher beyond the
// delivered count.
func (f *Fanout) Publish(callID, kind string, msg any) int {
	targets := f.Subscribers(callID)

	delivered := 0
	for _, connID := range targets {
		if f.reg.Send(connID, msg) {
			delivered++
			f.metrics.FanoutDeliveries.WithLabelValues(kind, "delivered").Inc()
			continue
		}
		f.metrics.FanoutDeliveries.WithLabelValues(kind, "skipped").Inc()
	}
	return delivered
}
