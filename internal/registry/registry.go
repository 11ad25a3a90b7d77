package registry

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

var ErrAlreadyRegistered = errors.New("connection id already registered")

// Transport is the write side of a live connection. The registry owns the
// handle exclusively; nothing outside this package can reach it.
type Transport interface {
	WriteJSON(v any) error
	Close() error
}

// Connection is the externally visible view of a registered transport.
type Connection struct {
	ID           string            `json:"id"`
	ConnectedAt  time.Time         `json:"connected_at"`
	LastActiveAt time.Time         `json:"last_active_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type entry struct {
	conn      Connection
	transport Transport
}

// Registry tracks every live transport connection, device or observer.
type Registry struct {
	mu           sync.RWMutex
	conns        map[string]*entry
	onUnregister func(id string)
	onSendFail   func(id string)
}

func New() *Registry {
	return &Registry{conns: make(map[string]*entry)}
}

// SetUnregisterHook installs a callback invoked after a connection is
// removed, outside the registry lock. Used to prune observer sets.
func (r *Registry) SetUnregisterHook(hook func(id string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUnregister = hook
}

// SetSendFailureHook installs a callback for failed directed sends.
func (r *Registry) SetSendFailureHook(hook func(id string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSendFail = hook
}

func (r *Registry) Register(id string, transport Transport) (Connection, error) {
	now := time.Now().UTC()
	c := Connection{
		ID:           id,
		ConnectedAt:  now,
		LastActiveAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[id]; exists {
		return Connection{}, ErrAlreadyRegistered
	}
	r.conns[id] = &entry{conn: c, transport: transport}
	return cloneConn(c), nil
}

// Unregister closes and removes a connection. Removing an absent id is a
// no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	e, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	hook := r.onUnregister
	r.mu.Unlock()

	if !ok {
		return
	}
	_ = e.transport.Close()
	if hook != nil {
		hook(id)
	}
}

// Touch refreshes the last-active timestamp on any inbound message.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[id]; ok {
		e.conn.LastActiveAt = time.Now().UTC()
	}
}

// UpdateMetadata merges fields into the connection metadata and refreshes
// last-active. Unknown ids are logged and ignored.
func (r *Registry) UpdateMetadata(id string, fields map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		log.Printf("registry: metadata update for unknown connection %s", id)
		return
	}
	if e.conn.Metadata == nil {
		e.conn.Metadata = make(map[string]string, len(fields))
	}
	for k, v := range fields {
		e.conn.Metadata[k] = v
	}
	e.conn.LastActiveAt = time.Now().UTC()
}

// Send attempts a directed write. It reports failure instead of returning an
// error: an unknown id or a dead transport must never crash the caller.
func (r *Registry) Send(id string, msg any) bool {
	r.mu.RLock()
	e, ok := r.conns[id]
	hook := r.onSendFail
	r.mu.RUnlock()

	if !ok {
		return false
	}
	if err := e.transport.WriteJSON(msg); err != nil {
		if hook != nil {
			hook(id)
		}
		return false
	}
	return true
}

// Broadcast fans a message out to every registered connection. A failing
// connection does not prevent delivery to the rest.
func (r *Registry) Broadcast(msg any) (success, failure int) {
	r.mu.RLock()
	targets := make([]*entry, 0, len(r.conns))
	for _, e := range r.conns {
		targets = append(targets, e)
	}
	hook := r.onSendFail
	r.mu.RUnlock()

	for _, e := range targets {
		if err := e.transport.WriteJSON(msg); err != nil {
			failure++
			if hook != nil {
				hook(e.conn.ID)
			}
			continue
		}
		success++
	}
	return success, failure
}

// ListActive returns a snapshot of every registered connection. The
// transport handle is never part of the view.
func (r *Registry) ListActive() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connection, 0, len(r.conns))
	for _, e := range r.conns {
		out = append(out, cloneConn(e.conn))
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// EvictInactive closes and removes connections idle longer than threshold.
func (r *Registry) EvictInactive(threshold time.Duration) int {
	now := time.Now().UTC()

	r.mu.Lock()
	var evicted []*entry
	for id, e := range r.conns {
		if now.Sub(e.conn.LastActiveAt) < threshold {
			continue
		}
		delete(r.conns, id)
		evicted = append(evicted, e)
	}
	hook := r.onUnregister
	r.mu.Unlock()

	for _, e := range evicted {
		_ = e.transport.Close()
		if hook != nil {
			hook(e.conn.ID)
		}
		log.Printf("registry: evicted inactive connection %s (idle since %s)", e.conn.ID, e.conn.LastActiveAt.Format(time.RFC3339))
	}
	return len(evicted)
}

// StartJanitor runs periodic eviction until ctx is cancelled.
func (r *Registry) StartJanitor(ctx context.Context, interval, threshold time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.EvictInactive(threshold)
			}
		}
	}()
}

func cloneConn(c Connection) Connection {
	out := c
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
