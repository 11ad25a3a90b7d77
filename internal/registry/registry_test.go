package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeTransport struct {
	mu       sync.Mutex
	messages []any
	failWith error
	closed   bool
}

func (t *fakeTransport) WriteJSON(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failWith != nil {
		return t.failWith
	}
	t.messages = append(t.messages, v)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	if _, err := r.Register("conn-1", &fakeTransport{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := r.Register("conn-1", &fakeTransport{}); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("duplicate Register() error = %v, want ErrAlreadyRegistered", err)
	}
}

func TestUnregisterIdempotent(t *testing.T) {
	r := New()
	tr := &fakeTransport{}
	if _, err := r.Register("conn-1", tr); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	var pruned []string
	r.SetUnregisterHook(func(id string) { pruned = append(pruned, id) })

	r.Unregister("conn-1")
	r.Unregister("conn-1")
	r.Unregister("never-existed")

	if !tr.closed {
		t.Fatalf("transport should be closed on unregister")
	}
	if len(pruned) != 1 || pruned[0] != "conn-1" {
		t.Fatalf("unregister hook calls = %v, want [conn-1]", pruned)
	}
}

func TestSendToUnknownConnection(t *testing.T) {
	r := New()
	if ok := r.Send("ghost", "hello"); ok {
		t.Fatalf("Send to unknown connection should report failure")
	}
}

func TestSendFailureDoesNotPanic(t *testing.T) {
	r := New()
	tr := &fakeTransport{failWith: errors.New("broken pipe")}
	if _, err := r.Register("conn-1", tr); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if ok := r.Send("conn-1", "hello"); ok {
		t.Fatalf("Send over a failing transport should report failure")
	}
}

func TestBroadcastSkipsFailingConnection(t *testing.T) {
	r := New()
	good1 := &fakeTransport{}
	bad := &fakeTransport{failWith: errors.New("write timeout")}
	good2 := &fakeTransport{}
	for id, tr := range map[string]*fakeTransport{"a": good1, "b": bad, "c": good2} {
		if _, err := r.Register(id, tr); err != nil {
			t.Fatalf("Register(%s) error = %v", id, err)
		}
	}

	success, failure := r.Broadcast("ping")
	if success != 2 || failure != 1 {
		t.Fatalf("Broadcast() = (%d, %d), want (2, 1)", success, failure)
	}
	if good1.count() != 1 || good2.count() != 1 {
		t.Fatalf("healthy transports should each receive the broadcast")
	}
}

func TestUpdateMetadataMerges(t *testing.T) {
	r := New()
	if _, err := r.Register("conn-1", &fakeTransport{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	r.UpdateMetadata("conn-1", map[string]string{"model": "Pixel 8"})
	r.UpdateMetadata("conn-1", map[string]string{"app_version": "1.4.2"})
	// Unknown id is a logged no-op.
	r.UpdateMetadata("ghost", map[string]string{"model": "?"})

	conns := r.ListActive()
	if len(conns) != 1 {
		t.Fatalf("ListActive() len = %d, want 1", len(conns))
	}
	md := conns[0].Metadata
	if md["model"] != "Pixel 8" || md["app_version"] != "1.4.2" {
		t.Fatalf("metadata = %v, want merged fields", md)
	}
}

func TestListActiveExcludesTransport(t *testing.T) {
	r := New()
	if _, err := r.Register("conn-1", &fakeTransport{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	conns := r.ListActive()
	if len(conns) != 1 || conns[0].ID != "conn-1" {
		t.Fatalf("unexpected ListActive(): %+v", conns)
	}
	// Mutating the returned metadata must not reach the registry.
	if conns[0].Metadata != nil {
		conns[0].Metadata["x"] = "y"
	}
}

func TestEvictInactive(t *testing.T) {
	r := New()
	stale := &fakeTransport{}
	fresh := &fakeTransport{}
	if _, err := r.Register("stale", stale); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := r.Register("fresh", fresh); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	r.Touch("fresh")

	n := r.EvictInactive(20 * time.Millisecond)
	if n != 1 {
		t.Fatalf("EvictInactive() = %d, want 1", n)
	}
	if !stale.closed {
		t.Fatalf("evicted transport should be closed")
	}
	if r.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", r.Count())
	}
}

func TestJanitorEvicts(t *testing.T) {
	r := New()
	if _, err := r.Register("conn-1", &fakeTransport{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartJanitor(ctx, 10*time.Millisecond, 30*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for r.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("janitor did not evict idle connection in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
