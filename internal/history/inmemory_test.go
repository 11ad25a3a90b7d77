package history

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestInMemorySinkSaveAndRecent(t *testing.T) {
	s := NewInMemorySink()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := Record{
			CallID:      fmt.Sprintf("c%d", i),
			PhoneNumber: "+15551230000",
			DeviceID:    "d1",
			EndedAt:     time.Now().UTC(),
		}
		if err := s.SaveCall(ctx, rec); err != nil {
			t.Fatalf("SaveCall() error = %v", err)
		}
	}

	recent, err := s.RecentCalls(ctx, 2)
	if err != nil {
		t.Fatalf("RecentCalls() error = %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("RecentCalls() len = %d, want 2", len(recent))
	}
	// Most recent first.
	if recent[0].CallID != "c2" || recent[1].CallID != "c1" {
		t.Fatalf("RecentCalls() order = [%s %s], want [c2 c1]", recent[0].CallID, recent[1].CallID)
	}
}

func TestInMemorySinkEmpty(t *testing.T) {
	s := NewInMemorySink()
	recent, err := s.RecentCalls(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentCalls() error = %v", err)
	}
	if recent != nil {
		t.Fatalf("RecentCalls() on empty sink = %v, want nil", recent)
	}
}
