package history

import (
	"context"
	"strings"
)

// NewSink creates a postgres-backed sink when configured, otherwise in-memory.
func NewSink(ctx context.Context, databaseURL string) (Sink, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemorySink(), nil
	}
	return NewPostgresSink(ctx, databaseURL)
}
