package calllog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// NewStore picks the audit backend from configuration: postgres when a
// database URL is set, otherwise the bounded in-memory trail.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		slog.Info("no database configured, call audit is in-memory only")
		return NewInMemoryStore(), nil
	}
	store, err := NewPostgresStore(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	return store, nil
}
