package state

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hotreload/hmr/internal/metrics"
)

// Backend selects which Store implementation to construct.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendSQLite Backend = "sqlite"
)

// Config configures store construction.
type Config struct {
	Backend    Backend
	SQLitePath string
	// RetryMetrics records WithRetry attempts/backoff for the SQLite
	// backend's transient-failure retries. Nil disables metrics, not
	// retries.
	RetryMetrics *metrics.RetryMetrics
}

// NewStore builds a Store for cfg.Backend, falling back to an
// in-memory store with a warning if the configured backend fails to
// open — mirroring the teacher's graceful-degradation posture for
// storage outages.
func NewStore(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case BackendSQLite:
		store, err := NewSQLiteStore(ctx, cfg.SQLitePath, logger, cfg.RetryMetrics)
		if err != nil {
			logger.Error("sqlite state store unavailable, degrading to in-memory", "error", err)
			return NewMemoryStore(logger), nil
		}
		return store, nil
	case BackendMemory, "":
		return NewMemoryStore(logger), nil
	default:
		return nil, fmt.Errorf("state: unknown backend %q", cfg.Backend)
	}
}
