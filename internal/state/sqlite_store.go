package state

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Pure Go SQLite driver, avoids a cgo build requirement for the
	// embedded snapshot store.
	_ "modernc.org/sqlite"

	"github.com/hotreload/hmr/internal/herrors"
	"github.com/hotreload/hmr/internal/metrics"
	"github.com/hotreload/hmr/internal/registry"
	"github.com/hotreload/hmr/internal/resilience"
)

// SQLiteStore implements Store on top of an embedded SQLite database,
// used for the `snapshots/` directory named in spec §6's persisted
// state layout.
type SQLiteStore struct {
	db           *sql.DB
	logger       *slog.Logger
	path         string
	retryMetrics *metrics.RetryMetrics
}

// putRetryPolicy governs Put's retry against SQLITE_BUSY/"database is
// locked" — the transient failure mode multiple snapshot writers
// competing for the single-writer WAL-mode database actually produce.
func putRetryPolicy(logger *slog.Logger, m *metrics.RetryMetrics) *resilience.RetryPolicy {
	return &resilience.RetryPolicy{
		MaxRetries:    5,
		BaseDelay:     10 * time.Millisecond,
		MaxDelay:      250 * time.Millisecond,
		Multiplier:    2.0,
		Jitter:        true,
		ErrorChecker:  sqliteBusyChecker{},
		Logger:        logger,
		Metrics:       m,
		OperationName: "state_put",
	}
}

// sqliteBusyChecker treats SQLite's lock-contention errors as
// retryable and everything else (constraint violations, malformed
// SQL, a closed database) as permanent.
type sqliteBusyChecker struct{}

func (sqliteBusyChecker) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed Store at
// path, with WAL journaling enabled for concurrent reads during writes.
// retryMetrics may be nil to disable retry metrics without disabling
// the retries themselves.
func NewSQLiteStore(ctx context.Context, path string, logger *slog.Logger, retryMetrics *metrics.RetryMetrics) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("state: sqlite path cannot be empty")
	}
	if strings.Contains(path, "..") {
		return nil, fmt.Errorf("state: invalid path contains '..': %s", path)
	}
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("state: creating snapshot directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("state: opening sqlite: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: sqlite ping failed: %w", err)
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: initializing schema: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger, path: path, retryMetrics: retryMetrics}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS snapshots (
	id               TEXT PRIMARY KEY,
	module_id        INTEGER NOT NULL,
	major            INTEGER NOT NULL,
	minor            INTEGER NOT NULL,
	patch            INTEGER NOT NULL,
	build            INTEGER NOT NULL,
	bytes            BLOB NOT NULL,
	size             INTEGER NOT NULL,
	checksum         TEXT NOT NULL,
	compression_kind TEXT NOT NULL,
	created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_module ON snapshots(module_id, created_at);
`

func (s *SQLiteStore) Put(ctx context.Context, snap *Snapshot) error {
	err := resilience.WithRetry(ctx, putRetryPolicy(s.logger, s.retryMetrics), func() error {
		_, execErr := s.db.ExecContext(ctx, `
			INSERT INTO snapshots (id, module_id, major, minor, patch, build, bytes, size, checksum, compression_kind, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET bytes=excluded.bytes, size=excluded.size, checksum=excluded.checksum`,
			snap.ID, uint64(snap.ModuleID), snap.Version.Major, snap.Version.Minor, snap.Version.Patch, snap.Version.Build,
			snap.Bytes, snap.Size, snap.Checksum, string(snap.CompressionKind), snap.CreatedAt.UnixNano(),
		)
		return execErr
	})
	if err != nil {
		return herrors.Wrap(herrors.WalWriteFailed, "persisting snapshot", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, module_id, major, minor, patch, build, bytes, size, checksum, compression_kind, created_at FROM snapshots WHERE id = ?`, id)
	return scanSnapshot(row)
}

func (s *SQLiteStore) Latest(ctx context.Context, moduleID registry.ID) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, module_id, major, minor, patch, build, bytes, size, checksum, compression_kind, created_at FROM snapshots WHERE module_id = ? ORDER BY created_at DESC LIMIT 1`, uint64(moduleID))
	return scanSnapshot(row)
}

func (s *SQLiteStore) Lineage(ctx context.Context, moduleID registry.ID) ([]*Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, module_id, major, minor, patch, build, bytes, size, checksum, compression_kind, created_at FROM snapshots WHERE module_id = ? ORDER BY created_at ASC`, uint64(moduleID))
	if err != nil {
		return nil, herrors.Wrap(herrors.NotFound, "querying lineage", err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshotRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GC(ctx context.Context, policy RetentionPolicy, keepIDs map[string]struct{}) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT module_id FROM snapshots`)
	if err != nil {
		return 0, err
	}
	var moduleIDs []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		moduleIDs = append(moduleIDs, id)
	}
	rows.Close()

	deleted := 0
	for _, moduleID := range moduleIDs {
		ids, err := s.snapshotIDsNewestFirst(ctx, moduleID)
		if err != nil {
			return deleted, err
		}

		for i, id := range ids {
			if _, pinned := keepIDs[id]; pinned {
				continue
			}
			if policy.Count > 0 && i < policy.Count {
				continue
			}
			res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ? AND created_at < ?`,
				id, time.Now().Add(-policy.Age).UnixNano())
			if err != nil {
				return deleted, err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				deleted += int(n)
			}
		}
	}
	return deleted, nil
}

func (s *SQLiteStore) snapshotIDsNewestFirst(ctx context.Context, moduleID uint64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM snapshots WHERE module_id = ? ORDER BY created_at DESC`, moduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row *sql.Row) (*Snapshot, error) {
	return scanSnapshotRow(row)
}

func scanSnapshotRow(row rowScanner) (*Snapshot, error) {
	var (
		snap        Snapshot
		moduleID    uint64
		compression string
		createdAt   int64
	)
	err := row.Scan(&snap.ID, &moduleID, &snap.Version.Major, &snap.Version.Minor, &snap.Version.Patch, &snap.Version.Build,
		&snap.Bytes, &snap.Size, &snap.Checksum, &compression, &createdAt)
	if err == sql.ErrNoRows {
		return nil, herrors.New(herrors.NotFound, "snapshot not found")
	}
	if err != nil {
		return nil, herrors.Wrap(herrors.StateCorrupted, "scanning snapshot row", err)
	}
	snap.ModuleID = registry.ID(moduleID)
	snap.CompressionKind = CompressionKind(compression)
	snap.CreatedAt = time.Unix(0, createdAt)
	return &snap, nil
}
