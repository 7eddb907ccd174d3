// Package eventlog journals stream events in a local SQLite database so
// finished runs can be replayed after the server restarts.
package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sprite-ai/lensrev/internal/stream"
)

// FileName is the journal's file name inside the data directory.
const FileName = "events.db"

// Log is an append-only event journal.
type Log struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the journal at path.
func Open(path string) (*Log, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("missing event log path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// One connection keeps writes serialized for the single local process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Log{db: db, now: time.Now}, nil
}

func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Append stores one event. Re-appending the same run and sequence number
// replaces the payload.
func (l *Log) Append(ctx context.Context, runID string, seq int, typ string, data []byte) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("missing run id")
	}
	if seq < 1 {
		return fmt.Errorf("invalid sequence number %d", seq)
	}
	_, err := l.db.ExecContext(ctx, `
INSERT INTO run_events(run_id, seq, type, data, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(run_id, seq) DO UPDATE SET type = excluded.type, data = excluded.data
`, runID, seq, typ, string(data), l.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("append event %s/%d: %w", runID, seq, err)
	}
	return nil
}

// Load returns the events of a run ordered by sequence number.
func (l *Log) Load(ctx context.Context, runID string) ([]stream.StoredEvent, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT seq, data
FROM run_events
WHERE run_id = ?
ORDER BY seq ASC
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stream.StoredEvent
	for rows.Next() {
		var (
			seq  int
			data string
		)
		if err := rows.Scan(&seq, &data); err != nil {
			return nil, err
		}
		out = append(out, stream.StoredEvent{Seq: seq, Data: []byte(data)})
	}
	return out, rows.Err()
}

// Prune deletes runs whose newest event is older than maxAge and returns
// the number of deleted events.
func (l *Log) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := l.now().Add(-maxAge).UnixMilli()
	res, err := l.db.ExecContext(ctx, `
DELETE FROM run_events
WHERE run_id IN (
  SELECT run_id FROM run_events GROUP BY run_id HAVING MAX(created_at_unix_ms) < ?
)
`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ stream.Journal = (*Log)(nil)

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	return migrateSchema(db)
}

func migrateSchema(db *sql.DB) error {
	// Schema versions:
	// - v1: run_events table
	const targetVersion = 1

	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if v >= targetVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS run_events (
  run_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  type TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at_unix_ms INTEGER NOT NULL,
  PRIMARY KEY (run_id, seq)
);
`); err != nil {
		return fmt.Errorf("create run_events: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version=%d;`, targetVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return tx.Commit()
}
