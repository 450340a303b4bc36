package registry

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// CheckpointStore records every connector configuration snapshot the
// persister writes, timestamped, as a crash-recovery and audit trail
// independent of the live config.json file. It exercises the cgo
// sqlite3 driver alongside the Rule Store's pure-Go modernc.org/sqlite,
// per §6's "same snapshot, two drivers" decision.
type CheckpointStore struct {
	db *sql.DB
}

// NewCheckpointStore opens (creating if needed) a sqlite3 database at
// path and ensures its checkpoints table exists.
func NewCheckpointStore(path string) (*CheckpointStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS connector_checkpoints (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	captured_at TEXT NOT NULL,
	document    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_captured_at ON connector_checkpoints(captured_at);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: migrate: %w", err)
	}
	return &CheckpointStore{db: db}, nil
}

// Record inserts one checkpoint row. Errors are non-fatal to the
// caller's persistence flow; the JSON config file remains authoritative.
func (c *CheckpointStore) Record(document []byte) error {
	_, err := c.db.Exec(
		`INSERT INTO connector_checkpoints (captured_at, document) VALUES (?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), string(document),
	)
	if err != nil {
		return fmt.Errorf("checkpoint: record: %w", err)
	}
	return nil
}

// Latest returns the most recently recorded checkpoint document and its
// capture time, for crash-recovery inspection. Returns sql.ErrNoRows if
// no checkpoint has ever been recorded.
func (c *CheckpointStore) Latest() ([]byte, time.Time, error) {
	var doc string
	var capturedAt string
	err := c.db.QueryRow(
		`SELECT captured_at, document FROM connector_checkpoints ORDER BY id DESC LIMIT 1`,
	).Scan(&capturedAt, &doc)
	if err != nil {
		return nil, time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, capturedAt)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("checkpoint: parse captured_at: %w", err)
	}
	return []byte(doc), t, nil
}

// Prune deletes all but the keep most recent checkpoint rows, called
// periodically so the audit trail doesn't grow unbounded.
func (c *CheckpointStore) Prune(keep int) error {
	_, err := c.db.Exec(
		`DELETE FROM connector_checkpoints WHERE id NOT IN (
			SELECT id FROM connector_checkpoints ORDER BY id DESC LIMIT ?
		)`, keep,
	)
	return err
}

func (c *CheckpointStore) Close() error { return c.db.Close() }
