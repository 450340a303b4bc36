package rulestore

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

// Store is the SQLite-backed rule store. It mirrors alarm_rules and its
// child tables in an in-memory cache that every read method serves from,
// invalidated on each successful mutation.
type Store struct {
	db *sql.DB

	cacheMu sync.RWMutex
	cache   map[string]*Rule // by rule id, nil until first load
}

// NewStore opens (creating if needed) the SQLite database at path and
// runs migrations.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("rulestore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serialises writes; avoid SQLITE_BUSY under concurrent callers

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.loadCache(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS alarm_rules (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	priority    INTEGER NOT NULL DEFAULT 0,
	category    TEXT NOT NULL DEFAULT '',
	enabled     INTEGER NOT NULL DEFAULT 1,
	cooldown_sec INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS alarm_conditions (
	id                TEXT PRIMARY KEY,
	rule_id           TEXT NOT NULL REFERENCES alarm_rules(id) ON DELETE CASCADE,
	condition_type    TEXT NOT NULL,
	condition_value   TEXT NOT NULL,
	condition_operator TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS alarm_actions (
	id            TEXT PRIMARY KEY,
	rule_id       TEXT NOT NULL REFERENCES alarm_rules(id) ON DELETE CASCADE,
	action_type   TEXT NOT NULL,
	action_config TEXT NOT NULL DEFAULT '{}',
	action_order  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS alarm_history (
	id           TEXT PRIMARY KEY,
	rule_id      TEXT NOT NULL REFERENCES alarm_rules(id) ON DELETE CASCADE,
	event_type   TEXT NOT NULL,
	event_source TEXT NOT NULL DEFAULT '',
	event_data   TEXT NOT NULL DEFAULT '{}',
	triggered_at TEXT NOT NULL,
	resolved_at  TEXT,
	status       TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS alarm_acknowledgments (
	id              TEXT PRIMARY KEY,
	alarm_id        TEXT NOT NULL REFERENCES alarm_history(id) ON DELETE CASCADE,
	user_id         TEXT NOT NULL,
	acknowledged_at TEXT NOT NULL,
	notes           TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_alarm_conditions_rule ON alarm_conditions(rule_id);
CREATE INDEX IF NOT EXISTS idx_alarm_actions_rule ON alarm_actions(rule_id);
CREATE INDEX IF NOT EXISTS idx_alarm_history_rule ON alarm_history(rule_id);
CREATE INDEX IF NOT EXISTS idx_alarm_history_status ON alarm_history(status);
CREATE INDEX IF NOT EXISTS idx_alarm_ack_alarm ON alarm_acknowledgments(alarm_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("rulestore: migrate: %w", err)
	}
	return nil
}

// NewID returns a UUIDv7 identifier, falling back to UUIDv4 on hosts
// whose clock source trips the v7 generator.
func NewID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.New().String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
