package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS lineages (
		id TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		source_scope TEXT NOT NULL,
		event_id TEXT NOT NULL DEFAULT '',
		first_seen_at DATETIME NOT NULL,
		last_seen_at DATETIME NOT NULL,
		max_report_seen INTEGER NOT NULL,
		last_pushed_report INTEGER,
		last_known_final BOOLEAN NOT NULL,
		report_count INTEGER NOT NULL,
		state TEXT NOT NULL,
		determination INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lineages_fingerprint ON lineages(fingerprint)`,
	`CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		lineage_id TEXT NOT NULL,
		decided_at DATETIME NOT NULL,
		source_id TEXT NOT NULL,
		classification TEXT NOT NULL,
		report_number INTEGER NOT NULL,
		is_final BOOLEAN NOT NULL,
		silenced BOOLEAN NOT NULL,
		event_json TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_decided_at ON decisions(decided_at)`,
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:hazardguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer keeps checkpoints from racing on the file lock.
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db, schema: sqliteSchema, bind: func(q string) string { return q }}}, nil
}
