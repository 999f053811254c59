package storage

import (
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS lineages (
		id TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		source_scope TEXT NOT NULL,
		event_id TEXT NOT NULL DEFAULT '',
		first_seen_at TIMESTAMPTZ NOT NULL,
		last_seen_at TIMESTAMPTZ NOT NULL,
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
		decided_at TIMESTAMPTZ NOT NULL,
		source_id TEXT NOT NULL,
		classification TEXT NOT NULL,
		report_number INTEGER NOT NULL,
		is_final BOOLEAN NOT NULL,
		silenced BOOLEAN NOT NULL,
		event_json JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_decided_at ON decisions(decided_at)`,
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/hazardguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, schema: postgresSchema, bind: rebindDollar}}, nil
}

// rebindDollar rewrites ? placeholders to $1, $2, ...
func rebindDollar(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
