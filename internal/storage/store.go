// Package storage checkpoints lineage state and records push decisions in
// SQLite or PostgreSQL through database/sql.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"hazardguard/internal/config"
	"hazardguard/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveLineages(ctx context.Context, lineages []model.Lineage) error
	LoadLineages(ctx context.Context) ([]model.Lineage, error)
	DeleteLineages(ctx context.Context, ids []string) error
	SaveDecision(ctx context.Context, d model.PushDecision) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

// baseStore holds the queries shared by both drivers. Queries are written
// with ? placeholders and passed through bind.
type baseStore struct {
	db     *sql.DB
	schema []string
	bind   func(string) string
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) Init(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range b.schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const upsertLineage = `INSERT INTO lineages (id, fingerprint, source_scope, event_id, first_seen_at, last_seen_at,
	max_report_seen, last_pushed_report, last_known_final, report_count, state, determination)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		fingerprint = excluded.fingerprint,
		source_scope = excluded.source_scope,
		event_id = excluded.event_id,
		first_seen_at = excluded.first_seen_at,
		last_seen_at = excluded.last_seen_at,
		max_report_seen = excluded.max_report_seen,
		last_pushed_report = excluded.last_pushed_report,
		last_known_final = excluded.last_known_final,
		report_count = excluded.report_count,
		state = excluded.state,
		determination = excluded.determination`

// SaveLineages upserts the whole batch in one transaction.
func (b *baseStore) SaveLineages(ctx context.Context, lineages []model.Lineage) error {
	if b.db == nil || len(lineages) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, b.bind(upsertLineage))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, l := range lineages {
		var lastPushed sql.NullInt64
		if l.LastPushedReportNumber != nil {
			lastPushed = sql.NullInt64{Int64: int64(*l.LastPushedReportNumber), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			l.ID,
			l.Fingerprint,
			l.SourceScope,
			l.EventID,
			l.FirstSeenAt.UTC(),
			l.LastSeenAt.UTC(),
			l.MaxReportNumberSeen,
			lastPushed,
			l.LastKnownFinal,
			l.ReportCount,
			string(l.State),
			l.Determination,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("save lineage %s: %w", l.ID, err)
		}
	}
	return tx.Commit()
}

func (b *baseStore) LoadLineages(ctx context.Context) ([]model.Lineage, error) {
	if b.db == nil {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx, `SELECT id, fingerprint, source_scope, event_id, first_seen_at, last_seen_at,
		max_report_seen, last_pushed_report, last_known_final, report_count, state, determination
		FROM lineages ORDER BY first_seen_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Lineage
	for rows.Next() {
		var (
			l          model.Lineage
			first      sqlTime
			last       sqlTime
			lastPushed sql.NullInt64
			state      string
		)
		if err := rows.Scan(&l.ID, &l.Fingerprint, &l.SourceScope, &l.EventID, &first, &last,
			&l.MaxReportNumberSeen, &lastPushed, &l.LastKnownFinal, &l.ReportCount, &state, &l.Determination); err != nil {
			return nil, err
		}
		l.FirstSeenAt = first.Time
		l.LastSeenAt = last.Time
		l.State = model.LineageState(state)
		if lastPushed.Valid {
			l.LastPushedReportNumber = model.Int(int(lastPushed.Int64))
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (b *baseStore) DeleteLineages(ctx context.Context, ids []string) error {
	if b.db == nil || len(ids) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, b.bind(`DELETE FROM lineages WHERE id = ?`))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (b *baseStore) SaveDecision(ctx context.Context, d model.PushDecision) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.bind(`INSERT INTO decisions
		(id, lineage_id, decided_at, source_id, classification, report_number, is_final, silenced, event_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		d.ID,
		d.LineageID,
		d.DecidedAt.UTC(),
		d.Event.SourceID,
		string(d.Classification),
		d.ReportNumber,
		d.IsFinal,
		d.Silenced,
		encodeJSON(d.Event),
	)
	return err
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

// sqlTime scans timestamps from drivers that return either time.Time or
// text.
type sqlTime struct {
	time.Time
}

var sqlTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *sqlTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	}
	return fmt.Errorf("unsupported time value %T", src)
}

func (t *sqlTime) parse(s string) error {
	s = strings.TrimSpace(s)
	// Go's default time formatting appends a monotonic clock reading.
	if idx := strings.Index(s, " m="); idx >= 0 {
		s = s[:idx]
	}
	for _, layout := range sqlTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			t.Time = ts.UTC()
			return nil
		}
	}
	if ts, err := time.Parse("2006-01-02 15:04:05.999999999 -0700 MST", s); err == nil {
		t.Time = ts.UTC()
		return nil
	}
	return fmt.Errorf("unparseable time %q", s)
}
