package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/crm-enrich/internal/model"
	"github.com/sells-group/crm-enrich/internal/quota"
)

// SQLiteStore implements Store (and quota.CounterStore) using
// modernc.org/sqlite. Records and runs are stored as JSON documents keyed
// by id, which keeps the append-only run log trivial to reason about.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS enrichment_runs (
	id         TEXT PRIMARY KEY,
	record_id  TEXT NOT NULL REFERENCES records(id),
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS quota_counters (
	service TEXT PRIMARY KEY,
	data    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS quota_history (
	service TEXT NOT NULL,
	day     TEXT NOT NULL,
	used    INTEGER NOT NULL,
	success INTEGER NOT NULL,
	error   INTEGER NOT NULL,
	PRIMARY KEY (service, day)
);

CREATE INDEX IF NOT EXISTS idx_runs_record_id ON enrichment_runs(record_id, created_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.EnrichmentRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO enrichment_runs (id, record_id, data, created_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.RecordID, string(data), run.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert run")
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, id string, patch RunPatch) error {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	applyRunPatch(run, patch)
	data, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_runs SET data = ? WHERE id = ?`,
		string(data), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %s", id)
	}
	return checkRowsAffected(res, "run", id)
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.EnrichmentRun, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM enrichment_runs WHERE id = ?`, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", id)
	}
	var run model.EnrichmentRun
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal run %s", id)
	}
	return &run, nil
}

func (s *SQLiteStore) FindLatestRun(ctx context.Context, recordID string) (*model.EnrichmentRun, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM enrichment_runs WHERE record_id = ? ORDER BY created_at DESC LIMIT 1`,
		recordID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest run for %s", recordID)
	}
	var run model.EnrichmentRun
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal run")
	}
	return &run, nil
}

func (s *SQLiteStore) FindRunsFor(ctx context.Context, recordID string) ([]model.EnrichmentRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM enrichment_runs WHERE record_id = ? ORDER BY created_at DESC`,
		recordID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: runs for %s", recordID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.EnrichmentRun
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		var run model.EnrichmentRun
		if err := json.Unmarshal([]byte(data), &run); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run")
		}
		out = append(out, run)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE id = ?`, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: record %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", id)
	}
	var r model.Record
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal record %s", id)
	}
	return &r, nil
}

func (s *SQLiteStore) SaveRecord(ctx context.Context, r *model.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal record")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		r.ID, string(data), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save record %s", r.ID)
}

func (s *SQLiteStore) UpdateRecord(ctx context.Context, id string, patch RecordPatch) error {
	r, err := s.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if err := applyRecordPatch(r, patch, time.Now().UTC()); err != nil {
		return eris.Wrapf(err, "sqlite: patch record %s", id)
	}
	return s.SaveRecord(ctx, r)
}

// quota.CounterStore implementation, so the quota ledger survives process
// restarts on single-user installs.

func (s *SQLiteStore) Counter(ctx context.Context, service string) (quota.Counter, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM quota_counters WHERE service = ?`, service,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return quota.Counter{}, false, nil
	}
	if err != nil {
		return quota.Counter{}, false, eris.Wrapf(err, "sqlite: quota counter %s", service)
	}
	var c quota.Counter
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return quota.Counter{}, false, eris.Wrap(err, "sqlite: unmarshal quota counter")
	}
	return c, true, nil
}

func (s *SQLiteStore) SaveCounter(ctx context.Context, c quota.Counter) error {
	data, err := json.Marshal(c)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal quota counter")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quota_counters (service, data) VALUES (?, ?)
		 ON CONFLICT(service) DO UPDATE SET data = excluded.data`,
		c.Service, string(data),
	)
	return eris.Wrapf(err, "sqlite: save quota counter %s", c.Service)
}

func (s *SQLiteStore) AppendHistory(ctx context.Context, e quota.HistoryEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quota_history (service, day, used, success, error) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(service, day) DO UPDATE SET
		   used = excluded.used, success = excluded.success, error = excluded.error`,
		e.Service, e.Day, e.Used, e.Success, e.Error,
	)
	return eris.Wrapf(err, "sqlite: append quota history %s/%s", e.Service, e.Day)
}

func (s *SQLiteStore) History(ctx context.Context, service string, days int) ([]quota.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT service, day, used, success, error FROM quota_history
		 WHERE service = ? ORDER BY day DESC LIMIT ?`,
		service, days,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: quota history %s", service)
	}
	defer rows.Close() //nolint:errcheck

	var out []quota.HistoryEntry
	for rows.Next() {
		var e quota.HistoryEntry
		if err := rows.Scan(&e.Service, &e.Day, &e.Used, &e.Success, &e.Error); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan quota history")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate quota history")
}

func (s *SQLiteStore) Services(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT service FROM quota_counters ORDER BY service`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list quota services")
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan quota service")
		}
		out = append(out, s)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate quota services")
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", kind, id)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %s", kind, id)
	}
	return nil
}
