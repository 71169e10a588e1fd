package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-enrich/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool with JSONB documents.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS enrichment_runs (
	id         TEXT PRIMARY KEY,
	record_id  TEXT NOT NULL REFERENCES records(id),
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_record_id ON enrichment_runs(record_id, created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.EnrichmentRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO enrichment_runs (id, record_id, data, created_at) VALUES ($1, $2, $3, $4)`,
		run.ID, run.RecordID, data, run.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert run")
}

func (s *PostgresStore) UpdateRun(ctx context.Context, id string, patch RunPatch) error {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	applyRunPatch(run, patch)
	data, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichment_runs SET data = $1 WHERE id = $2`,
		data, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", id)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*model.EnrichmentRun, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM enrichment_runs WHERE id = $1`, id,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: run %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", id)
	}
	var run model.EnrichmentRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal run %s", id)
	}
	return &run, nil
}

func (s *PostgresStore) FindLatestRun(ctx context.Context, recordID string) (*model.EnrichmentRun, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM enrichment_runs WHERE record_id = $1 ORDER BY created_at DESC LIMIT 1`,
		recordID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest run for %s", recordID)
	}
	var run model.EnrichmentRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal run")
	}
	return &run, nil
}

func (s *PostgresStore) FindRunsFor(ctx context.Context, recordID string) ([]model.EnrichmentRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM enrichment_runs WHERE record_id = $1 ORDER BY created_at DESC`,
		recordID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: runs for %s", recordID)
	}
	defer rows.Close()

	var out []model.EnrichmentRun
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		var run model.EnrichmentRun
		if err := json.Unmarshal(data, &run); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run")
		}
		out = append(out, run)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM records WHERE id = $1`, id,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: record %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", id)
	}
	var r model.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal record %s", id)
	}
	return &r, nil
}

func (s *PostgresStore) SaveRecord(ctx context.Context, r *model.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal record")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO records (id, data, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		r.ID, data, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save record %s", r.ID)
}

func (s *PostgresStore) UpdateRecord(ctx context.Context, id string, patch RecordPatch) error {
	r, err := s.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if err := applyRecordPatch(r, patch, time.Now().UTC()); err != nil {
		return eris.Wrapf(err, "postgres: patch record %s", id)
	}
	return s.SaveRecord(ctx, r)
}
