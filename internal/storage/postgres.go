package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gradus/internal/model"
)

// PostgresStore mirrors the sqlite schema with JSONB payloads.
type PostgresStore struct {
	dsn string

	mu   sync.RWMutex
	pool *pgxpool.Pool
}

func NewPostgresStore(dsn string) *PostgresStore {
	return &PostgresStore{dsn: dsn}
}

func (s *PostgresStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dsn == "" {
		return errors.New("postgres dsn is required")
	}
	if s.pool != nil {
		return nil
	}

	pool, err := pgxpool.New(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return fmt.Errorf("create tables: %w", err)
	}
	s.pool = pool
	return nil
}

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS gradus_checkpoints (
		run_id TEXT NOT NULL,
		name TEXT NOT NULL,
		schema_version INTEGER NOT NULL,
		codec_version INTEGER NOT NULL,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (run_id, name)
	);
	CREATE TABLE IF NOT EXISTS gradus_runs (
		run_id TEXT PRIMARY KEY,
		schema_version INTEGER NOT NULL,
		codec_version INTEGER NOT NULL,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS gradus_diagnostics (
		run_id TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS gradus_return_history (
		run_id TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	);
`

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error {
	if err := checkpointKeys(checkpoint); err != nil {
		return err
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	payload, err := EncodeCheckpoint(checkpoint)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO gradus_checkpoints (run_id, name, schema_version, codec_version, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, name) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload,
			updated_at = now()
	`, checkpoint.RunID, checkpoint.Name, checkpoint.SchemaVersion, checkpoint.CodecVersion, payload)
	return err
}

func (s *PostgresStore) GetCheckpoint(ctx context.Context, runID, name string) (model.Checkpoint, bool, error) {
	payload, ok, err := s.getPayload(ctx, `SELECT payload FROM gradus_checkpoints WHERE run_id = $1 AND name = $2`, runID, name)
	if err != nil || !ok {
		return model.Checkpoint{}, false, err
	}
	checkpoint, err := DecodeCheckpoint(payload)
	if err != nil {
		return model.Checkpoint{}, false, fmt.Errorf("decode checkpoint %s/%s: %w", runID, name, err)
	}
	return checkpoint, true, nil
}

func (s *PostgresStore) ListCheckpoints(ctx context.Context, runID string) ([]string, error) {
	return s.queryStrings(ctx, `SELECT name FROM gradus_checkpoints WHERE run_id = $1 ORDER BY name`, runID)
}

func (s *PostgresStore) SaveRunSummary(ctx context.Context, summary model.RunSummary) error {
	if err := validateKey("run id", summary.RunID); err != nil {
		return err
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	payload, err := EncodeRunSummary(summary)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO gradus_runs (run_id, schema_version, codec_version, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload,
			updated_at = now()
	`, summary.RunID, summary.SchemaVersion, summary.CodecVersion, payload)
	return err
}

func (s *PostgresStore) GetRunSummary(ctx context.Context, runID string) (model.RunSummary, bool, error) {
	payload, ok, err := s.getPayload(ctx, `SELECT payload FROM gradus_runs WHERE run_id = $1`, runID)
	if err != nil || !ok {
		return model.RunSummary{}, false, err
	}
	summary, err := DecodeRunSummary(payload)
	if err != nil {
		return model.RunSummary{}, false, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return summary, true, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT run_id FROM gradus_runs ORDER BY run_id`)
}

func (s *PostgresStore) SaveDiagnostics(ctx context.Context, runID string, diagnostics []model.UpdateDiagnostics) error {
	payload, err := EncodeDiagnostics(diagnostics)
	if err != nil {
		return err
	}
	return s.putPayload(ctx, "gradus_diagnostics", runID, payload)
}

func (s *PostgresStore) GetDiagnostics(ctx context.Context, runID string) ([]model.UpdateDiagnostics, bool, error) {
	payload, ok, err := s.getPayload(ctx, `SELECT payload FROM gradus_diagnostics WHERE run_id = $1`, runID)
	if err != nil || !ok {
		return nil, false, err
	}
	diagnostics, err := DecodeDiagnostics(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode diagnostics %s: %w", runID, err)
	}
	return diagnostics, true, nil
}

func (s *PostgresStore) SaveReturnHistory(ctx context.Context, runID string, history []float64) error {
	payload, err := EncodeReturnHistory(history)
	if err != nil {
		return err
	}
	return s.putPayload(ctx, "gradus_return_history", runID, payload)
}

func (s *PostgresStore) GetReturnHistory(ctx context.Context, runID string) ([]float64, bool, error) {
	payload, ok, err := s.getPayload(ctx, `SELECT payload FROM gradus_return_history WHERE run_id = $1`, runID)
	if err != nil || !ok {
		return nil, false, err
	}
	history, err := DecodeReturnHistory(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode return history %s: %w", runID, err)
	}
	return history, true, nil
}

func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.pool == nil {
		return nil, errNotInitialized
	}
	return s.pool, nil
}

func (s *PostgresStore) putPayload(ctx context.Context, table, runID string, payload []byte) error {
	if err := validateKey("run id", runID); err != nil {
		return err
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO `+table+` (run_id, payload)
		VALUES ($1, $2)
		ON CONFLICT (run_id) DO UPDATE SET
			payload = excluded.payload
	`, runID, payload)
	return err
}

func (s *PostgresStore) getPayload(ctx context.Context, query string, args ...any) ([]byte, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}
	var payload []byte
	if err := pool.QueryRow(ctx, query, args...).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

func (s *PostgresStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
