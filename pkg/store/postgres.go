package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kestrel-eng/feasgen/pkg/pipeline"
)

// PostgresConfig holds the configuration for the Postgres-backed store.
type PostgresConfig struct {
	Logger *slog.Logger
	URL    string // postgres:// connection string

	MaxConns int32
	MinConns int32
}

func (cfg *PostgresConfig) Validate() error {
	if cfg.URL == "" {
		return errors.New("postgres URL is required")
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 10
	}
	if cfg.MinConns == 0 {
		cfg.MinConns = 2
	}
	return nil
}

// PostgresStore persists run records in a single runs table with the
// structured parts (errors, audit trail) stored as JSONB.
type PostgresStore struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

// NewPostgresStore connects, verifies the connection and applies
// migrations.
func NewPostgresStore(ctx context.Context, cfg *PostgresConfig) (*PostgresStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresStore{log: cfg.Logger, pool: pool}
	if err := s.migrate(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id UUID PRIMARY KEY,
			phase VARCHAR(20) NOT NULL,
			final_report TEXT NOT NULL DEFAULT '',
			errors JSONB NOT NULL DEFAULT '[]',
			audit JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_runs_created
		ON runs (created_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create runs index: %w", err)
	}
	return nil
}

// SaveRun upserts the record. A run is written once at termination, but the
// upsert makes re-saving after a partial failure harmless.
func (s *PostgresStore) SaveRun(ctx context.Context, record *pipeline.RunRecord) error {
	errorsJSON, err := json.Marshal(record.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}
	auditJSON, err := json.Marshal(record.Audit)
	if err != nil {
		return fmt.Errorf("failed to marshal audit trail: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO runs (id, phase, final_report, errors, audit, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			phase = EXCLUDED.phase,
			final_report = EXCLUDED.final_report,
			errors = EXCLUDED.errors,
			audit = EXCLUDED.audit,
			completed_at = EXCLUDED.completed_at
	`, record.ID, record.Phase, record.FinalReport, errorsJSON, auditJSON, record.CreatedAt, record.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", record.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*pipeline.RunRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, phase, final_report, errors, audit, created_at, completed_at
		FROM runs WHERE id = $1
	`, id)

	record, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return record, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]*pipeline.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, phase, final_report, errors, audit, created_at, completed_at
		FROM runs ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []*pipeline.RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func scanRun(row pgx.Row) (*pipeline.RunRecord, error) {
	var (
		record     pipeline.RunRecord
		errorsJSON []byte
		auditJSON  []byte
	)
	if err := row.Scan(&record.ID, &record.Phase, &record.FinalReport,
		&errorsJSON, &auditJSON, &record.CreatedAt, &record.CompletedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(errorsJSON, &record.Errors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal errors: %w", err)
	}
	if err := json.Unmarshal(auditJSON, &record.Audit); err != nil {
		return nil, fmt.Errorf("failed to unmarshal audit trail: %w", err)
	}
	return &record, nil
}
