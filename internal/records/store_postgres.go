package records

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mesh_jobs (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			strategy TEXT NOT NULL,
			status TEXT NOT NULL,
			artifact_url TEXT NOT NULL DEFAULT '',
			origin TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_mesh_jobs_session_started ON mesh_jobs (session_id, started_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init job schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveJob(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("record id is required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mesh_jobs (id, session_id, strategy, status, artifact_url, origin, error, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			artifact_url = EXCLUDED.artifact_url,
			origin = EXCLUDED.origin,
			error = EXCLUDED.error,
			ended_at = EXCLUDED.ended_at`,
		rec.ID, rec.SessionID, rec.Strategy, rec.Status,
		rec.ArtifactURL, rec.Origin, rec.Error, rec.StartedAt, rec.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("save job record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, session_id, strategy, status, artifact_url, origin, error, started_at, ended_at
		FROM mesh_jobs WHERE id = $1`, id)
	var rec Record
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.Strategy, &rec.Status,
		&rec.ArtifactURL, &rec.Origin, &rec.Error, &rec.StartedAt, &rec.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get job record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, strategy, status, artifact_url, origin, error, started_at, ended_at
		FROM mesh_jobs WHERE session_id = $1
		ORDER BY started_at DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list job records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Strategy, &rec.Status,
			&rec.ArtifactURL, &rec.Origin, &rec.Error, &rec.StartedAt, &rec.EndedAt); err != nil {
			return nil, fmt.Errorf("scan job record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
