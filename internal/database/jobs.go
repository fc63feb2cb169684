package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobsSchema = `
CREATE TABLE IF NOT EXISTS stt_jobs (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	file_id    TEXT NOT NULL,
	provider   TEXT NOT NULL,
	status     TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_stt_jobs_user ON stt_jobs (user_id, created_at DESC);
`

// JobStore mirrors transcription job lifecycle into Postgres for auditing
// and per-user history. A nil pool disables it; every method becomes a
// no-op so the gateway can run without a database.
type JobStore struct {
	pool *pgxpool.Pool
}

func NewJobStore(ctx context.Context, pool *pgxpool.Pool) (*JobStore, error) {
	s := &JobStore{pool: pool}
	if pool == nil {
		return s, nil
	}
	if _, err := pool.Exec(ctx, jobsSchema); err != nil {
		return nil, fmt.Errorf("ensure stt_jobs schema: %w", err)
	}
	return s, nil
}

type JobRow struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	FileID    string    `json:"file_id"`
	Provider  string    `json:"provider"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *JobStore) Insert(ctx context.Context, id, userID, fileID, providerName, status string) error {
	if s.pool == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stt_jobs (id, user_id, file_id, provider, status) VALUES ($1, $2, $3, $4, $5)`,
		id, userID, fileID, providerName, status)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", id, err)
	}
	return nil
}

func (s *JobStore) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	if s.pool == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE stt_jobs SET status = $2, error = $3, updated_at = now() WHERE id = $1`,
		id, status, errMsg)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*JobRow, error) {
	if s.pool == nil {
		return nil, pgx.ErrNoRows
	}
	var row JobRow
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, file_id, provider, status, error, created_at, updated_at
		 FROM stt_jobs WHERE id = $1`, id).
		Scan(&row.ID, &row.UserID, &row.FileID, &row.Provider, &row.Status, &row.Error,
			&row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &row, nil
}

func (s *JobStore) ListByUser(ctx context.Context, userID string, limit int) ([]JobRow, error) {
	if s.pool == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, file_id, provider, status, error, created_at, updated_at
		 FROM stt_jobs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []JobRow
	for rows.Next() {
		var row JobRow
		if err := rows.Scan(&row.ID, &row.UserID, &row.FileID, &row.Provider, &row.Status,
			&row.Error, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
