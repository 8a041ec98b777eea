// Package repository stores review sessions in PostgreSQL so the CLI and the
// background worker share one state.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/certdesk/internal/storage"
)

// SessionRepository wraps all SQL used by the CLI and the worker.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository constructs a repository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Load returns the encoded session, or storage.ErrNotFound.
func (r *SessionRepository) Load(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, `SELECT state FROM review_sessions WHERE id=$1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	return data, nil
}

// Save upserts the encoded session.
func (r *SessionRepository) Save(ctx context.Context, id string, data []byte) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO review_sessions (id, state, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at
	`, id, data, now)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// Update runs fn on the stored session inside a transaction holding a row
// lock, and stores what fn returns. A missing session yields
// storage.ErrNotFound without calling fn.
func (r *SessionRepository) Update(ctx context.Context, id string, fn func([]byte) ([]byte, error)) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var data []byte
	err = tx.QueryRow(ctx, `SELECT state FROM review_sessions WHERE id=$1 FOR UPDATE`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock session: %w", err)
	}
	next, err := fn(data)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE review_sessions SET state=$1, updated_at=$2 WHERE id=$3`, next, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Delete removes a session.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM review_sessions WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
