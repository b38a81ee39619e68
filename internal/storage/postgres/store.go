// Package postgres stores crews and attendance in PostgreSQL.
//
// Per-phase and per-crew serialization uses SELECT ... FOR UPDATE on the
// phase, crew and invite rows inside the transaction that performs the
// write. Unique constraints are the final arbiter for invite codes and
// waitlist positions.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"climbcrew/internal/attendance"
	"climbcrew/internal/crew"
)

//go:embed schema.sql
var schemaSQL string

// Store implements crew.Store and attendance.Store.
type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

var (
	_ crew.Store       = (*Store)(nil)
	_ attendance.Store = (*Store)(nil)
)

// New wraps a pool. Every call gets at most timeout, transactions included;
// zero disables the bound.
func New(pool *pgxpool.Pool, timeout time.Duration) *Store {
	return &Store{pool: pool, timeout: timeout}
}

// EnsureSchema creates missing tables and indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
