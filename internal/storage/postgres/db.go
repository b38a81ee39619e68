package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"climbcrew/internal/storage"
)

/* ===================== CONNECT ===================== */

// ConnectOptions tune the pool and the startup retry loop.
type ConnectOptions struct {
	MaxConns     int32
	RetryFor     time.Duration // total time to keep retrying the first ping
	PingTimeout  time.Duration
	RetryBackoff time.Duration
}

func (o ConnectOptions) withDefaults() ConnectOptions {
	if o.MaxConns <= 0 {
		o.MaxConns = 10
	}
	if o.RetryFor <= 0 {
		o.RetryFor = 30 * time.Second
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 2 * time.Second
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Second
	}
	return o
}

// Connect opens a pool and waits for the database to answer a ping, retrying
// while it starts up.
func Connect(ctx context.Context, url string, opts ConnectOptions, logger *slog.Logger) (*pgxpool.Pool, error) {
	opts = opts.withDefaults()
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = opts.MaxConns

	deadline := time.Now().Add(opts.RetryFor)
	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
		pool, err := pgxpool.NewWithConfig(pingCtx, cfg)
		if err == nil {
			if err = pool.Ping(pingCtx); err == nil {
				cancel()
				return pool, nil
			}
			pool.Close()
		}
		cancel()

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("connect database after %d attempts: %w", attempt, err)
		}
		if logger != nil {
			logger.WarnContext(ctx, "database not ready, retrying", "attempt", attempt, "error", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.RetryBackoff):
		}
	}
}

/* ===================== SQUIRREL HELPERS ===================== */

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func qExec(ctx context.Context, db querier, q sq.Sqlizer) (pgconn.CommandTag, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return db.Exec(ctx, sql, args...)
}

func qQuery(ctx context.Context, db querier, q sq.Sqlizer) (pgx.Rows, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	return db.Query(ctx, sql, args...)
}

func qRow(ctx context.Context, db querier, q sq.Sqlizer) pgx.Row {
	sql, args, err := q.ToSql()
	if err != nil {
		return errRow{err}
	}
	return db.QueryRow(ctx, sql, args...)
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

/* ===================== ERRORS ===================== */

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// mapErr turns driver errors into storage sentinels where one applies.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == "invite_codes_pkey":
			return storage.ErrCodeTaken
		case pgErr.Code == pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", storage.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

// inTx runs fn inside a transaction and commits if it returns nil.
func inTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
