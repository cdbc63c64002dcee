package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/meikuraledutech/canvas"
	"go.uber.org/zap"
)

// DBPool is the part of *pgxpool.Pool the store uses, so tests can swap in pgxmock.
type DBPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ DBPool       = (*pgxpool.Pool)(nil)
	_ canvas.Store = (*PGStore)(nil)
)

// Option configures a PGStore.
type Option func(*PGStore)

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *PGStore) {
		if l != nil {
			s.log = l.Named("postgres")
		}
	}
}

// WithClock replaces time.Now for created_at and updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *PGStore) {
		if now != nil {
			s.now = now
		}
	}
}

// PGStore implements canvas.Store using PostgreSQL via pgx.
type PGStore struct {
	db  DBPool
	log *zap.Logger
	now func() time.Time
}

// New creates a new PGStore backed by the given pgx connection pool.
func New(db DBPool, opts ...Option) *PGStore {
	s := &PGStore{db: db, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// rollback ends tx if Commit was never reached.
func (s *PGStore) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.log.Warn("rollback failed", zap.Error(err))
	}
}

// isNoRows checks if the error is a "no rows" error from pgx.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
