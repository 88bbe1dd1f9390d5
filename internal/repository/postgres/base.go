package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// BaseRepository provides common functionality for all repositories
type BaseRepository struct {
	db           *sqlx.DB
	queryTimeout time.Duration
}

// NewBaseRepository creates a new base repository. queryTimeout bounds
// operations whose context carries no deadline of its own; zero disables it.
func NewBaseRepository(db *sqlx.DB, queryTimeout time.Duration) BaseRepository {
	return BaseRepository{db: db, queryTimeout: queryTimeout}
}

func (r *BaseRepository) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return mapError(r.db.PingContext(ctx), "database")
}

func (r *BaseRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || r.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.queryTimeout)
}

// WithTx executes a function within a transaction
func (r *BaseRepository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
