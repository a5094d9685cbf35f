package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend-livetrack/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

var newPoolFn = pgxpool.New

var pingPoolFn = func(ctx context.Context, pool *pgxpool.Pool) error {
	return pool.Ping(ctx)
}

// ErrUnreachable is returned together with a usable pool when the server did
// not answer the startup ping. The pool reconnects on its own later.
var ErrUnreachable = errors.New("postgres unreachable")

// ConnectPostgres opens the pool for the remote document store. An invalid
// URL returns no pool; an unreachable server returns the pool and
// ErrUnreachable so the daemon can start offline.
func ConnectPostgres(cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := newPoolFn(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, err
	}
	if err := pingPoolFn(ctx, pool); err != nil {
		return pool, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return pool, nil
}
