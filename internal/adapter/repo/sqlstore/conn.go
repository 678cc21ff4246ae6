// Package sqlstore implements the durable state store (Job, JobRow,
// WriteBackTask, AuditEvent, DecisionRun/DecisionEvent) over PostgreSQL.
package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool opens a pgx connection pool against dbURL, instrumented with
// OpenTelemetry spans and pool-stat recording.
func NewPool(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("op=sqlstore.NewPool.parse: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.ConnConfig.Tracer = otelpgx.NewTracer(otelpgx.WithTrimSQLInSpanName())

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("op=sqlstore.NewPool.connect: %w", err)
	}

	if err := otelpgx.RecordStats(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("op=sqlstore.NewPool.recordStats: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("op=sqlstore.NewPool.ping: %w", err)
	}

	return pool, nil
}
