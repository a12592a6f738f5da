// Package postgres owns connection pool construction and query tracing.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/go-core/log"
)

// NewPool builds a pgx pool with OTel spans and structured query logging
// attached, then verifies connectivity with a ping.
func NewPool(ctx context.Context, databaseURL string, logger log.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = log.Nop()
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.ConnConfig.Tracer = queryTracer{
		inner:  otelpgx.NewTracer(),
		logger: logger,
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

type queryCtxKey string

const (
	ctxKeySQL   queryCtxKey = "pgx.sql"
	ctxKeyStart queryCtxKey = "pgx.start"
)

// queryTracer wraps the otelpgx tracer and adds a structured log line for
// every query.
type queryTracer struct {
	inner  pgx.QueryTracer
	logger log.Logger
}

func (t queryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	// Inner tracer first so the span covers the full query.
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}
	ctx = context.WithValue(ctx, ctxKeySQL, data.SQL)
	ctx = context.WithValue(ctx, ctxKeyStart, time.Now())
	return ctx
}

func (t queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	sql, _ := ctx.Value(ctxKeySQL).(string)
	start, _ := ctx.Value(ctxKeyStart).(time.Time)
	var dur time.Duration
	if !start.IsZero() {
		dur = time.Since(start)
	}

	fields := []any{
		"db.statement", sql,
		"db.duration", dur.Seconds(),
	}
	if tag := strings.TrimSpace(data.CommandTag.String()); tag != "" {
		if parts := strings.Fields(tag); len(parts) > 0 {
			fields = append(fields, "db.operation.name", strings.ToUpper(parts[0]))
		}
		fields = append(fields, "db.rows", data.CommandTag.RowsAffected())
	}

	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields, "db.error_code", pgErr.Code)
		}
		t.logger.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	t.logger.Info(ctx, "db query", fields...)
}
