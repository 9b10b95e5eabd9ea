package store

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"gift-journal-backend/internal/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const retryBackoffStep = 250 * time.Millisecond

// DB wraps the connection pool with per-call timeouts and bounded retry.
// Reads are idempotent and get the longer timeout plus more attempts; writes
// get the shorter timeout and at most one retry, and only transport-level
// failures are ever retried. Application errors (constraint violations,
// no-rows) always surface on the first attempt.
type DB struct {
	Pool *pgxpool.Pool
	cfg  config.StoreConfig
}

// New wraps an existing pool with the given tuning.
func New(pool *pgxpool.Pool, cfg config.StoreConfig) *DB {
	if cfg.ReadMaxAttempts < 1 {
		cfg.ReadMaxAttempts = 1
	}
	if cfg.WriteMaxAttempts < 1 {
		cfg.WriteMaxAttempts = 1
	}
	return &DB{Pool: pool, cfg: cfg}
}

// Read runs op with the read-class timeout, retrying transport failures up
// to the configured attempt ceiling.
func (d *DB) Read(ctx context.Context, op func(ctx context.Context) error) error {
	return d.run(ctx, d.cfg.ReadTimeout(), d.cfg.ReadMaxAttempts, op)
}

// Write runs op with the write-class timeout. Retrying a write risks
// duplication, so the attempt budget is tight; making write retries safe is
// the job of the create-idempotency layer above, not this one.
func (d *DB) Write(ctx context.Context, op func(ctx context.Context) error) error {
	return d.run(ctx, d.cfg.WriteTimeout(), d.cfg.WriteMaxAttempts, op)
}

func (d *DB) run(ctx context.Context, timeout time.Duration, maxAttempts int, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := op(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == maxAttempts || !IsTransient(err) || ctx.Err() != nil {
			return err
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("retrying row store call after transport failure")
		select {
		case <-time.After(retryBackoffStep * time.Duration(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// IsTransient reports whether err is a transport-level failure worth
// retrying: timeouts, dropped connections, unexpected EOF. An error that the
// database itself produced (any SQLSTATE) is never transient, and neither is
// a missing row.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "conn closed")
}

// IsNoRows reports whether err means the query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsUniqueViolation reports whether err is a unique-constraint violation.
// With an empty constraint name it matches any unique violation; otherwise
// the violated constraint must contain the given name.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != "23505" {
		return false
	}
	if constraint == "" {
		return true
	}
	return strings.Contains(pgErr.ConstraintName, constraint) ||
		strings.Contains(pgErr.Message, constraint)
}

// IsPayloadTooLarge reports whether err means the server rejected the
// statement for sheer size (program-limit SQLSTATE class 54).
func IsPayloadTooLarge(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "54")
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "payload too large") || strings.Contains(msg, "too large")
}
