package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "no rows", err: pgx.ErrNoRows, want: false},
		{name: "wrapped no rows", err: fmt.Errorf("query user: %w", pgx.ErrNoRows), want: false},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "any sqlstate", err: &pgconn.PgError{Code: "54000"}, want: false},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: true},
		{name: "wrapped deadline", err: fmt.Errorf("exec: %w", context.DeadlineExceeded), want: true},
		{name: "net timeout", err: timeoutErr{}, want: true},
		{name: "unexpected eof", err: io.ErrUnexpectedEOF, want: true},
		{name: "conn closed message", err: errors.New("conn closed"), want: true},
		{name: "connection reset message", err: errors.New("read tcp: connection reset by peer"), want: true},
		{name: "plain application error", err: errors.New("title is required"), want: false},
	}

	for _, testCase := range cases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			if got := IsTransient(testCase.err); got != testCase.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", testCase.err, got, testCase.want)
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	uniqueErr := &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}

	if !IsUniqueViolation(uniqueErr, "") {
		t.Fatal("expected any-constraint match for 23505")
	}
	if !IsUniqueViolation(uniqueErr, "users_email") {
		t.Fatal("expected constraint substring match")
	}
	if IsUniqueViolation(uniqueErr, "binding_requests_pending") {
		t.Fatal("expected mismatching constraint to be rejected")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}, "") {
		t.Fatal("expected foreign-key violation to be rejected")
	}
	if IsUniqueViolation(errors.New("duplicate"), "") {
		t.Fatal("expected non-pg error to be rejected")
	}
	wrapped := fmt.Errorf("insert user: %w", uniqueErr)
	if !IsUniqueViolation(wrapped, "users_email") {
		t.Fatal("expected wrapped unique violation to match")
	}
}

func TestIsPayloadTooLarge(t *testing.T) {
	t.Parallel()

	if !IsPayloadTooLarge(&pgconn.PgError{Code: "54000"}) {
		t.Fatal("expected program-limit sqlstate to match")
	}
	if IsPayloadTooLarge(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected unique violation to be rejected")
	}
	if !IsPayloadTooLarge(errors.New("request entity too large")) {
		t.Fatal("expected message match")
	}
	if IsPayloadTooLarge(errors.New("conn closed")) {
		t.Fatal("expected transport error to be rejected")
	}
}

func TestIsNoRows(t *testing.T) {
	t.Parallel()

	if !IsNoRows(pgx.ErrNoRows) {
		t.Fatal("expected pgx.ErrNoRows to match")
	}
	if !IsNoRows(fmt.Errorf("scan: %w", pgx.ErrNoRows)) {
		t.Fatal("expected wrapped no-rows to match")
	}
	if IsNoRows(errors.New("no rows")) {
		t.Fatal("expected unrelated error to be rejected")
	}
}

// run is exercised without a pool: the op closure stands in for the database
// call, so retry accounting and error passthrough can be observed directly.
func TestRunRetriesOnlyTransientFailures(t *testing.T) {
	t.Parallel()

	db := &DB{}

	t.Run("transient read retried", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := db.run(context.Background(), 50*time.Millisecond, 2, func(context.Context) error {
			calls++
			if calls == 1 {
				return errors.New("conn closed")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("expected retry to succeed, got %v", err)
		}
		if calls != 2 {
			t.Fatalf("expected 2 attempts, got %d", calls)
		}
	})

	t.Run("application error never retried", func(t *testing.T) {
		t.Parallel()
		calls := 0
		appErr := &pgconn.PgError{Code: "23505"}
		err := db.run(context.Background(), 50*time.Millisecond, 3, func(context.Context) error {
			calls++
			return appErr
		})
		if !errors.Is(err, appErr) {
			t.Fatalf("expected application error passthrough, got %v", err)
		}
		if calls != 1 {
			t.Fatalf("expected a single attempt, got %d", calls)
		}
	})

	t.Run("write budget exhausted", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := db.run(context.Background(), 50*time.Millisecond, 1, func(context.Context) error {
			calls++
			return errors.New("broken pipe")
		})
		if err == nil {
			t.Fatal("expected error after exhausting attempts")
		}
		if calls != 1 {
			t.Fatalf("expected a single attempt, got %d", calls)
		}
	})
}
