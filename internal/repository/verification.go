package repository

import (
	"context"
	"fmt"

	"gift-journal-backend/internal/models"
	"gift-journal-backend/internal/store"
)

const verificationColumns = `id, email, purpose, code_hash, password_hash, expires_at, attempts, last_sent_at`

// VerificationRepository handles database operations for the email
// verification ledger: one row per (email, purpose), overwritten on resend.
type VerificationRepository struct {
	db *store.DB
}

// NewVerificationRepository creates a new verification repository
func NewVerificationRepository(db *store.DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

func scanVerification(row interface{ Scan(...any) error }) (*models.EmailVerification, error) {
	var record models.EmailVerification
	err := row.Scan(
		&record.ID, &record.Email, &record.Purpose, &record.CodeHash,
		&record.PasswordHash, &record.ExpiresAt, &record.Attempts, &record.LastSentAt,
	)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Get loads the ledger row for (email, purpose); nil when absent.
func (r *VerificationRepository) Get(ctx context.Context, email, purpose string) (*models.EmailVerification, error) {
	query := fmt.Sprintf(`SELECT %s FROM email_verifications WHERE email = $1 AND purpose = $2`, verificationColumns)
	var record *models.EmailVerification
	err := r.db.Read(ctx, func(ctx context.Context) error {
		row, err := scanVerification(r.db.Pool.QueryRow(ctx, query, email, purpose))
		if err != nil {
			return err
		}
		record = row
		return nil
	})
	if err != nil {
		if store.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load verification record: %w", err)
	}
	return record, nil
}

// Upsert overwrites the ledger row for (email, purpose), resetting attempts.
// A fresh row takes the caller's id; a conflicting row keeps its existing one.
func (r *VerificationRepository) Upsert(ctx context.Context, record *models.EmailVerification) error {
	query := `
		INSERT INTO email_verifications (id, email, purpose, code_hash, password_hash, expires_at, attempts, last_sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, now())
		ON CONFLICT (email, purpose) DO UPDATE SET
			code_hash = EXCLUDED.code_hash,
			password_hash = EXCLUDED.password_hash,
			expires_at = EXCLUDED.expires_at,
			attempts = 0,
			last_sent_at = now()
	`
	err := r.db.Write(ctx, func(ctx context.Context) error {
		_, err := r.db.Pool.Exec(ctx, query,
			record.ID, record.Email, record.Purpose,
			record.CodeHash, record.PasswordHash, record.ExpiresAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upsert verification record: %w", err)
	}
	return nil
}

// IncrementAttempts bumps the failed-attempt counter. The counter only ever
// grows; the ceiling check happens before any hash comparison.
func (r *VerificationRepository) IncrementAttempts(ctx context.Context, id string) error {
	query := `UPDATE email_verifications SET attempts = attempts + 1 WHERE id = $1`
	err := r.db.Write(ctx, func(ctx context.Context) error {
		_, err := r.db.Pool.Exec(ctx, query, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to increment verification attempts: %w", err)
	}
	return nil
}

// Delete removes a ledger row.
func (r *VerificationRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM email_verifications WHERE id = $1`
	err := r.db.Write(ctx, func(ctx context.Context) error {
		_, err := r.db.Pool.Exec(ctx, query, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete verification record: %w", err)
	}
	return nil
}
