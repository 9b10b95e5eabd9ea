package repository

import (
	"context"
	"fmt"
	"time"

	"gift-journal-backend/internal/models"
	"gift-journal-backend/internal/store"
)

const bindingColumns = `id, requester_user_id, target_user_id, invite_code,
	confirm_token, status, expires_at, created_at, confirmed_at`

// BindingRepository handles database operations for binding requests
type BindingRepository struct {
	db *store.DB
}

// NewBindingRepository creates a new binding request repository
func NewBindingRepository(db *store.DB) *BindingRepository {
	return &BindingRepository{db: db}
}

func scanBinding(row interface{ Scan(...any) error }) (*models.BindingRequest, error) {
	var request models.BindingRequest
	err := row.Scan(
		&request.ID, &request.RequesterUserID, &request.TargetUserID,
		&request.InviteCode, &request.ConfirmToken, &request.Status,
		&request.ExpiresAt, &request.CreatedAt, &request.ConfirmedAt,
	)
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// Create inserts a new pending binding request. Unique violations from the
// pending partial indexes pass through unwrapped; the binding service treats
// them as a recoverable conflict, never a fatal error.
func (r *BindingRepository) Create(ctx context.Context, request *models.BindingRequest) (*models.BindingRequest, error) {
	query := fmt.Sprintf(`
		INSERT INTO binding_requests
			(id, requester_user_id, target_user_id, invite_code, confirm_token, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6)
		RETURNING %s
	`, bindingColumns)
	var created *models.BindingRequest
	err := r.db.Write(ctx, func(ctx context.Context) error {
		row, err := scanBinding(r.db.Pool.QueryRow(ctx, query,
			request.ID, request.RequesterUserID, request.TargetUserID,
			request.InviteCode, request.ConfirmToken, request.ExpiresAt,
		))
		if err != nil {
			return err
		}
		created = row
		return nil
	})
	if err != nil {
		if store.IsUniqueViolation(err, "") || store.IsTransient(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create binding request: %w", err)
	}
	return created, nil
}

func (r *BindingRepository) latestPendingBy(ctx context.Context, column, userID string) (*models.BindingRequest, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM binding_requests
		WHERE %s = $1 AND status = 'pending' AND expires_at >= now()
		ORDER BY created_at DESC
		LIMIT 1
	`, bindingColumns, column)
	var request *models.BindingRequest
	err := r.db.Read(ctx, func(ctx context.Context) error {
		row, err := scanBinding(r.db.Pool.QueryRow(ctx, query, userID))
		if err != nil {
			return err
		}
		request = row
		return nil
	})
	if err != nil {
		if store.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load pending binding request: %w", err)
	}
	return request, nil
}

// LatestPendingByRequester returns the newest live request the user sent.
func (r *BindingRepository) LatestPendingByRequester(ctx context.Context, userID string) (*models.BindingRequest, error) {
	return r.latestPendingBy(ctx, "requester_user_id", userID)
}

// LatestPendingByTarget returns the newest live request aimed at the user.
func (r *BindingRepository) LatestPendingByTarget(ctx context.Context, userID string) (*models.BindingRequest, error) {
	return r.latestPendingBy(ctx, "target_user_id", userID)
}

// PendingForTarget lists live requests aimed at the user, newest first.
func (r *BindingRepository) PendingForTarget(ctx context.Context, targetUserID string, limit int) ([]*models.BindingRequest, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM binding_requests
		WHERE target_user_id = $1 AND status = 'pending' AND expires_at >= now()
		ORDER BY created_at DESC
		LIMIT $2
	`, bindingColumns)
	var requests []*models.BindingRequest
	err := r.db.Read(ctx, func(ctx context.Context) error {
		rows, err := r.db.Pool.Query(ctx, query, targetUserID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		requests = requests[:0]
		for rows.Next() {
			request, err := scanBinding(rows)
			if err != nil {
				return err
			}
			requests = append(requests, request)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending binding requests: %w", err)
	}
	return requests, nil
}

// GetPendingForTarget loads one pending request scoped to its target; nil
// when absent or already resolved.
func (r *BindingRepository) GetPendingForTarget(ctx context.Context, id, targetUserID string) (*models.BindingRequest, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM binding_requests
		WHERE id = $1 AND target_user_id = $2 AND status = 'pending'
	`, bindingColumns)
	var request *models.BindingRequest
	err := r.db.Read(ctx, func(ctx context.Context) error {
		row, err := scanBinding(r.db.Pool.QueryRow(ctx, query, id, targetUserID))
		if err != nil {
			return err
		}
		request = row
		return nil
	})
	if err != nil {
		if store.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load binding request: %w", err)
	}
	return request, nil
}

// GetPendingByToken loads one pending request by its confirmation token.
func (r *BindingRepository) GetPendingByToken(ctx context.Context, token string) (*models.BindingRequest, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM binding_requests
		WHERE confirm_token = $1 AND status = 'pending'
	`, bindingColumns)
	var request *models.BindingRequest
	err := r.db.Read(ctx, func(ctx context.Context) error {
		row, err := scanBinding(r.db.Pool.QueryRow(ctx, query, token))
		if err != nil {
			return err
		}
		request = row
		return nil
	})
	if err != nil {
		if store.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load binding request by token: %w", err)
	}
	return request, nil
}

// SetStatus moves a request into a terminal state. confirmed stamps
// confirmed_at for accepted/rejected transitions.
func (r *BindingRepository) SetStatus(ctx context.Context, id, status string, confirmed bool) error {
	var confirmedAt *time.Time
	if confirmed {
		now := time.Now().UTC()
		confirmedAt = &now
	}
	query := `UPDATE binding_requests SET status = $2, confirmed_at = COALESCE($3, confirmed_at) WHERE id = $1`
	err := r.db.Write(ctx, func(ctx context.Context) error {
		_, err := r.db.Pool.Exec(ctx, query, id, status, confirmedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to set binding request status: %w", err)
	}
	return nil
}

// ExpireStaleForPair sweeps timed-out pending rows touching either side of a
// pair, freeing the pending-unique slots before a retry.
func (r *BindingRepository) ExpireStaleForPair(ctx context.Context, requesterUserID, targetUserID string) error {
	query := `
		UPDATE binding_requests
		SET status = 'expired'
		WHERE status = 'pending' AND expires_at < now()
		  AND (requester_user_id = $1 OR target_user_id = $2)
	`
	err := r.db.Write(ctx, func(ctx context.Context) error {
		_, err := r.db.Pool.Exec(ctx, query, requesterUserID, targetUserID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to expire stale binding requests: %w", err)
	}
	return nil
}

// ExpireStaleForTarget sweeps timed-out pending rows aimed at the user.
func (r *BindingRepository) ExpireStaleForTarget(ctx context.Context, targetUserID string) error {
	query := `
		UPDATE binding_requests
		SET status = 'expired'
		WHERE target_user_id = $1 AND status = 'pending' AND expires_at < now()
	`
	err := r.db.Write(ctx, func(ctx context.Context) error {
		_, err := r.db.Pool.Exec(ctx, query, targetUserID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to expire stale binding requests: %w", err)
	}
	return nil
}
