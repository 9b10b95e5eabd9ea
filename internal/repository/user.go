package repository

import (
	"context"
	"fmt"

	"gift-journal-backend/internal/models"
	"gift-journal-backend/internal/store"
)

const userColumns = `id, email, password_hash, invitation_code, bound_invitation_code,
	partner_id, email_verified, token_version, name, avatar, gender, created_at`

// UserRepository handles database operations for users
type UserRepository struct {
	db *store.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *store.DB) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.InvitationCode,
		&user.BoundInvitationCode, &user.PartnerID, &user.EmailVerified,
		&user.TokenVersion, &user.Name, &user.Avatar, &user.Gender, &user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) getByColumn(ctx context.Context, column string, value any) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE %s = $1`, userColumns, column)
	var user *models.User
	err := r.db.Read(ctx, func(ctx context.Context) error {
		found, err := scanUser(r.db.Pool.QueryRow(ctx, query, value))
		if err != nil {
			return err
		}
		user = found
		return nil
	})
	if err != nil {
		if store.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by %s: %w", column, err)
	}
	return user, nil
}

// GetByID retrieves a user by ID; nil without error when absent.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getByColumn(ctx, "id", id)
}

// GetByEmail retrieves a user by email; nil without error when absent.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getByColumn(ctx, "email", email)
}

// GetByInviteCode retrieves a user by invitation code; nil when absent.
func (r *UserRepository) GetByInviteCode(ctx context.Context, code string) (*models.User, error) {
	return r.getByColumn(ctx, "invitation_code", code)
}

// InviteCodeExists checks if an invitation code is already taken.
func (r *UserRepository) InviteCodeExists(ctx context.Context, code string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE invitation_code = $1)`
	var exists bool
	err := r.db.Read(ctx, func(ctx context.Context) error {
		return r.db.Pool.QueryRow(ctx, query, code).Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("failed to check invite code existence: %w", err)
	}
	return exists, nil
}

// GetManyByIDs loads the users for the given ids, keyed by id.
func (r *UserRepository) GetManyByIDs(ctx context.Context, ids []string) (map[string]*models.User, error) {
	result := make(map[string]*models.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = ANY($1)`, userColumns)
	err := r.db.Read(ctx, func(ctx context.Context) error {
		rows, err := r.db.Pool.Query(ctx, query, ids)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			user, err := scanUser(rows)
			if err != nil {
				return err
			}
			result[user.ID] = user
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	return result, nil
}

// CreateVerified inserts a brand new verified user. Unique violations on the
// email column pass through unwrapped so callers can recover from concurrent
// duplicate verification.
func (r *UserRepository) CreateVerified(ctx context.Context, user *models.User) (*models.User, error) {
	query := fmt.Sprintf(`
		INSERT INTO users (id, email, password_hash, invitation_code, email_verified, name, gender, avatar)
		VALUES ($1, $2, $3, $4, TRUE, $5, $6, $7)
		RETURNING %s
	`, userColumns)
	var created *models.User
	err := r.db.Write(ctx, func(ctx context.Context) error {
		row, err := scanUser(r.db.Pool.QueryRow(ctx, query,
			user.ID, user.Email, user.PasswordHash, user.InvitationCode,
			user.Name, user.Gender, user.Avatar,
		))
		if err != nil {
			return err
		}
		created = row
		return nil
	})
	if err != nil {
		if store.IsUniqueViolation(err, "users_email") {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return created, nil
}

// PromoteVerified marks an existing unverified account as verified with the
// candidate password hash from the verification ledger.
func (r *UserRepository) PromoteVerified(ctx context.Context, id, passwordHash, inviteCode, name string) (*models.User, error) {
	query := fmt.Sprintf(`
		UPDATE users
		SET password_hash = $2, email_verified = TRUE, invitation_code = $3, name = $4
		WHERE id = $1
		RETURNING %s
	`, userColumns)
	var updated *models.User
	err := r.db.Write(ctx, func(ctx context.Context) error {
		row, err := scanUser(r.db.Pool.QueryRow(ctx, query, id, passwordHash, inviteCode, name))
		if err != nil {
			return err
		}
		updated = row
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to promote user: %w", err)
	}
	return updated, nil
}

// RotatePassword replaces the password hash and bumps the token version,
// which invalidates every previously issued credential.
func (r *UserRepository) RotatePassword(ctx context.Context, id, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $2, token_version = token_version + 1
		WHERE id = $1
	`
	err := r.db.Write(ctx, func(ctx context.Context) error {
		_, err := r.db.Pool.Exec(ctx, query, id, passwordHash)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to rotate password: %w", err)
	}
	return nil
}

// TokenVersion reads the user's current revocation counter. The second
// return is false when the user does not exist.
func (r *UserRepository) TokenVersion(ctx context.Context, id string) (int, bool, error) {
	query := `SELECT token_version FROM users WHERE id = $1`
	var version int
	err := r.db.Read(ctx, func(ctx context.Context) error {
		return r.db.Pool.QueryRow(ctx, query, id).Scan(&version)
	})
	if err != nil {
		if store.IsNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to read token version: %w", err)
	}
	return version, true, nil
}

// UpdateProfile applies the non-nil fields and returns the fresh row.
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, name, avatar, gender *string) (*models.User, error) {
	query := fmt.Sprintf(`
		UPDATE users
		SET name = COALESCE($2, name),
		    avatar = COALESCE($3, avatar),
		    gender = COALESCE($4, gender)
		WHERE id = $1
		RETURNING %s
	`, userColumns)
	var updated *models.User
	err := r.db.Write(ctx, func(ctx context.Context) error {
		row, err := scanUser(r.db.Pool.QueryRow(ctx, query, id, name, avatar, gender))
		if err != nil {
			return err
		}
		updated = row
		return nil
	})
	if err != nil {
		if store.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return updated, nil
}

// BindPartner links the user to a partner, but only when the row is still
// unbound. Returns nil without error when the guarded update matched zero
// rows, which callers treat as an ordinary lost race.
func (r *UserRepository) BindPartner(ctx context.Context, userID, partnerID, partnerInviteCode string) (*models.User, error) {
	query := fmt.Sprintf(`
		UPDATE users
		SET partner_id = $2, bound_invitation_code = $3
		WHERE id = $1 AND partner_id IS NULL AND bound_invitation_code IS NULL
		RETURNING %s
	`, userColumns)
	var updated *models.User
	err := r.db.Write(ctx, func(ctx context.Context) error {
		row, err := scanUser(r.db.Pool.QueryRow(ctx, query, userID, partnerID, partnerInviteCode))
		if err != nil {
			return err
		}
		updated = row
		return nil
	})
	if err != nil {
		if store.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to bind partner: %w", err)
	}
	return updated, nil
}

// ClearPartner unconditionally clears the partner fields on every given user
// and returns the fresh rows. Used both by disconnect and as the explicit
// compensating write when an acceptance saga fails halfway.
func (r *UserRepository) ClearPartner(ctx context.Context, userIDs ...string) ([]*models.User, error) {
	query := fmt.Sprintf(`
		UPDATE users
		SET partner_id = NULL, bound_invitation_code = NULL
		WHERE id = ANY($1)
		RETURNING %s
	`, userColumns)
	var updated []*models.User
	err := r.db.Write(ctx, func(ctx context.Context) error {
		rows, err := r.db.Pool.Query(ctx, query, userIDs)
		if err != nil {
			return err
		}
		defer rows.Close()
		updated = updated[:0]
		for rows.Next() {
			user, err := scanUser(rows)
			if err != nil {
				return err
			}
			updated = append(updated, user)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clear partner binding: %w", err)
	}
	return updated, nil
}
