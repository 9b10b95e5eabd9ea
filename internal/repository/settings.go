package repository

import (
	"context"
	"fmt"

	"gift-journal-backend/internal/models"
	"gift-journal-backend/internal/store"
)

const settingsColumns = `user_id, COALESCE(to_char(together_date, 'YYYY-MM-DD'), ''), is_connected, updated_at`

// SettingsRepository handles database operations for user settings
type SettingsRepository struct {
	db *store.DB
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db *store.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func scanSettings(row interface{ Scan(...any) error }) (*models.UserSettings, error) {
	var settings models.UserSettings
	err := row.Scan(&settings.UserID, &settings.TogetherDate, &settings.IsConnected, &settings.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// Get loads the settings row; nil when absent.
func (r *SettingsRepository) Get(ctx context.Context, userID string) (*models.UserSettings, error) {
	query := fmt.Sprintf(`SELECT %s FROM user_settings WHERE user_id = $1`, settingsColumns)
	var settings *models.UserSettings
	err := r.db.Read(ctx, func(ctx context.Context) error {
		row, err := scanSettings(r.db.Pool.QueryRow(ctx, query, userID))
		if err != nil {
			return err
		}
		settings = row
		return nil
	})
	if err != nil {
		if store.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return settings, nil
}

// Ensure returns the settings row, creating it with defaults when missing.
func (r *SettingsRepository) Ensure(ctx context.Context, userID string, isConnected bool) (*models.UserSettings, error) {
	existing, err := r.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	query := fmt.Sprintf(`
		INSERT INTO user_settings (user_id, together_date, is_connected)
		VALUES ($1, NULL, $2)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING %s
	`, settingsColumns)
	var created *models.UserSettings
	err = r.db.Write(ctx, func(ctx context.Context) error {
		row, err := scanSettings(r.db.Pool.QueryRow(ctx, query, userID, isConnected))
		if err != nil {
			return err
		}
		created = row
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure settings: %w", err)
	}
	return created, nil
}

// UpsertTogetherDate sets the shared anniversary date on every given user's
// settings row (both partners when connected).
func (r *SettingsRepository) UpsertTogetherDate(ctx context.Context, userIDs []string, togetherDate string, isConnected bool) ([]*models.UserSettings, error) {
	query := fmt.Sprintf(`
		INSERT INTO user_settings (user_id, together_date, is_connected, updated_at)
		SELECT unnest($1::uuid[]), NULLIF($2, '')::date, $3, now()
		ON CONFLICT (user_id) DO UPDATE SET
			together_date = EXCLUDED.together_date,
			is_connected = EXCLUDED.is_connected,
			updated_at = now()
		RETURNING %s
	`, settingsColumns)
	var updated []*models.UserSettings
	err := r.db.Write(ctx, func(ctx context.Context) error {
		rows, err := r.db.Pool.Query(ctx, query, userIDs, togetherDate, isConnected)
		if err != nil {
			return err
		}
		defer rows.Close()
		updated = updated[:0]
		for rows.Next() {
			settings, err := scanSettings(rows)
			if err != nil {
				return err
			}
			updated = append(updated, settings)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert together date: %w", err)
	}
	return updated, nil
}

// SyncConnection writes the denormalized is_connected flag.
func (r *SettingsRepository) SyncConnection(ctx context.Context, userID string, connected bool) error {
	query := `
		INSERT INTO user_settings (user_id, is_connected, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET is_connected = EXCLUDED.is_connected, updated_at = now()
	`
	err := r.db.Write(ctx, func(ctx context.Context) error {
		_, err := r.db.Pool.Exec(ctx, query, userID, connected)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to sync connection flag: %w", err)
	}
	return nil
}
