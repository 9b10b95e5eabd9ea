package services

import (
	"context"
	"net/http"
	"time"

	"gift-journal-backend/internal/httperr"
	"gift-journal-backend/internal/models"
	"gift-journal-backend/internal/repository"
)

// SettingsService handles couple-level preferences. The is_connected column
// is denormalized from the live partner pointer and re-synced opportunistically
// on read.
type SettingsService struct {
	settingsRepo *repository.SettingsRepository
	users        userLookup
}

// NewSettingsService creates a new settings service
func NewSettingsService(settingsRepo *repository.SettingsRepository, userRepo *repository.UserRepository) *SettingsService {
	return &SettingsService{settingsRepo: settingsRepo, users: userRepo}
}

// Get returns the caller's settings row, creating it on first read. A stale
// connection flag is repaired from a detached task.
func (s *SettingsService) Get(ctx context.Context, userID string) (*models.UserSettings, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, httperr.New(http.StatusUnauthorized, "unauthorized")
	}
	connected := user.PartnerID != nil

	settings, err := s.settingsRepo.Ensure(ctx, userID, connected)
	if err != nil {
		return nil, err
	}
	if settings.IsConnected != connected {
		settings.IsConnected = connected
		repo := s.settingsRepo
		fireAndForget("settings-connection-repair", func(ctx context.Context) error {
			return repo.SyncConnection(ctx, userID, connected)
		})
	}
	return settings, nil
}

// UpdateTogetherDate writes the shared anniversary date onto the caller's
// row and, when connected, the partner's row in the same statement.
func (s *SettingsService) UpdateTogetherDate(ctx context.Context, userID, togetherDate string) (*models.UserSettings, error) {
	if togetherDate != "" {
		if _, err := time.Parse("2006-01-02", togetherDate); err != nil {
			return nil, httperr.New(http.StatusBadRequest, "togetherDate must be YYYY-MM-DD")
		}
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, httperr.New(http.StatusUnauthorized, "unauthorized")
	}

	ids := []string{userID}
	connected := user.PartnerID != nil
	if connected {
		ids = append(ids, *user.PartnerID)
	}

	updated, err := s.settingsRepo.UpsertTogetherDate(ctx, ids, togetherDate, connected)
	if err != nil {
		return nil, err
	}
	for _, row := range updated {
		if row.UserID == userID {
			return row, nil
		}
	}
	return nil, httperr.New(http.StatusInternalServerError, "settings row missing after update")
}
