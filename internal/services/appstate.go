package services

import (
	"context"

	"gift-journal-backend/internal/models"
)

// AppState is the combined initial payload the client loads in one request.
type AppState struct {
	Memories   []*models.Memory     `json:"memories"`
	Events     []*models.Event      `json:"events"`
	Settings   *models.UserSettings `json:"settings"`
	YearStats  []*YearStat          `json:"yearStats"`
	Pagination *Pagination          `json:"pagination"`
}

// AppStateService composes the resource services into the combined state
// response.
type AppStateService struct {
	memories *MemoryService
	events   *EventService
	settings *SettingsService
}

// NewAppStateService creates a new app state service
func NewAppStateService(memories *MemoryService, events *EventService, settings *SettingsService) *AppStateService {
	return &AppStateService{memories: memories, events: events, settings: settings}
}

// Load assembles the combined state for the caller.
func (s *AppStateService) Load(ctx context.Context, userID string, page, limit int) (*AppState, error) {
	memories, pagination, err := s.memories.List(ctx, userID, page, limit)
	if err != nil {
		return nil, err
	}
	events, err := s.events.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	settings, err := s.settings.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	yearStats, err := s.memories.YearStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &AppState{
		Memories:   memories,
		Events:     events,
		Settings:   settings,
		YearStats:  yearStats,
		Pagination: pagination,
	}, nil
}
