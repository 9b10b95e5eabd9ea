package repository

import (
	"context"
	"fmt"

	"gift-journal-backend/internal/models"
	"gift-journal-backend/internal/store"
)

const focusColumns = `user_id, today_focus_minutes, today_sessions, streak, total_sessions, COALESCE(to_char(last_focus_date, 'YYYY-MM-DD'), ''), updated_at`

// FocusRepository handles database operations for focus statistics
type FocusRepository struct {
	db *store.DB
}

// NewFocusRepository creates a new focus repository
func NewFocusRepository(db *store.DB) *FocusRepository {
	return &FocusRepository{db: db}
}

func scanFocus(row interface{ Scan(...any) error }) (*models.FocusStats, error) {
	var stats models.FocusStats
	var lastDate string
	err := row.Scan(&stats.UserID, &stats.TodayFocusMinutes, &stats.TodaySessions,
		&stats.Streak, &stats.TotalSessions, &lastDate, &stats.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastDate != "" {
		stats.LastFocusDate = &lastDate
	}
	return &stats, nil
}

// Get loads the focus row for a user; nil when absent.
func (r *FocusRepository) Get(ctx context.Context, userID string) (*models.FocusStats, error) {
	query := fmt.Sprintf(`SELECT %s FROM focus_stats WHERE user_id = $1`, focusColumns)
	var stats *models.FocusStats
	err := r.db.Read(ctx, func(ctx context.Context) error {
		row, err := scanFocus(r.db.Pool.QueryRow(ctx, query, userID))
		if err != nil {
			return err
		}
		stats = row
		return nil
	})
	if err != nil {
		if store.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get focus stats: %w", err)
	}
	return stats, nil
}

// Ensure returns the focus row, creating a zeroed one when missing.
func (r *FocusRepository) Ensure(ctx context.Context, userID string) (*models.FocusStats, error) {
	existing, err := r.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	query := fmt.Sprintf(`
		INSERT INTO focus_stats (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING %s
	`, focusColumns)
	var created *models.FocusStats
	err = r.db.Write(ctx, func(ctx context.Context) error {
		row, err := scanFocus(r.db.Pool.QueryRow(ctx, query, userID))
		if err != nil {
			return err
		}
		created = row
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure focus stats: %w", err)
	}
	return created, nil
}

// Save writes the full focus row after a session transition or a stale-day
// reset.
func (r *FocusRepository) Save(ctx context.Context, stats *models.FocusStats) (*models.FocusStats, error) {
	query := fmt.Sprintf(`
		INSERT INTO focus_stats (user_id, today_focus_minutes, today_sessions, streak, total_sessions, last_focus_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::date, now())
		ON CONFLICT (user_id) DO UPDATE SET
			today_focus_minutes = EXCLUDED.today_focus_minutes,
			today_sessions = EXCLUDED.today_sessions,
			streak = EXCLUDED.streak,
			total_sessions = EXCLUDED.total_sessions,
			last_focus_date = EXCLUDED.last_focus_date,
			updated_at = now()
		RETURNING %s
	`, focusColumns)
	lastDate := ""
	if stats.LastFocusDate != nil {
		lastDate = *stats.LastFocusDate
	}
	var saved *models.FocusStats
	err := r.db.Write(ctx, func(ctx context.Context) error {
		row, err := scanFocus(r.db.Pool.QueryRow(ctx, query,
			stats.UserID, stats.TodayFocusMinutes, stats.TodaySessions,
			stats.Streak, stats.TotalSessions, lastDate))
		if err != nil {
			return err
		}
		saved = row
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save focus stats: %w", err)
	}
	return saved, nil
}
