package services

import (
	"context"
	"net/http"
	"time"

	"gift-journal-backend/internal/httperr"
	"gift-journal-backend/internal/models"
	"gift-journal-backend/internal/repository"
)

const (
	minSessionMinutes = 1
	maxSessionMinutes = 240
)

const dayFormat = "2006-01-02"

// FocusService handles focus streak statistics.
type FocusService struct {
	focusRepo *repository.FocusRepository
	now       func() time.Time
}

// NewFocusService creates a new focus service
func NewFocusService(focusRepo *repository.FocusRepository) *FocusService {
	return &FocusService{focusRepo: focusRepo, now: time.Now}
}

// applyFocusSession is the pure streak transition: same-day sessions
// accumulate, a yesterday date extends the streak, any other gap resets it
// to 1. Lifetime sessions and the last focus date always advance.
func applyFocusSession(prev *models.FocusStats, today string, minutes int) *models.FocusStats {
	next := *prev
	switch {
	case prev.LastFocusDate != nil && *prev.LastFocusDate == today:
		next.TodayFocusMinutes += minutes
		next.TodaySessions++
		if next.Streak == 0 {
			next.Streak = 1
		}
	case prev.LastFocusDate != nil && isYesterday(*prev.LastFocusDate, today):
		next.TodayFocusMinutes = minutes
		next.TodaySessions = 1
		next.Streak++
	default:
		next.TodayFocusMinutes = minutes
		next.TodaySessions = 1
		next.Streak = 1
	}
	next.TotalSessions++
	next.LastFocusDate = &today
	return &next
}

func isYesterday(date, today string) bool {
	parsed, err := time.Parse(dayFormat, date)
	if err != nil {
		return false
	}
	parsedToday, err := time.Parse(dayFormat, today)
	if err != nil {
		return false
	}
	return parsed.AddDate(0, 0, 1).Equal(parsedToday)
}

// Get returns the caller's stats, zeroing stale today-counters when the last
// focus day has passed. The streak itself is only re-evaluated on the next
// completed session.
func (s *FocusService) Get(ctx context.Context, userID string) (*models.FocusStats, error) {
	stats, err := s.focusRepo.Ensure(ctx, userID)
	if err != nil {
		return nil, err
	}
	today := s.now().Format(dayFormat)
	if stats.LastFocusDate != nil && *stats.LastFocusDate != today && (stats.TodayFocusMinutes > 0 || stats.TodaySessions > 0) {
		stats.TodayFocusMinutes = 0
		stats.TodaySessions = 0
		return s.focusRepo.Save(ctx, stats)
	}
	return stats, nil
}

// CompleteSession records a finished focus session.
func (s *FocusService) CompleteSession(ctx context.Context, userID string, minutes int) (*models.FocusStats, error) {
	if minutes < minSessionMinutes || minutes > maxSessionMinutes {
		return nil, httperr.Newf(http.StatusBadRequest, "focusMinutes must be between %d and %d", minSessionMinutes, maxSessionMinutes)
	}
	stats, err := s.focusRepo.Ensure(ctx, userID)
	if err != nil {
		return nil, err
	}
	next := applyFocusSession(stats, s.now().Format(dayFormat), minutes)
	return s.focusRepo.Save(ctx, next)
}
