package services

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"gift-journal-backend/internal/httperr"
	"gift-journal-backend/internal/models"
	"gift-journal-backend/internal/repository"

	"github.com/google/uuid"
)

const periodListLimit = 1500

// canonicalMoods is the closed mood vocabulary.
var canonicalMoods = map[string]bool{
	"开心": true,
	"幸福": true,
	"平静": true,
	"难过": true,
	"焦虑": true,
}

var periodFlows = map[string]bool{
	models.FlowLight:  true,
	models.FlowMedium: true,
	models.FlowHeavy:  true,
}

// PeriodInput is the PATCH payload for one calendar date.
type PeriodInput struct {
	IsPeriod *bool   `json:"isPeriod"`
	Mood     *string `json:"mood"`
	Flow     *string `json:"flow"`
}

// PeriodService handles the shared period/mood calendar.
type PeriodService struct {
	periodRepo *repository.PeriodRepository
	users      userLookup
}

// NewPeriodService creates a new period service
func NewPeriodService(periodRepo *repository.PeriodRepository, userRepo *repository.UserRepository) *PeriodService {
	return &PeriodService{periodRepo: periodRepo, users: userRepo}
}

// repairMojibake recovers a UTF-8 string that was round-tripped through a
// latin-1 decode by older clients. Strings that do not fit that shape come
// back unchanged.
func repairMojibake(s string) string {
	raw := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return s
		}
		raw = append(raw, byte(r))
	}
	if !utf8.Valid(raw) {
		return s
	}
	return string(raw)
}

// normalizeMood maps a client mood onto the canonical vocabulary, repairing
// legacy garbled values. Returns "" for an unrecognized mood.
func normalizeMood(mood string) string {
	mood = strings.TrimSpace(mood)
	if mood == "" {
		return ""
	}
	if canonicalMoods[mood] {
		return mood
	}
	if repaired := repairMojibake(mood); canonicalMoods[repaired] {
		return repaired
	}
	return ""
}

// List returns the shared view of entries inside the inclusive date range.
func (s *PeriodService) List(ctx context.Context, userID, start, end string) ([]*models.PeriodEntry, error) {
	for _, bound := range []string{start, end} {
		if bound != "" {
			if _, err := time.Parse(dayFormat, bound); err != nil {
				return nil, httperr.New(http.StatusBadRequest, "start and end must be YYYY-MM-DD")
			}
		}
	}

	ids, authors, err := sharedView(ctx, s.users, userID)
	if err != nil {
		return nil, err
	}
	entries, err := s.periodRepo.ListByUsers(ctx, ids, start, end)
	if err != nil {
		return nil, err
	}
	if len(entries) > periodListLimit {
		entries = entries[:periodListLimit]
	}
	for _, entry := range entries {
		entry.Author = models.PublicAuthor(authors[entry.UserID])
	}
	return entries, nil
}

// Patch merges the input into the (user, date) entry. An entry left with no
// period flag, mood, or flow is deleted rather than stored empty. The
// returned entry is nil when the date ends up empty.
func (s *PeriodService) Patch(ctx context.Context, userID, date string, input *PeriodInput) (*models.PeriodEntry, error) {
	if _, err := time.Parse(dayFormat, date); err != nil {
		return nil, httperr.New(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, httperr.New(http.StatusUnauthorized, "unauthorized")
	}
	if input.IsPeriod != nil && *input.IsPeriod && user.Gender == models.GenderMale {
		return nil, httperr.New(http.StatusForbidden, "period tracking is not available on this account")
	}

	existing, err := s.periodRepo.Get(ctx, userID, date)
	if err != nil {
		return nil, err
	}

	entry := &models.PeriodEntry{UserID: userID, EntryDate: date}
	if existing != nil {
		entry.ID = existing.ID
		entry.IsPeriod = existing.IsPeriod
		entry.Mood = existing.Mood
		entry.Flow = existing.Flow
	} else {
		entry.ID = uuid.New().String()
	}

	if input.IsPeriod != nil {
		entry.IsPeriod = *input.IsPeriod
	}
	if input.Mood != nil {
		if *input.Mood == "" {
			entry.Mood = nil
		} else {
			normalized := normalizeMood(*input.Mood)
			if normalized == "" {
				return nil, httperr.New(http.StatusBadRequest, "unrecognized mood value")
			}
			entry.Mood = &normalized
		}
	}
	if input.Flow != nil {
		if *input.Flow == "" {
			entry.Flow = nil
		} else {
			if !periodFlows[*input.Flow] {
				return nil, httperr.New(http.StatusBadRequest, "flow must be light, medium, or heavy")
			}
			entry.Flow = input.Flow
		}
	}
	// Flow only means something during a period.
	if !entry.IsPeriod {
		entry.Flow = nil
	}

	if !entry.IsPeriod && entry.Mood == nil && entry.Flow == nil {
		if existing != nil {
			if _, err := s.periodRepo.Delete(ctx, userID, date); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	return s.periodRepo.Upsert(ctx, entry)
}
