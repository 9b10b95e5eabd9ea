package repository

import (
	"context"
	"fmt"

	"gift-journal-backend/internal/models"
	"gift-journal-backend/internal/store"
)

const periodColumns = `id, user_id, to_char(entry_date, 'YYYY-MM-DD'), is_period, mood, flow, created_at, updated_at`

// PeriodRepository handles database operations for period tracker entries
type PeriodRepository struct {
	db *store.DB
}

// NewPeriodRepository creates a new period repository
func NewPeriodRepository(db *store.DB) *PeriodRepository {
	return &PeriodRepository{db: db}
}

func scanPeriodEntry(row interface{ Scan(...any) error }) (*models.PeriodEntry, error) {
	var entry models.PeriodEntry
	err := row.Scan(&entry.ID, &entry.UserID, &entry.EntryDate, &entry.IsPeriod,
		&entry.Mood, &entry.Flow, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListByUsers returns entries for the given users inside an inclusive date
// range, oldest first. Empty from/to bounds are ignored.
func (r *PeriodRepository) ListByUsers(ctx context.Context, userIDs []string, from, to string) ([]*models.PeriodEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM period_tracker_entries
		WHERE user_id = ANY($1)
		  AND ($2 = '' OR entry_date >= $2::date)
		  AND ($3 = '' OR entry_date <= $3::date)
		ORDER BY entry_date ASC
	`, periodColumns)
	var entries []*models.PeriodEntry
	err := r.db.Read(ctx, func(ctx context.Context) error {
		rows, err := r.db.Pool.Query(ctx, query, userIDs, from, to)
		if err != nil {
			return err
		}
		defer rows.Close()
		entries = entries[:0]
		for rows.Next() {
			entry, err := scanPeriodEntry(rows)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list period entries: %w", err)
	}
	return entries, nil
}

// Get loads a single entry by owner and date; nil when absent.
func (r *PeriodRepository) Get(ctx context.Context, userID, date string) (*models.PeriodEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM period_tracker_entries WHERE user_id = $1 AND entry_date = $2::date`, periodColumns)
	var entry *models.PeriodEntry
	err := r.db.Read(ctx, func(ctx context.Context) error {
		row, err := scanPeriodEntry(r.db.Pool.QueryRow(ctx, query, userID, date))
		if err != nil {
			return err
		}
		entry = row
		return nil
	})
	if err != nil {
		if store.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get period entry: %w", err)
	}
	return entry, nil
}

// Upsert writes a full entry for (user, date), replacing any existing one.
func (r *PeriodRepository) Upsert(ctx context.Context, entry *models.PeriodEntry) (*models.PeriodEntry, error) {
	query := fmt.Sprintf(`
		INSERT INTO period_tracker_entries (id, user_id, entry_date, is_period, mood, flow, updated_at)
		VALUES ($1, $2, $3::date, $4, $5, $6, now())
		ON CONFLICT (user_id, entry_date) DO UPDATE SET
			is_period = EXCLUDED.is_period,
			mood = EXCLUDED.mood,
			flow = EXCLUDED.flow,
			updated_at = now()
		RETURNING %s
	`, periodColumns)
	var saved *models.PeriodEntry
	err := r.db.Write(ctx, func(ctx context.Context) error {
		row, err := scanPeriodEntry(r.db.Pool.QueryRow(ctx, query,
			entry.ID, entry.UserID, entry.EntryDate, entry.IsPeriod, entry.Mood, entry.Flow))
		if err != nil {
			return err
		}
		saved = row
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert period entry: %w", err)
	}
	return saved, nil
}

// Delete removes the entry for (user, date). Returns false when nothing
// matched.
func (r *PeriodRepository) Delete(ctx context.Context, userID, date string) (bool, error) {
	query := `DELETE FROM period_tracker_entries WHERE user_id = $1 AND entry_date = $2::date`
	var deleted bool
	err := r.db.Write(ctx, func(ctx context.Context) error {
		tag, err := r.db.Pool.Exec(ctx, query, userID, date)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete period entry: %w", err)
	}
	return deleted, nil
}
