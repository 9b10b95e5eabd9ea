package repository

import (
	"context"
	"fmt"

	"gift-journal-backend/internal/models"
	"gift-journal-backend/internal/store"
)

const eventColumns = `id, user_id, title, subtitle, to_char(date, 'YYYY-MM-DD'), type, image, created_at`

// EventRepository handles database operations for anniversary events
type EventRepository struct {
	db *store.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *store.DB) *EventRepository {
	return &EventRepository{db: db}
}

func scanEvent(row interface{ Scan(...any) error }) (*models.Event, error) {
	var event models.Event
	err := row.Scan(
		&event.ID, &event.UserID, &event.Title, &event.Subtitle,
		&event.Date, &event.Type, &event.Image, &event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// Insert creates one event row and returns it.
func (r *EventRepository) Insert(ctx context.Context, event *models.Event) (*models.Event, error) {
	query := fmt.Sprintf(`
		INSERT INTO events (id, user_id, title, subtitle, date, type, image)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING %s
	`, eventColumns)
	var created *models.Event
	err := r.db.Write(ctx, func(ctx context.Context) error {
		row, err := scanEvent(r.db.Pool.QueryRow(ctx, query,
			event.ID, event.UserID, event.Title, event.Subtitle, event.Date, event.Type, event.Image,
		))
		if err != nil {
			return err
		}
		created = row
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	return created, nil
}

// GetOwned retrieves one event if it belongs to the given user.
func (r *EventRepository) GetOwned(ctx context.Context, id, userID string) (*models.Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM events WHERE id = $1 AND user_id = $2`, eventColumns)
	var event *models.Event
	err := r.db.Read(ctx, func(ctx context.Context) error {
		row, err := scanEvent(r.db.Pool.QueryRow(ctx, query, id, userID))
		if err != nil {
			return err
		}
		event = row
		return nil
	})
	if err != nil {
		if store.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

// ListByUsers retrieves events visible to the given user set, newest first.
func (r *EventRepository) ListByUsers(ctx context.Context, userIDs []string) ([]*models.Event, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT %s FROM events
		WHERE user_id = ANY($1)
		ORDER BY created_at DESC
	`, eventColumns)
	var events []*models.Event
	err := r.db.Read(ctx, func(ctx context.Context) error {
		rows, err := r.db.Pool.Query(ctx, query, userIDs)
		if err != nil {
			return err
		}
		defer rows.Close()
		events = events[:0]
		for rows.Next() {
			event, err := scanEvent(rows)
			if err != nil {
				return err
			}
			events = append(events, event)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// Update applies the non-nil fields to an owned event; nil when absent or
// not owned by the caller.
func (r *EventRepository) Update(ctx context.Context, id, userID string, title, subtitle, date, eventType, image *string) (*models.Event, error) {
	query := fmt.Sprintf(`
		UPDATE events
		SET title = COALESCE($3, title),
		    subtitle = COALESCE($4, subtitle),
		    date = COALESCE($5::date, date),
		    type = COALESCE($6, type),
		    image = COALESCE($7, image)
		WHERE id = $1 AND user_id = $2
		RETURNING %s
	`, eventColumns)
	var updated *models.Event
	err := r.db.Write(ctx, func(ctx context.Context) error {
		row, err := scanEvent(r.db.Pool.QueryRow(ctx, query, id, userID, title, subtitle, date, eventType, image))
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
		return nil, fmt.Errorf("failed to update event: %w", err)
	}
	return updated, nil
}

// Delete removes an owned event; false when nothing matched.
func (r *EventRepository) Delete(ctx context.Context, id, userID string) (bool, error) {
	query := `DELETE FROM events WHERE id = $1 AND user_id = $2`
	var deleted bool
	err := r.db.Write(ctx, func(ctx context.Context) error {
		tag, err := r.db.Pool.Exec(ctx, query, id, userID)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete event: %w", err)
	}
	return deleted, nil
}
