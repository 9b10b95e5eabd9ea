package repository

import (
	"context"
	"fmt"

	"gift-journal-backend/internal/models"
	"gift-journal-backend/internal/store"

	"github.com/google/uuid"
)

const notificationColumns = `id, user_id, title, message, type, read, created_at`

// NotificationRepository handles database operations for notifications
type NotificationRepository struct {
	db *store.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *store.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func scanNotification(row interface{ Scan(...any) error }) (*models.Notification, error) {
	var notification models.Notification
	err := row.Scan(
		&notification.ID, &notification.UserID, &notification.Title,
		&notification.Message, &notification.Type, &notification.Read, &notification.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &notification, nil
}

// Insert creates a notification row and returns it.
func (r *NotificationRepository) Insert(ctx context.Context, userID, title, message, notificationType string) (*models.Notification, error) {
	query := fmt.Sprintf(`
		INSERT INTO notifications (id, user_id, title, message, type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING %s
	`, notificationColumns)
	var created *models.Notification
	err := r.db.Write(ctx, func(ctx context.Context) error {
		row, err := scanNotification(r.db.Pool.QueryRow(ctx, query,
			uuid.New().String(), userID, title, message, notificationType,
		))
		if err != nil {
			return err
		}
		created = row
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	return created, nil
}

// ListByUser retrieves the user's notifications, newest first.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string) ([]*models.Notification, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, notificationColumns)
	var notifications []*models.Notification
	err := r.db.Read(ctx, func(ctx context.Context) error {
		rows, err := r.db.Pool.Query(ctx, query, userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		notifications = notifications[:0]
		for rows.Next() {
			notification, err := scanNotification(rows)
			if err != nil {
				return err
			}
			notifications = append(notifications, notification)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}

// MarkRead flips the read flag on an owned notification; nil when absent.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID string) (*models.Notification, error) {
	query := fmt.Sprintf(`
		UPDATE notifications SET read = TRUE
		WHERE id = $1 AND user_id = $2
		RETURNING %s
	`, notificationColumns)
	var updated *models.Notification
	err := r.db.Write(ctx, func(ctx context.Context) error {
		row, err := scanNotification(r.db.Pool.QueryRow(ctx, query, id, userID))
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
		return nil, fmt.Errorf("failed to mark notification read: %w", err)
	}
	return updated, nil
}

// DeleteAllForUser clears the user's notification list.
func (r *NotificationRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	query := `DELETE FROM notifications WHERE user_id = $1`
	err := r.db.Write(ctx, func(ctx context.Context) error {
		_, err := r.db.Pool.Exec(ctx, query, userID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete notifications: %w", err)
	}
	return nil
}
