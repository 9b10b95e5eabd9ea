package services

import (
	"context"
	"net/http"
	"strings"

	"gift-journal-backend/internal/httperr"
	"gift-journal-backend/internal/models"
	"gift-journal-backend/internal/repository"
)

// NotificationService handles notification business logic and fan-out to the
// live stream.
type NotificationService struct {
	notifRepo *repository.NotificationRepository
	hub       *WSHub
}

// NewNotificationService creates a new notification service
func NewNotificationService(notifRepo *repository.NotificationRepository, hub *WSHub) *NotificationService {
	return &NotificationService{notifRepo: notifRepo, hub: hub}
}

// List returns the user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID string) ([]*models.Notification, error) {
	return s.notifRepo.ListByUser(ctx, userID)
}

// Create stores a notification and pushes it to the owner's live connection.
func (s *NotificationService) Create(ctx context.Context, userID, title, message, notificationType string) (*models.Notification, error) {
	title = strings.TrimSpace(title)
	message = strings.TrimSpace(message)
	if title == "" || message == "" {
		return nil, httperr.New(http.StatusBadRequest, "title and message are required")
	}
	if notificationType != models.NotificationSystem && notificationType != models.NotificationInteraction {
		return nil, httperr.New(http.StatusBadRequest, "invalid notification type")
	}

	notification, err := s.notifRepo.Insert(ctx, userID, title, message, notificationType)
	if err != nil {
		return nil, err
	}
	s.hub.Publish(userID, "notification", notification)
	return notification, nil
}

// NotifyDetached creates a notification from a detached task so callers
// never block or fail on it.
func (s *NotificationService) NotifyDetached(userID, title, message, notificationType string) {
	fireAndForget("notification", func(ctx context.Context) error {
		_, err := s.Create(ctx, userID, title, message, notificationType)
		return err
	})
}

// MarkRead flips the read flag on a notification owned by the caller.
func (s *NotificationService) MarkRead(ctx context.Context, id, userID string) (*models.Notification, error) {
	notification, err := s.notifRepo.MarkRead(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if notification == nil {
		return nil, httperr.New(http.StatusNotFound, "notification not found")
	}
	return notification, nil
}

// Clear removes every notification owned by the caller.
func (s *NotificationService) Clear(ctx context.Context, userID string) error {
	return s.notifRepo.DeleteAllForUser(ctx, userID)
}
