package services

import (
	"context"
	"net/http"
	"strings"
	"time"

	"gift-journal-backend/internal/httperr"
	"gift-journal-backend/internal/models"
	"gift-journal-backend/internal/repository"

	"github.com/google/uuid"
)

// EventInput is the create payload for an anniversary event.
type EventInput struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Date     string `json:"date"`
	Type     string `json:"type"`
	Image    string `json:"image"`
}

// EventCreated wraps a create result with the deduplication flag.
type EventCreated struct {
	Event   *models.Event `json:"event"`
	Deduped bool          `json:"deduped"`
}

// eventRowStore is the repository slice the service needs; tests fake it to
// exercise failure paths.
type eventRowStore interface {
	Insert(ctx context.Context, event *models.Event) (*models.Event, error)
	GetOwned(ctx context.Context, id, userID string) (*models.Event, error)
	ListByUsers(ctx context.Context, userIDs []string) ([]*models.Event, error)
	Update(ctx context.Context, id, userID string, title, subtitle, date, eventType, image *string) (*models.Event, error)
	Delete(ctx context.Context, id, userID string) (bool, error)
}

// EventService handles anniversary event business logic with the same
// idempotent-create discipline as memories.
type EventService struct {
	eventRepo eventRowStore
	users     userLookup
	images    blobStore
	dedup     *Deduplicator[*models.Event]
}

// NewEventService creates a new event service
func NewEventService(eventRepo *repository.EventRepository, userRepo *repository.UserRepository, images *ImageStore) *EventService {
	return &EventService{
		eventRepo: eventRepo,
		users:     userRepo,
		images:    images,
		dedup:     NewDeduplicator[*models.Event](),
	}
}

func validateEventInput(input *EventInput) error {
	input.Title = strings.TrimSpace(input.Title)
	input.Subtitle = strings.TrimSpace(input.Subtitle)
	input.Type = strings.TrimSpace(input.Type)
	if input.Title == "" {
		return httperr.New(http.StatusBadRequest, "title is required")
	}
	if len([]rune(input.Title)) > maxTitleLen {
		return httperr.Newf(http.StatusBadRequest, "title must be at most %d characters", maxTitleLen)
	}
	if _, err := time.Parse("2006-01-02", input.Date); err != nil {
		return httperr.New(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	if input.Type == "" {
		return httperr.New(http.StatusBadRequest, "type is required")
	}
	return nil
}

func eventFingerprint(userID string, input *EventInput) string {
	return strings.Join([]string{"event", userID, input.Date, input.Type, input.Title, input.Subtitle}, "|")
}

// Create inserts one event idempotently within the deduplication window.
func (s *EventService) Create(ctx context.Context, userID string, input *EventInput) (*EventCreated, error) {
	if err := validateEventInput(input); err != nil {
		return nil, err
	}

	key := eventFingerprint(userID, input)
	event, deduped, err := s.dedup.Do(ctx, key, func(ctx context.Context) (*models.Event, error) {
		return s.insertOne(ctx, userID, input)
	})
	if err != nil {
		return nil, err
	}
	return &EventCreated{Event: event, Deduped: deduped}, nil
}

func (s *EventService) insertOne(ctx context.Context, userID string, input *EventInput) (*models.Event, error) {
	image := input.Image
	if image != "" {
		persisted, err := s.images.Persist(ctx, userID, image)
		if err != nil {
			if httperr.StatusOf(err) > 0 && httperr.StatusOf(err) < http.StatusInternalServerError {
				return nil, err
			}
			persisted = image
		}
		image = persisted
	}

	created, err := s.eventRepo.Insert(ctx, &models.Event{
		ID:       uuid.New().String(),
		UserID:   userID,
		Title:    input.Title,
		Subtitle: input.Subtitle,
		Date:     input.Date,
		Type:     input.Type,
		Image:    image,
	})
	if err != nil {
		s.removeBlobDetached(image)
		return nil, err
	}
	created.Image = s.images.Resolve(ctx, created.Image)
	return created, nil
}

// removeBlobDetached deletes an uploaded blob without blocking the caller.
// Inline values are left alone.
func (s *EventService) removeBlobDetached(image string) {
	if !IsStorageRef(image) {
		return
	}
	images := s.images
	fireAndForget("blob-cleanup", func(ctx context.Context) error {
		return images.Remove(ctx, image)
	})
}

// List returns the shared view of events, newest first.
func (s *EventService) List(ctx context.Context, userID string) ([]*models.Event, error) {
	ids, authors, err := sharedView(ctx, s.users, userID)
	if err != nil {
		return nil, err
	}
	events, err := s.eventRepo.ListByUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, event := range events {
		event.Image = s.images.Resolve(ctx, event.Image)
		event.Author = models.PublicAuthor(authors[event.UserID])
	}
	return events, nil
}

// Update applies a partial edit to an owned event. A replaced image's old
// blob is removed after the row write succeeds, never before.
func (s *EventService) Update(ctx context.Context, id, userID string, title, subtitle, date, eventType, image *string) (*models.Event, error) {
	existing, err := s.eventRepo.GetOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, httperr.New(http.StatusNotFound, "event not found")
	}

	if title != nil {
		trimmed := strings.TrimSpace(*title)
		if trimmed == "" {
			return nil, httperr.New(http.StatusBadRequest, "title cannot be empty")
		}
		title = &trimmed
	}
	if date != nil {
		if _, err := time.Parse("2006-01-02", *date); err != nil {
			return nil, httperr.New(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
	}

	var newImage *string
	if image != nil && *image != "" {
		persisted, err := s.images.Persist(ctx, userID, *image)
		if err != nil {
			return nil, err
		}
		newImage = &persisted
	}

	updated, err := s.eventRepo.Update(ctx, id, userID, title, subtitle, date, eventType, newImage)
	if err != nil {
		if newImage != nil {
			s.removeBlobDetached(*newImage)
		}
		return nil, err
	}
	if updated == nil {
		if newImage != nil {
			s.removeBlobDetached(*newImage)
		}
		return nil, httperr.New(http.StatusNotFound, "event not found")
	}

	if newImage != nil && *newImage != existing.Image {
		s.removeBlobDetached(existing.Image)
	}
	updated.Image = s.images.Resolve(ctx, updated.Image)
	return updated, nil
}

// Delete removes an owned event and then its blob.
func (s *EventService) Delete(ctx context.Context, id, userID string) error {
	existing, err := s.eventRepo.GetOwned(ctx, id, userID)
	if err != nil {
		return err
	}
	if existing == nil {
		return httperr.New(http.StatusNotFound, "event not found")
	}
	deleted, err := s.eventRepo.Delete(ctx, id, userID)
	if err != nil {
		return err
	}
	if !deleted {
		return httperr.New(http.StatusNotFound, "event not found")
	}
	s.removeBlobDetached(existing.Image)
	return nil
}
