package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gift-journal-backend/internal/httperr"
	"gift-journal-backend/internal/models"
)

type fakeEventStore struct {
	rows map[string]*models.Event
	// updateErr fails the row write after the new blob is already persisted.
	updateErr error
	// vanishRow makes Update report no matching row, as if the event was
	// deleted between the ownership check and the write.
	vanishRow bool
}

func (f *fakeEventStore) Insert(_ context.Context, event *models.Event) (*models.Event, error) {
	return event, nil
}

func (f *fakeEventStore) GetOwned(_ context.Context, id, userID string) (*models.Event, error) {
	event, ok := f.rows[id]
	if !ok || event.UserID != userID {
		return nil, nil
	}
	return event, nil
}

func (f *fakeEventStore) ListByUsers(context.Context, []string) ([]*models.Event, error) {
	return nil, nil
}

func (f *fakeEventStore) Update(_ context.Context, id, userID string, title, subtitle, date, eventType, image *string) (*models.Event, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if f.vanishRow {
		return nil, nil
	}
	event, ok := f.rows[id]
	if !ok || event.UserID != userID {
		return nil, nil
	}
	updated := *event
	if title != nil {
		updated.Title = *title
	}
	if image != nil {
		updated.Image = *image
	}
	f.rows[id] = &updated
	return &updated, nil
}

func (f *fakeEventStore) Delete(_ context.Context, id, userID string) (bool, error) {
	event, ok := f.rows[id]
	if !ok || event.UserID != userID {
		return false, nil
	}
	delete(f.rows, id)
	return true, nil
}

type fakeBlobStore struct {
	// persistKey is returned for every Persist call.
	persistKey string
	removed    chan string
}

func newFakeBlobStore(persistKey string) *fakeBlobStore {
	return &fakeBlobStore{persistKey: persistKey, removed: make(chan string, 4)}
}

func (f *fakeBlobStore) Persist(context.Context, string, string) (string, error) {
	return f.persistKey, nil
}

func (f *fakeBlobStore) Resolve(_ context.Context, image string) string { return image }

func (f *fakeBlobStore) Remove(_ context.Context, image string) error {
	f.removed <- image
	return nil
}

func waitRemoved(t *testing.T, blobs *fakeBlobStore) string {
	t.Helper()
	select {
	case image := <-blobs.removed:
		return image
	case <-time.After(2 * time.Second):
		t.Fatal("no blob removal observed")
		return ""
	}
}

func eventFixture(store *fakeEventStore, blobs *fakeBlobStore) *EventService {
	return &EventService{
		eventRepo: store,
		images:    blobs,
		dedup:     NewDeduplicator[*models.Event](),
	}
}

func ownedEvent(id, userID, image string) *models.Event {
	return &models.Event{ID: id, UserID: userID, Title: "anniversary", Date: "2026-03-10", Type: "custom", Image: image}
}

func strPtr(s string) *string { return &s }

func TestEventUpdateCleansUpNewBlobOnRowFailure(t *testing.T) {
	t.Parallel()

	store := &fakeEventStore{
		rows:      map[string]*models.Event{"ev1": ownedEvent("ev1", "alice", "storage:old")},
		updateErr: errors.New("conn closed"),
	}
	blobs := newFakeBlobStore("storage:new")
	service := eventFixture(store, blobs)

	_, err := service.Update(context.Background(), "ev1", "alice", nil, nil, nil, nil, strPtr("data:image/png;base64,aGk="))
	if err == nil {
		t.Fatal("expected the row failure to surface")
	}
	if removed := waitRemoved(t, blobs); removed != "storage:new" {
		t.Fatalf("removed %q, want the stranded new blob", removed)
	}
	if got := store.rows["ev1"].Image; got != "storage:old" {
		t.Fatalf("row image = %q, want untouched old blob", got)
	}
}

func TestEventUpdateCleansUpNewBlobWhenRowVanished(t *testing.T) {
	t.Parallel()

	store := &fakeEventStore{
		rows:      map[string]*models.Event{"ev1": ownedEvent("ev1", "alice", "storage:old")},
		vanishRow: true,
	}
	blobs := newFakeBlobStore("storage:new")
	service := eventFixture(store, blobs)

	_, err := service.Update(context.Background(), "ev1", "alice", nil, nil, nil, nil, strPtr("data:image/png;base64,aGk="))
	if status := httperr.StatusOf(err); status != 404 {
		t.Fatalf("status = %d, want 404", status)
	}
	if removed := waitRemoved(t, blobs); removed != "storage:new" {
		t.Fatalf("removed %q, want the stranded new blob", removed)
	}
}

func TestEventUpdateRemovesReplacedBlob(t *testing.T) {
	t.Parallel()

	store := &fakeEventStore{
		rows: map[string]*models.Event{"ev1": ownedEvent("ev1", "alice", "storage:old")},
	}
	blobs := newFakeBlobStore("storage:new")
	service := eventFixture(store, blobs)

	updated, err := service.Update(context.Background(), "ev1", "alice", nil, nil, nil, nil, strPtr("data:image/png;base64,aGk="))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Image != "storage:new" {
		t.Fatalf("updated image = %q, want %q", updated.Image, "storage:new")
	}
	if removed := waitRemoved(t, blobs); removed != "storage:old" {
		t.Fatalf("removed %q, want the replaced old blob", removed)
	}
}

func TestEventDeleteRemovesRowBlob(t *testing.T) {
	t.Parallel()

	store := &fakeEventStore{
		rows: map[string]*models.Event{"ev1": ownedEvent("ev1", "alice", "storage:old")},
	}
	blobs := newFakeBlobStore("")
	service := eventFixture(store, blobs)

	if err := service.Delete(context.Background(), "ev1", "alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if removed := waitRemoved(t, blobs); removed != "storage:old" {
		t.Fatalf("removed %q, want the row's blob", removed)
	}
	if _, ok := store.rows["ev1"]; ok {
		t.Fatal("row still present after delete")
	}
}
