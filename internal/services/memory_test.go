package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gift-journal-backend/internal/config"
	"gift-journal-backend/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
)

type fakeMemoryStore struct {
	insertManyCalls [][]*models.Memory
	// tooLargeAbove rejects any InsertMany whose estimated payload exceeds
	// the threshold, mimicking a server-side statement limit.
	tooLargeAbove int
	failAll       bool
}

func (f *fakeMemoryStore) Insert(_ context.Context, memory *models.Memory) (*models.Memory, error) {
	return memory, nil
}

func (f *fakeMemoryStore) InsertMany(_ context.Context, memories []*models.Memory) ([]*models.Memory, error) {
	f.insertManyCalls = append(f.insertManyCalls, memories)
	if f.failAll {
		return nil, errors.New("conn closed")
	}
	if f.tooLargeAbove > 0 {
		total := 0
		for _, memory := range memories {
			total += estimateItemBytes(memory)
		}
		if total > f.tooLargeAbove {
			return nil, &pgconn.PgError{Code: "54000", Message: "payload too large"}
		}
	}
	return memories, nil
}

func (f *fakeMemoryStore) ListByUsers(context.Context, []string, int, int) ([]*models.Memory, int, error) {
	return nil, 0, nil
}

func (f *fakeMemoryStore) DateRows(context.Context, []string) ([]*models.Memory, error) {
	return nil, nil
}

func (f *fakeMemoryStore) GetOwned(context.Context, string, string) (*models.Memory, error) {
	return nil, nil
}

func (f *fakeMemoryStore) Update(context.Context, string, string, *string, *string, *string, *string) (*models.Memory, error) {
	return nil, nil
}

func (f *fakeMemoryStore) Delete(context.Context, string, string) (bool, error) {
	return false, nil
}

func testMemories(n int, imageBytes int) []*models.Memory {
	items := make([]*models.Memory, n)
	for i := range items {
		items[i] = &models.Memory{
			ID:       string(rune('a' + i)),
			Title:    "memory",
			Date:     "2026-03-10",
			Image:    strings.Repeat("x", imageBytes),
			Rotation: "left",
		}
	}
	return items
}

func TestPlanChunksRespectsItemCeiling(t *testing.T) {
	t.Parallel()

	chunks := planChunks(testMemories(10, 100))
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	total := 0
	for _, chunk := range chunks {
		if len(chunk) > chunkMaxItems {
			t.Fatalf("chunk holds %d items, ceiling is %d", len(chunk), chunkMaxItems)
		}
		total += len(chunk)
	}
	if total != 10 {
		t.Fatalf("chunks cover %d items, want 10", total)
	}
}

func TestPlanChunksRespectsByteBudget(t *testing.T) {
	t.Parallel()

	// Each item is nearly two thirds of the budget, so no two fit together.
	itemBytes := chunkMaxPayloadBytes*2/3 - 256
	chunks := planChunks(testMemories(3, itemBytes))
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want one per oversized item", len(chunks))
	}
}

func TestPlanChunksOversizedItemGetsOwnChunk(t *testing.T) {
	t.Parallel()

	items := testMemories(2, 100)
	items = append(items, testMemories(1, chunkMaxPayloadBytes+1)...)
	chunks := planChunks(items)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if len(chunks[1]) != 1 {
		t.Fatalf("oversized item must sit alone, chunk holds %d items", len(chunks[1]))
	}
}

func TestPlanChunksPreservesOrder(t *testing.T) {
	t.Parallel()

	items := testMemories(7, 100)
	var flattened []*models.Memory
	for _, chunk := range planChunks(items) {
		flattened = append(flattened, chunk...)
	}
	for i := range items {
		if flattened[i] != items[i] {
			t.Fatalf("item %d out of order", i)
		}
	}
}

func TestInsertChunkBisectsOnPayloadTooLarge(t *testing.T) {
	t.Parallel()

	items := testMemories(4, 1000)
	perItem := estimateItemBytes(items[0])
	// The full chunk is rejected; halves of two items pass.
	store := &fakeMemoryStore{tooLargeAbove: perItem * 2}
	service := &MemoryService{memoryRepo: store}

	inserted, err := service.insertChunk(context.Background(), items)
	if err != nil {
		t.Fatalf("insertChunk: %v", err)
	}
	if len(inserted) != 4 {
		t.Fatalf("inserted %d items, want 4", len(inserted))
	}
	// One rejected full attempt, then two accepted halves.
	if len(store.insertManyCalls) != 3 {
		t.Fatalf("store saw %d InsertMany calls, want 3", len(store.insertManyCalls))
	}
}

func TestInsertChunkSingleOversizedItemSurfaces(t *testing.T) {
	t.Parallel()

	items := testMemories(1, 1000)
	store := &fakeMemoryStore{tooLargeAbove: 1}
	service := &MemoryService{memoryRepo: store}

	if _, err := service.insertChunk(context.Background(), items); err == nil {
		t.Fatal("expected single oversized item to fail without bisecting")
	}
	if len(store.insertManyCalls) != 1 {
		t.Fatalf("store saw %d calls, want 1", len(store.insertManyCalls))
	}
}

func TestInsertChunkNonSizeErrorNotBisected(t *testing.T) {
	t.Parallel()

	store := &fakeMemoryStore{failAll: true}
	service := &MemoryService{memoryRepo: store}

	if _, err := service.insertChunk(context.Background(), testMemories(4, 100)); err == nil {
		t.Fatal("expected transport error to surface")
	}
	if len(store.insertManyCalls) != 1 {
		t.Fatalf("transport failure must not trigger bisection, store saw %d calls", len(store.insertManyCalls))
	}
}

func TestBuildPagination(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		page, limit int
		total       int
		wantPages   int
		wantHasMore bool
	}{
		{name: "empty", page: 1, limit: 50, total: 0, wantPages: 0, wantHasMore: false},
		{name: "single partial page", page: 1, limit: 50, total: 7, wantPages: 1, wantHasMore: false},
		{name: "exact fit", page: 1, limit: 50, total: 100, wantPages: 2, wantHasMore: true},
		{name: "last page", page: 2, limit: 50, total: 100, wantPages: 2, wantHasMore: false},
		{name: "remainder adds page", page: 2, limit: 50, total: 101, wantPages: 3, wantHasMore: true},
	}

	for _, testCase := range cases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			got := buildPagination(testCase.page, testCase.limit, testCase.total)
			if got.TotalPages != testCase.wantPages {
				t.Fatalf("total pages = %d, want %d", got.TotalPages, testCase.wantPages)
			}
			if got.HasMore != testCase.wantHasMore {
				t.Fatalf("hasMore = %v, want %v", got.HasMore, testCase.wantHasMore)
			}
		})
	}
}

func TestNormalizePage(t *testing.T) {
	t.Parallel()

	service := &MemoryService{limits: config.LimitsConfig{PageDefaultLimit: 50, PageMaxLimit: 100}}

	page, limit := service.normalizePage(0, 0)
	if page != 1 || limit != 50 {
		t.Fatalf("defaults = (%d, %d), want (1, 50)", page, limit)
	}
	page, limit = service.normalizePage(3, 500)
	if page != 3 || limit != 100 {
		t.Fatalf("clamped = (%d, %d), want (3, 100)", page, limit)
	}
}

func TestYearStatsFromRows(t *testing.T) {
	t.Parallel()

	// Rows arrive date-descending, so the first row of each year is its
	// newest memory and becomes the cover.
	rows := []*models.Memory{
		{ID: "m4", Date: "2026-05-01"},
		{ID: "m3", Date: "2026-01-02"},
		{ID: "m2", Date: "2025-12-31"},
		{ID: "m1", Date: "2025-01-01"},
	}
	stats := yearStatsFromRows(rows)
	if len(stats) != 2 {
		t.Fatalf("got %d years, want 2", len(stats))
	}
	if stats[0].Year != 2026 || stats[0].Count != 2 || stats[0].Cover != "m4" {
		t.Fatalf("2026 stat = %+v", stats[0])
	}
	if stats[1].Year != 2025 || stats[1].Count != 2 || stats[1].Cover != "m2" {
		t.Fatalf("2025 stat = %+v", stats[1])
	}
}

func TestValidateMemoryInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		input   MemoryInput
		wantErr bool
		wantRot string
	}{
		{name: "valid", input: MemoryInput{Title: "День рождения", Date: "2026-03-10", Image: "data", Rotation: "right"}, wantRot: "right"},
		{name: "rotation defaults left", input: MemoryInput{Title: "t", Date: "2026-03-10", Image: "data"}, wantRot: "left"},
		{name: "missing title", input: MemoryInput{Date: "2026-03-10", Image: "data"}, wantErr: true},
		{name: "whitespace title", input: MemoryInput{Title: "   ", Date: "2026-03-10", Image: "data"}, wantErr: true},
		{name: "bad date", input: MemoryInput{Title: "t", Date: "10.03.2026", Image: "data"}, wantErr: true},
		{name: "bad rotation", input: MemoryInput{Title: "t", Date: "2026-03-10", Image: "data", Rotation: "upside"}, wantErr: true},
		{name: "title too long", input: MemoryInput{Title: strings.Repeat("я", maxTitleLen+1), Date: "2026-03-10", Image: "data"}, wantErr: true},
	}

	for _, testCase := range cases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			err := validateMemoryInput(&testCase.input)
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected validation error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if testCase.input.Rotation != testCase.wantRot {
				t.Fatalf("rotation = %q, want %q", testCase.input.Rotation, testCase.wantRot)
			}
		})
	}
}
