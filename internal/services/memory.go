package services

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"gift-journal-backend/internal/config"
	"gift-journal-backend/internal/httperr"
	"gift-journal-backend/internal/models"
	"gift-journal-backend/internal/repository"
	"gift-journal-backend/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	batchMaxItems = 30
	// A chunk never exceeds either bound; the byte bound is a soft estimate,
	// so a rejected chunk is bisected rather than failed.
	chunkMaxItems        = 4
	chunkMaxPayloadBytes = 8 << 20
	imageUploadWorkers   = 2
	maxTitleLen          = 200
)

var memoryRotations = map[string]bool{"left": true, "right": true}

// memoryRowStore is the repository slice the service needs; tests fake it to
// drive the bisection path.
type memoryRowStore interface {
	Insert(ctx context.Context, memory *models.Memory) (*models.Memory, error)
	InsertMany(ctx context.Context, memories []*models.Memory) ([]*models.Memory, error)
	ListByUsers(ctx context.Context, userIDs []string, limit, offset int) ([]*models.Memory, int, error)
	DateRows(ctx context.Context, userIDs []string) ([]*models.Memory, error)
	GetOwned(ctx context.Context, id, userID string) (*models.Memory, error)
	Update(ctx context.Context, id, userID string, title, date, image, rotation *string) (*models.Memory, error)
	Delete(ctx context.Context, id, userID string) (bool, error)
}

// MemoryCreated wraps a create result with the deduplication flag.
type MemoryCreated struct {
	Memory  *models.Memory `json:"memory"`
	Deduped bool           `json:"deduped"`
}

// BatchResult carries the batch outcome including partial progress.
type BatchResult struct {
	Memories []*models.Memory `json:"memories"`
	Failed   int              `json:"failed"`
}

// Pagination is the list metadata block.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

// YearStat aggregates one calendar year of memories.
type YearStat struct {
	Year  int    `json:"year"`
	Count int    `json:"count"`
	Cover string `json:"cover"`
}

// MemoryInput is one create/update payload item.
type MemoryInput struct {
	Title    string `json:"title"`
	Date     string `json:"date"`
	Image    string `json:"image"`
	Rotation string `json:"rotation"`
}

// MemoryService handles memory business logic: idempotent creation, adaptive
// batch insertion, and blob lifecycle.
type MemoryService struct {
	memoryRepo memoryRowStore
	users      userLookup
	images     *ImageStore
	dedup      *Deduplicator[*models.Memory]
	limits     config.LimitsConfig
}

// NewMemoryService creates a new memory service
func NewMemoryService(
	memoryRepo *repository.MemoryRepository,
	userRepo *repository.UserRepository,
	images *ImageStore,
	limits config.LimitsConfig,
) *MemoryService {
	return &MemoryService{
		memoryRepo: memoryRepo,
		users:      userRepo,
		images:     images,
		dedup:      NewDeduplicator[*models.Memory](),
		limits:     limits,
	}
}

func validateMemoryInput(input *MemoryInput) error {
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return httperr.New(http.StatusBadRequest, "title is required")
	}
	if len([]rune(input.Title)) > maxTitleLen {
		return httperr.Newf(http.StatusBadRequest, "title must be at most %d characters", maxTitleLen)
	}
	if _, err := time.Parse("2006-01-02", input.Date); err != nil {
		return httperr.New(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	if input.Image == "" {
		return httperr.New(http.StatusBadRequest, "image is required")
	}
	if input.Rotation == "" {
		input.Rotation = "left"
	}
	if !memoryRotations[input.Rotation] {
		return httperr.New(http.StatusBadRequest, "rotation must be left or right")
	}
	return nil
}

// memoryFingerprint derives the in-process deduplication key. Not a database
// identity.
func memoryFingerprint(userID string, input *MemoryInput) string {
	sum := sha1.Sum([]byte(input.Image))
	return strings.Join([]string{"memory", userID, input.Date, input.Title, hex.EncodeToString(sum[:])}, "|")
}

// resolveImages rewrites storage refs into delivery URLs on a read path.
func (s *MemoryService) resolveImages(ctx context.Context, memories []*models.Memory, authors map[string]*models.User) {
	for _, memory := range memories {
		memory.Image = s.images.Resolve(ctx, memory.Image)
		memory.Author = models.PublicAuthor(authors[memory.UserID])
	}
}

// Create inserts one memory idempotently: concurrent and near-in-time
// retries bearing the same fingerprint observe the first request's result.
func (s *MemoryService) Create(ctx context.Context, userID string, input *MemoryInput) (*MemoryCreated, error) {
	if err := validateMemoryInput(input); err != nil {
		return nil, err
	}

	key := memoryFingerprint(userID, input)
	memory, deduped, err := s.dedup.Do(ctx, key, func(ctx context.Context) (*models.Memory, error) {
		return s.insertOne(ctx, userID, input)
	})
	if err != nil {
		return nil, err
	}
	return &MemoryCreated{Memory: memory, Deduped: deduped}, nil
}

// insertOne persists the image then the row, cleaning up the blob when the
// row write fails.
func (s *MemoryService) insertOne(ctx context.Context, userID string, input *MemoryInput) (*models.Memory, error) {
	image, err := s.persistImage(ctx, userID, input.Image)
	if err != nil {
		return nil, err
	}

	created, err := s.memoryRepo.Insert(ctx, &models.Memory{
		ID:       uuid.New().String(),
		UserID:   userID,
		Title:    input.Title,
		Date:     input.Date,
		Image:    image,
		Rotation: input.Rotation,
	})
	if err != nil {
		s.removeBlobDetached(image)
		return nil, err
	}
	created.Image = s.images.Resolve(ctx, created.Image)
	return created, nil
}

// persistImage uploads a data URL. A storage failure that is not a client
// error falls back to keeping the image inline instead of failing the
// create.
func (s *MemoryService) persistImage(ctx context.Context, userID, image string) (string, error) {
	persisted, err := s.images.Persist(ctx, userID, image)
	if err == nil {
		return persisted, nil
	}
	if httperr.StatusOf(err) > 0 && httperr.StatusOf(err) < http.StatusInternalServerError {
		return "", err
	}
	log.Warn().Err(err).Msg("image upload failed, keeping inline data")
	return image, nil
}

func (s *MemoryService) removeBlobDetached(image string) {
	if !IsStorageRef(image) {
		return
	}
	images := s.images
	fireAndForget("blob-cleanup", func(ctx context.Context) error {
		return images.Remove(ctx, image)
	})
}

// estimateItemBytes approximates one item's serialized footprint. The image
// dominates; field overhead is a flat allowance.
func estimateItemBytes(memory *models.Memory) int {
	return len(memory.Image) + len(memory.Title) + len(memory.Date) + len(memory.Rotation) + 256
}

// planChunks groups items greedily under both the item-count ceiling and the
// soft payload-byte budget. An item that alone exceeds the byte budget still
// gets its own chunk.
func planChunks(items []*models.Memory) [][]*models.Memory {
	var chunks [][]*models.Memory
	var current []*models.Memory
	currentBytes := 0
	for _, item := range items {
		itemBytes := estimateItemBytes(item)
		if len(current) > 0 && (len(current) >= chunkMaxItems || currentBytes+itemBytes > chunkMaxPayloadBytes) {
			chunks = append(chunks, current)
			current = nil
			currentBytes = 0
		}
		current = append(current, item)
		currentBytes += itemBytes
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// insertChunk inserts one chunk, recursively bisecting when the store
// rejects it as too large. Inserted halves are kept even when a later half
// fails.
func (s *MemoryService) insertChunk(ctx context.Context, chunk []*models.Memory) ([]*models.Memory, error) {
	inserted, err := s.memoryRepo.InsertMany(ctx, chunk)
	if err == nil {
		return inserted, nil
	}
	if store.IsPayloadTooLarge(err) && len(chunk) > 1 {
		mid := len(chunk) / 2
		left, leftErr := s.insertChunk(ctx, chunk[:mid])
		if leftErr != nil {
			return left, leftErr
		}
		right, rightErr := s.insertChunk(ctx, chunk[mid:])
		return append(left, right...), rightErr
	}
	return nil, err
}

// CreateBatch validates and persists up to batchMaxItems memories. Images
// upload with bounded concurrency; rows insert in adaptive chunks. A failure
// partway keeps the inserted prefix and cleans up blobs of uninserted items
// only.
func (s *MemoryService) CreateBatch(ctx context.Context, userID string, inputs []*MemoryInput) (*BatchResult, error) {
	if len(inputs) == 0 {
		return nil, httperr.New(http.StatusBadRequest, "at least one memory is required")
	}
	if len(inputs) > batchMaxItems {
		return nil, httperr.Newf(http.StatusBadRequest, "at most %d memories per batch", batchMaxItems)
	}
	for _, input := range inputs {
		if err := validateMemoryInput(input); err != nil {
			return nil, err
		}
	}

	items, err := s.uploadBatchImages(ctx, userID, inputs)
	if err != nil {
		return nil, err
	}

	var inserted []*models.Memory
	for _, chunk := range planChunks(items) {
		chunkInserted, chunkErr := s.insertChunk(ctx, chunk)
		inserted = append(inserted, chunkInserted...)
		if chunkErr != nil {
			// Inserted chunks stay; only the blobs of uninserted items are
			// reclaimed.
			remaining := items[len(inserted):]
			for _, item := range remaining {
				s.removeBlobDetached(item.Image)
			}
			if len(inserted) == 0 {
				return nil, chunkErr
			}
			log.Warn().Err(chunkErr).Int("inserted", len(inserted)).Int("failed", len(remaining)).
				Msg("memory batch partially failed")
			s.resolveBatch(ctx, inserted)
			return &BatchResult{Memories: inserted, Failed: len(remaining)}, nil
		}
	}

	s.resolveBatch(ctx, inserted)
	return &BatchResult{Memories: inserted}, nil
}

func (s *MemoryService) resolveBatch(ctx context.Context, memories []*models.Memory) {
	for _, memory := range memories {
		memory.Image = s.images.Resolve(ctx, memory.Image)
	}
}

// uploadBatchImages persists every item's image with a small worker pool. On
// any failure the already-uploaded blobs are cleaned up and the batch fails
// before a single row is written.
func (s *MemoryService) uploadBatchImages(ctx context.Context, userID string, inputs []*MemoryInput) ([]*models.Memory, error) {
	items := make([]*models.Memory, len(inputs))
	errs := make([]error, len(inputs))
	sem := make(chan struct{}, imageUploadWorkers)
	var wg sync.WaitGroup

	for i, input := range inputs {
		wg.Add(1)
		go func(i int, input *MemoryInput) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			image, err := s.persistImage(ctx, userID, input.Image)
			if err != nil {
				errs[i] = err
				return
			}
			items[i] = &models.Memory{
				ID:       uuid.New().String(),
				UserID:   userID,
				Title:    input.Title,
				Date:     input.Date,
				Image:    image,
				Rotation: input.Rotation,
			}
		}(i, input)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			for _, item := range items {
				if item != nil {
					s.removeBlobDetached(item.Image)
				}
			}
			return nil, err
		}
	}
	return items, nil
}

// normalizePage clamps pagination inputs against the configured ceilings.
func (s *MemoryService) normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = s.limits.PageDefaultLimit
	}
	if limit > s.limits.PageMaxLimit {
		limit = s.limits.PageMaxLimit
	}
	return page, limit
}

func buildPagination(page, limit, total int) *Pagination {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return &Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasMore:    page < totalPages,
	}
}

// List returns the shared view of memories with pagination metadata.
func (s *MemoryService) List(ctx context.Context, userID string, page, limit int) ([]*models.Memory, *Pagination, error) {
	page, limit = s.normalizePage(page, limit)
	ids, authors, err := sharedView(ctx, s.users, userID)
	if err != nil {
		return nil, nil, err
	}
	memories, total, err := s.memoryRepo.ListByUsers(ctx, ids, limit, (page-1)*limit)
	if err != nil {
		return nil, nil, err
	}
	s.resolveImages(ctx, memories, authors)
	return memories, buildPagination(page, limit, total), nil
}

// YearStats aggregates the shared view per calendar year, newest year first.
// The cover is the id of the year's most recent memory.
func (s *MemoryService) YearStats(ctx context.Context, userID string) ([]*YearStat, error) {
	ids, _, err := sharedView(ctx, s.users, userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.memoryRepo.DateRows(ctx, ids)
	if err != nil {
		return nil, err
	}
	return yearStatsFromRows(rows), nil
}

// yearStatsFromRows expects rows sorted date-descending.
func yearStatsFromRows(rows []*models.Memory) []*YearStat {
	var stats []*YearStat
	byYear := make(map[int]*YearStat)
	for _, row := range rows {
		parsed, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			continue
		}
		year := parsed.Year()
		stat, ok := byYear[year]
		if !ok {
			stat = &YearStat{Year: year, Cover: row.ID}
			byYear[year] = stat
			stats = append(stats, stat)
		}
		stat.Count++
	}
	return stats
}

// Update applies a partial edit to an owned memory. A replaced image's old
// blob is removed after the row write succeeds, never before.
func (s *MemoryService) Update(ctx context.Context, id, userID string, title, date, image, rotation *string) (*models.Memory, error) {
	existing, err := s.memoryRepo.GetOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, httperr.New(http.StatusNotFound, "memory not found")
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
	if rotation != nil && !memoryRotations[*rotation] {
		return nil, httperr.New(http.StatusBadRequest, "rotation must be left or right")
	}

	var newImage *string
	if image != nil && *image != "" {
		persisted, err := s.persistImage(ctx, userID, *image)
		if err != nil {
			return nil, err
		}
		newImage = &persisted
	}

	updated, err := s.memoryRepo.Update(ctx, id, userID, title, date, newImage, rotation)
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
		return nil, httperr.New(http.StatusNotFound, "memory not found")
	}

	if newImage != nil && *newImage != existing.Image {
		s.removeBlobDetached(existing.Image)
	}
	updated.Image = s.images.Resolve(ctx, updated.Image)
	return updated, nil
}

// Delete removes an owned memory and then its blob.
func (s *MemoryService) Delete(ctx context.Context, id, userID string) error {
	existing, err := s.memoryRepo.GetOwned(ctx, id, userID)
	if err != nil {
		return err
	}
	if existing == nil {
		return httperr.New(http.StatusNotFound, "memory not found")
	}
	deleted, err := s.memoryRepo.Delete(ctx, id, userID)
	if err != nil {
		return err
	}
	if !deleted {
		return httperr.New(http.StatusNotFound, "memory not found")
	}
	s.removeBlobDetached(existing.Image)
	return nil
}
