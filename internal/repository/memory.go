package repository

import (
	"context"
	"fmt"
	"strings"

	"gift-journal-backend/internal/models"
	"gift-journal-backend/internal/store"
)

const memoryColumns = `id, user_id, title, to_char(date, 'YYYY-MM-DD'), image, rotation, created_at`

// MemoryRepository handles database operations for memories
type MemoryRepository struct {
	db *store.DB
}

// NewMemoryRepository creates a new memory repository
func NewMemoryRepository(db *store.DB) *MemoryRepository {
	return &MemoryRepository{db: db}
}

func scanMemory(row interface{ Scan(...any) error }) (*models.Memory, error) {
	var memory models.Memory
	err := row.Scan(
		&memory.ID, &memory.UserID, &memory.Title, &memory.Date,
		&memory.Image, &memory.Rotation, &memory.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &memory, nil
}

// Insert creates one memory row and returns it.
func (r *MemoryRepository) Insert(ctx context.Context, memory *models.Memory) (*models.Memory, error) {
	query := fmt.Sprintf(`
		INSERT INTO memories (id, user_id, title, date, image, rotation)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING %s
	`, memoryColumns)
	var created *models.Memory
	err := r.db.Write(ctx, func(ctx context.Context) error {
		row, err := scanMemory(r.db.Pool.QueryRow(ctx, query,
			memory.ID, memory.UserID, memory.Title, memory.Date, memory.Image, memory.Rotation,
		))
		if err != nil {
			return err
		}
		created = row
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory: %w", err)
	}
	return created, nil
}

// InsertMany creates a chunk of memory rows in a single statement and
// returns them in insertion order. Payload-too-large errors pass through
// unwrapped so the chunking layer can bisect.
func (r *MemoryRepository) InsertMany(ctx context.Context, memories []*models.Memory) ([]*models.Memory, error) {
	if len(memories) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(memories)*6)
	sb.WriteString("INSERT INTO memories (id, user_id, title, date, image, rotation) VALUES ")
	for i, memory := range memories {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 6
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args, memory.ID, memory.UserID, memory.Title, memory.Date, memory.Image, memory.Rotation)
	}
	fmt.Fprintf(&sb, " RETURNING %s", memoryColumns)

	var created []*models.Memory
	err := r.db.Write(ctx, func(ctx context.Context) error {
		rows, err := r.db.Pool.Query(ctx, sb.String(), args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		created = created[:0]
		for rows.Next() {
			memory, err := scanMemory(rows)
			if err != nil {
				return err
			}
			created = append(created, memory)
		}
		return rows.Err()
	})
	if err != nil {
		if store.IsPayloadTooLarge(err) || store.IsTransient(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create memories: %w", err)
	}
	return created, nil
}

// ListByUsers retrieves memories visible to the given user set, newest
// first, with the total count. limit <= 0 disables pagination.
func (r *MemoryRepository) ListByUsers(ctx context.Context, userIDs []string, limit, offset int) ([]*models.Memory, int, error) {
	if len(userIDs) == 0 {
		return nil, 0, nil
	}

	countQuery := `SELECT COUNT(*) FROM memories WHERE user_id = ANY($1)`
	var total int
	err := r.db.Read(ctx, func(ctx context.Context) error {
		return r.db.Pool.QueryRow(ctx, countQuery, userIDs).Scan(&total)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count memories: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM memories
		WHERE user_id = ANY($1)
		ORDER BY created_at DESC, id DESC
	`, memoryColumns)
	args := []any{userIDs}
	if limit > 0 {
		query += " LIMIT $2 OFFSET $3"
		args = append(args, limit, offset)
	}

	var memories []*models.Memory
	err = r.db.Read(ctx, func(ctx context.Context) error {
		rows, err := r.db.Pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		memories = memories[:0]
		for rows.Next() {
			memory, err := scanMemory(rows)
			if err != nil {
				return err
			}
			memories = append(memories, memory)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list memories: %w", err)
	}
	return memories, total, nil
}

// DateRows loads only (id, date) for the user set, date-descending, for the
// in-process year statistics aggregate.
func (r *MemoryRepository) DateRows(ctx context.Context, userIDs []string) ([]*models.Memory, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT id, to_char(date, 'YYYY-MM-DD') FROM memories
		WHERE user_id = ANY($1)
		ORDER BY date DESC, id DESC
	`
	var memories []*models.Memory
	err := r.db.Read(ctx, func(ctx context.Context) error {
		rows, err := r.db.Pool.Query(ctx, query, userIDs)
		if err != nil {
			return err
		}
		defer rows.Close()
		memories = memories[:0]
		for rows.Next() {
			var memory models.Memory
			if err := rows.Scan(&memory.ID, &memory.Date); err != nil {
				return err
			}
			memories = append(memories, &memory)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load memory dates: %w", err)
	}
	return memories, nil
}

// GetOwned loads a memory only when it belongs to the caller; nil otherwise.
func (r *MemoryRepository) GetOwned(ctx context.Context, id, userID string) (*models.Memory, error) {
	query := fmt.Sprintf(`SELECT %s FROM memories WHERE id = $1 AND user_id = $2`, memoryColumns)
	var memory *models.Memory
	err := r.db.Read(ctx, func(ctx context.Context) error {
		row, err := scanMemory(r.db.Pool.QueryRow(ctx, query, id, userID))
		if err != nil {
			return err
		}
		memory = row
		return nil
	})
	if err != nil {
		if store.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return memory, nil
}

// Update applies the non-nil fields to an owned memory; nil when the row is
// absent or owned by someone else.
func (r *MemoryRepository) Update(ctx context.Context, id, userID string, title, date, image, rotation *string) (*models.Memory, error) {
	query := fmt.Sprintf(`
		UPDATE memories
		SET title = COALESCE($3, title),
		    date = COALESCE($4::date, date),
		    image = COALESCE($5, image),
		    rotation = COALESCE($6, rotation)
		WHERE id = $1 AND user_id = $2
		RETURNING %s
	`, memoryColumns)
	var updated *models.Memory
	err := r.db.Write(ctx, func(ctx context.Context) error {
		row, err := scanMemory(r.db.Pool.QueryRow(ctx, query, id, userID, title, date, image, rotation))
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
		return nil, fmt.Errorf("failed to update memory: %w", err)
	}
	return updated, nil
}

// Delete removes an owned memory; false when nothing matched.
func (r *MemoryRepository) Delete(ctx context.Context, id, userID string) (bool, error) {
	query := `DELETE FROM memories WHERE id = $1 AND user_id = $2`
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
		return false, fmt.Errorf("failed to delete memory: %w", err)
	}
	return deleted, nil
}
