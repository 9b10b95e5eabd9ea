package services

import (
	"context"
	"net/http"

	"gift-journal-backend/internal/httperr"
	"gift-journal-backend/internal/models"
)

// userLookup is the read-only user access shared content services need.
type userLookup interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetManyByIDs(ctx context.Context, ids []string) (map[string]*models.User, error)
}

// sharedView resolves the caller's visibility set {self, partner} from the
// live partner pointer. There is no persisted sharing table; a disconnect
// narrows every list on the next read.
func sharedView(ctx context.Context, users userLookup, userID string) ([]string, map[string]*models.User, error) {
	self, err := users.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if self == nil {
		return nil, nil, httperr.New(http.StatusUnauthorized, "unauthorized")
	}

	ids := []string{self.ID}
	if self.PartnerID != nil {
		ids = append(ids, *self.PartnerID)
	}
	authors, err := users.GetManyByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	return ids, authors, nil
}
