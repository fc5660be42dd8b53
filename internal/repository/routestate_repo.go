package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/catalyzator-io/catalyzator-sub000/internal/db"
	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
	"github.com/catalyzator-io/catalyzator-sub000/internal/oxidb"
)

const RouteStatesCollection = "gf_route_states"

// RouteStateRepo stores one history document per user, guarded by a revision counter.
type RouteStateRepo struct {
	src db.Source
}

func NewRouteStateRepo(src db.Source) *RouteStateRepo {
	return &RouteStateRepo{src: src}
}

func (r *RouteStateRepo) EnsureIndexes(ctx context.Context) error {
	return r.src.Get().CreateUniqueIndex(ctx, RouteStatesCollection, "userId")
}

// Get returns the user's history; a user without one gets an empty history at revision 0.
func (r *RouteStateRepo) Get(ctx context.Context, userID string) (*models.RouteHistory, error) {
	h, err := findOne[models.RouteHistory](ctx, r.src.Get(), RouteStatesCollection, map[string]any{"userId": userID})
	if errors.Is(err, ErrNotFound) {
		return &models.RouteHistory{UserID: userID, History: []models.RouteState{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read route state of %s: %w", userID, err)
	}
	return h, nil
}

// Save writes h if the stored revision still equals h.Revision, then bumps
// h.Revision. A concurrent writer makes it fail with ErrRevisionConflict.
func (r *RouteStateRepo) Save(ctx context.Context, h *models.RouteHistory) error {
	c := r.src.Get()
	next := h.Revision + 1

	if h.Revision == 0 {
		doc, err := toDoc(models.RouteHistory{UserID: h.UserID, History: h.History, Revision: next})
		if err != nil {
			return err
		}
		if _, err := c.Insert(ctx, RouteStatesCollection, doc); err != nil {
			if oxidb.IsUniqueViolation(err) {
				return ErrRevisionConflict
			}
			return fmt.Errorf("save route state of %s: %w", h.UserID, err)
		}
		h.Revision = next
		return nil
	}

	res, err := c.UpdateOne(ctx, RouteStatesCollection,
		map[string]any{"userId": h.UserID, "revision": h.Revision},
		map[string]any{"$set": map[string]any{"history": h.History, "revision": next}})
	if err != nil {
		return fmt.Errorf("save route state of %s: %w", h.UserID, err)
	}
	if modifiedCount(res) == 0 {
		return ErrRevisionConflict
	}
	h.Revision = next
	return nil
}
