package repository

import (
	"context"
	"fmt"

	"github.com/catalyzator-io/catalyzator-sub000/internal/db"
	"github.com/catalyzator-io/catalyzator-sub000/internal/docpath"
	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
	"github.com/catalyzator-io/catalyzator-sub000/internal/oxidb"
)

const EntitiesCollection = "gf_entities"

type EntityRepo struct {
	src db.Source
}

func NewEntityRepo(src db.Source) *EntityRepo {
	return &EntityRepo{src: src}
}

func (r *EntityRepo) EnsureIndexes(ctx context.Context) error {
	c := r.src.Get()
	if err := c.CreateUniqueIndex(ctx, EntitiesCollection, "entityId"); err != nil {
		return err
	}
	if err := c.CreateUniqueIndex(ctx, EntitiesCollection, pathField); err != nil {
		return err
	}
	return c.CreateIndex(ctx, EntitiesCollection, "ownerId")
}

// Create stores a new entity at entities/{entityId}. e.ID must already be set.
func (r *EntityRepo) Create(ctx context.Context, e *models.Entity) error {
	p, err := docpath.Entity(e.ID)
	if err != nil {
		return err
	}
	e.Path = p
	doc, err := toDoc(e)
	if err != nil {
		return err
	}
	if _, err := r.src.Get().Insert(ctx, EntitiesCollection, doc); err != nil {
		return fmt.Errorf("create entity: %w", translate(err))
	}
	return nil
}

func (r *EntityRepo) FindByID(ctx context.Context, entityID string) (*models.Entity, error) {
	e, err := findOne[models.Entity](ctx, r.src.Get(), EntitiesCollection, map[string]any{"entityId": entityID})
	if err != nil {
		return nil, fmt.Errorf("find entity %s: %w", entityID, err)
	}
	return e, nil
}

// FindByIDs returns the entities among ids that exist, ordered by name.
func (r *EntityRepo) FindByIDs(ctx context.Context, ids []string) ([]models.Entity, error) {
	if len(ids) == 0 {
		return []models.Entity{}, nil
	}
	in := make([]any, len(ids))
	for i, id := range ids {
		in[i] = id
	}
	out, err := find[models.Entity](ctx, r.src.Get(), EntitiesCollection,
		map[string]any{"entityId": map[string]any{"$in": in}},
		&oxidb.FindOptions{Sort: map[string]any{"name": 1}})
	if err != nil {
		return nil, fmt.Errorf("find entities: %w", err)
	}
	return out, nil
}

// UpdateProfile merge-writes profile fields; untouched keys keep their values.
func (r *EntityRepo) UpdateProfile(ctx context.Context, entityID string, profile map[string]any, name, updatedAt string) error {
	set, err := setFields("profile", profile)
	if err != nil {
		return err
	}
	if name != "" {
		set["name"] = name
	}
	set["updatedAt"] = updatedAt
	return r.update(ctx, entityID, set)
}

// SetMembers replaces the member list.
func (r *EntityRepo) SetMembers(ctx context.Context, entityID string, members []string, updatedAt string) error {
	return r.update(ctx, entityID, map[string]any{"members": members, "updatedAt": updatedAt})
}

// SetProductAccess writes the access flags of one product.
func (r *EntityRepo) SetProductAccess(ctx context.Context, entityID, productID string, access models.ProductAccess, updatedAt string) error {
	doc, err := toDoc(access)
	if err != nil {
		return err
	}
	set, err := setFields("products", map[string]any{productID: doc})
	if err != nil {
		return err
	}
	set["updatedAt"] = updatedAt
	return r.update(ctx, entityID, set)
}

// AddApplication records an application id on the entity. Adding twice is a no-op.
func (r *EntityRepo) AddApplication(ctx context.Context, entityID, applicationID, updatedAt string) error {
	e, err := r.FindByID(ctx, entityID)
	if err != nil {
		return err
	}
	for _, id := range e.Applications {
		if id == applicationID {
			return nil
		}
	}
	apps := append(e.Applications, applicationID)
	return r.update(ctx, entityID, map[string]any{"applications": apps, "updatedAt": updatedAt})
}

func (r *EntityRepo) Count(ctx context.Context) (int, error) {
	return r.src.Get().Count(ctx, EntitiesCollection, map[string]any{})
}

func (r *EntityRepo) update(ctx context.Context, entityID string, set map[string]any) error {
	if err := updateExisting(ctx, r.src.Get(), EntitiesCollection, map[string]any{"entityId": entityID}, set); err != nil {
		return fmt.Errorf("update entity %s: %w", entityID, err)
	}
	return nil
}
