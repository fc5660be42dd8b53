package repository

import (
	"context"
	"fmt"

	"github.com/catalyzator-io/catalyzator-sub000/internal/db"
)

// Collections lists every collection the service writes.
var Collections = []string{
	UsersCollection,
	EntitiesCollection,
	SectionsCollection,
	EntriesCollection,
	SubmissionsCollection,
	RouteStatesCollection,
	FilesCollection,
}

// AdminRepo exposes store maintenance over the known collections.
type AdminRepo struct {
	src db.Source
}

func NewAdminRepo(src db.Source) *AdminRepo {
	return &AdminRepo{src: src}
}

// ListIndexes returns the indexes of every known collection.
func (r *AdminRepo) ListIndexes(ctx context.Context) (map[string][]map[string]any, error) {
	c := r.src.Get()
	out := make(map[string][]map[string]any, len(Collections))
	for _, coll := range Collections {
		idx, err := c.ListIndexes(ctx, coll)
		if err != nil {
			return nil, fmt.Errorf("list indexes of %s: %w", coll, err)
		}
		out[coll] = idx
	}
	return out, nil
}

// Compact compacts one known collection, or all of them when collection is empty.
func (r *AdminRepo) Compact(ctx context.Context, collection string) (map[string]map[string]any, error) {
	targets := Collections
	if collection != "" {
		if !knownCollection(collection) {
			return nil, fmt.Errorf("%w: unknown collection %q", ErrNotFound, collection)
		}
		targets = []string{collection}
	}
	c := r.src.Get()
	out := make(map[string]map[string]any, len(targets))
	for _, coll := range targets {
		stats, err := c.Compact(ctx, coll)
		if err != nil {
			return nil, fmt.Errorf("compact %s: %w", coll, err)
		}
		out[coll] = stats
	}
	return out, nil
}

func knownCollection(name string) bool {
	for _, c := range Collections {
		if c == name {
			return true
		}
	}
	return false
}
