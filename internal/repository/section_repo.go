package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/catalyzator-io/catalyzator-sub000/internal/db"
	"github.com/catalyzator-io/catalyzator-sub000/internal/docpath"
	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
	"github.com/catalyzator-io/catalyzator-sub000/internal/oxidb"
)

const (
	SectionsCollection = "gf_sections"
	EntriesCollection  = "gf_section_entries"
)

// SectionRepo stores application sections and their repeatable entries.
// Writes merge field by field; concurrent writers to the same field race
// and the last write wins.
type SectionRepo struct {
	src db.Source
}

func NewSectionRepo(src db.Source) *SectionRepo {
	return &SectionRepo{src: src}
}

func (r *SectionRepo) EnsureIndexes(ctx context.Context) error {
	c := r.src.Get()
	if err := c.CreateUniqueIndex(ctx, SectionsCollection, pathField); err != nil {
		return err
	}
	if err := c.CreateCompositeIndex(ctx, SectionsCollection, []string{"entityId", "applicationId"}); err != nil {
		return err
	}
	if err := c.CreateUniqueIndex(ctx, EntriesCollection, pathField); err != nil {
		return err
	}
	return c.CreateCompositeIndex(ctx, EntriesCollection, []string{"sectionPath", "index"})
}

// InsertSectionData merge-writes data into the section document, creating it when absent.
func (r *SectionRepo) InsertSectionData(ctx context.Context, entityID, applicationID, section string, data map[string]any, updatedAt string) error {
	p, err := docpath.Section(entityID, applicationID, section)
	if err != nil {
		return err
	}
	set, err := setFields("data", data)
	if err != nil {
		return err
	}
	set["updatedAt"] = updatedAt
	fresh := models.SectionData{
		Path:          p,
		EntityID:      entityID,
		ApplicationID: applicationID,
		Section:       section,
		Data:          data,
		UpdatedAt:     updatedAt,
	}
	if err := r.upsert(ctx, SectionsCollection, p, fresh, set); err != nil {
		return fmt.Errorf("write section %s: %w", p, err)
	}
	return nil
}

// InsertMultipleEntries merge-writes entries[i] at .../entries/{i}, drops
// entries past the end of the list and records the count on the section.
func (r *SectionRepo) InsertMultipleEntries(ctx context.Context, entityID, applicationID, section string, entries []map[string]any, updatedAt string) error {
	sectionPath, err := docpath.Section(entityID, applicationID, section)
	if err != nil {
		return err
	}
	for i, entry := range entries {
		p, err := docpath.Entry(entityID, applicationID, section, i)
		if err != nil {
			return err
		}
		set, err := setFields("data", entry)
		if err != nil {
			return err
		}
		set["updatedAt"] = updatedAt
		fresh := models.SectionEntry{
			Path:        p,
			SectionPath: sectionPath,
			Index:       i,
			Data:        entry,
			UpdatedAt:   updatedAt,
		}
		if err := r.upsert(ctx, EntriesCollection, p, fresh, set); err != nil {
			return fmt.Errorf("write entry %s: %w", p, err)
		}
	}

	c := r.src.Get()
	if _, err := c.Delete(ctx, EntriesCollection, map[string]any{
		"sectionPath": sectionPath,
		"index":       map[string]any{"$gte": len(entries)},
	}); err != nil {
		return fmt.Errorf("prune entries of %s: %w", sectionPath, err)
	}

	fresh := models.SectionData{
		Path:          sectionPath,
		EntityID:      entityID,
		ApplicationID: applicationID,
		Section:       section,
		Data:          map[string]any{},
		EntryCount:    len(entries),
		UpdatedAt:     updatedAt,
	}
	set := map[string]any{"entryCount": len(entries), "updatedAt": updatedAt}
	if err := r.upsert(ctx, SectionsCollection, sectionPath, fresh, set); err != nil {
		return fmt.Errorf("write section %s: %w", sectionPath, err)
	}
	return nil
}

func (r *SectionRepo) GetSectionData(ctx context.Context, entityID, applicationID, section string) (*models.SectionData, error) {
	p, err := docpath.Section(entityID, applicationID, section)
	if err != nil {
		return nil, err
	}
	s, err := findOne[models.SectionData](ctx, r.src.Get(), SectionsCollection, map[string]any{pathField: p})
	if err != nil {
		return nil, fmt.Errorf("read section %s: %w", p, err)
	}
	return s, nil
}

// ListEntries returns the entries of a section ordered by index.
func (r *SectionRepo) ListEntries(ctx context.Context, entityID, applicationID, section string) ([]models.SectionEntry, error) {
	p, err := docpath.Section(entityID, applicationID, section)
	if err != nil {
		return nil, err
	}
	out, err := find[models.SectionEntry](ctx, r.src.Get(), EntriesCollection,
		map[string]any{"sectionPath": p},
		&oxidb.FindOptions{Sort: map[string]any{"index": 1}})
	if err != nil {
		return nil, fmt.Errorf("list entries of %s: %w", p, err)
	}
	return out, nil
}

// ListSections returns every section document of an application.
func (r *SectionRepo) ListSections(ctx context.Context, entityID, applicationID string) ([]models.SectionData, error) {
	out, err := find[models.SectionData](ctx, r.src.Get(), SectionsCollection,
		map[string]any{"entityId": entityID, "applicationId": applicationID},
		&oxidb.FindOptions{Sort: map[string]any{"section": 1}})
	if err != nil {
		return nil, fmt.Errorf("list sections of %s/%s: %w", entityID, applicationID, err)
	}
	return out, nil
}

// upsert merge-writes set at path, inserting fresh when no document exists.
// A concurrent insert of the same path surfaces as a unique violation and
// is retried as an update.
func (r *SectionRepo) upsert(ctx context.Context, collection, path string, fresh any, set map[string]any) error {
	c := r.src.Get()
	query := map[string]any{pathField: path}
	err := updateExisting(ctx, c, collection, query, set)
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	doc, err := toDoc(fresh)
	if err != nil {
		return err
	}
	if _, err := c.Insert(ctx, collection, doc); err != nil {
		if oxidb.IsUniqueViolation(err) {
			return updateExisting(ctx, c, collection, query, set)
		}
		return err
	}
	return nil
}
