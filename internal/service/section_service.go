package service

import (
	"context"
	"errors"
	"time"

	"github.com/catalyzator-io/catalyzator-sub000/internal/docpath"
	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
	"github.com/catalyzator-io/catalyzator-sub000/internal/repository"
)

// SectionService reads and writes application sections on behalf of entity members.
type SectionService struct {
	sections *repository.SectionRepo
	entities *EntityService
	now      func() time.Time
}

func NewSectionService(sections *repository.SectionRepo, entities *EntityService) *SectionService {
	return &SectionService{sections: sections, entities: entities, now: time.Now}
}

type SectionView struct {
	*models.SectionData
	Entries []models.SectionEntry `json:"entries"`
}

func (s *SectionService) Get(ctx context.Context, uid, entityID, applicationID, section string) (*SectionView, error) {
	if _, err := s.entities.Get(ctx, uid, entityID); err != nil {
		return nil, err
	}
	data, err := s.sections.GetSectionData(ctx, entityID, applicationID, section)
	if err != nil {
		return nil, inputErr(err)
	}
	entries, err := s.sections.ListEntries(ctx, entityID, applicationID, section)
	if err != nil {
		return nil, err
	}
	return &SectionView{SectionData: data, Entries: entries}, nil
}

// List returns the section documents of an application, ordered by section name.
func (s *SectionService) List(ctx context.Context, uid, entityID, applicationID string) ([]models.SectionData, error) {
	if _, err := s.entities.Get(ctx, uid, entityID); err != nil {
		return nil, err
	}
	out, err := s.sections.ListSections(ctx, entityID, applicationID)
	if err != nil {
		return nil, inputErr(err)
	}
	return out, nil
}

// Put merge-writes data into the section.
func (s *SectionService) Put(ctx context.Context, uid, entityID, applicationID, section string, data map[string]any) (*SectionView, error) {
	if _, err := s.entities.Get(ctx, uid, entityID); err != nil {
		return nil, err
	}
	if err := s.sections.InsertSectionData(ctx, entityID, applicationID, section, data, timestamp(s.now)); err != nil {
		return nil, inputErr(err)
	}
	return s.Get(ctx, uid, entityID, applicationID, section)
}

// PutEntries replaces the entry list of a repeatable section.
func (s *SectionService) PutEntries(ctx context.Context, uid, entityID, applicationID, section string, entries []map[string]any) (*SectionView, error) {
	if _, err := s.entities.Get(ctx, uid, entityID); err != nil {
		return nil, err
	}
	if err := s.sections.InsertMultipleEntries(ctx, entityID, applicationID, section, entries, timestamp(s.now)); err != nil {
		return nil, inputErr(err)
	}
	return s.Get(ctx, uid, entityID, applicationID, section)
}

// inputErr reclassifies path and field-name problems as bad input.
func inputErr(err error) error {
	if errors.Is(err, docpath.ErrInvalidSegment) || errors.Is(err, repository.ErrInvalidField) {
		return invalid("%v", err)
	}
	return err
}
