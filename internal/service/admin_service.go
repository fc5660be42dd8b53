package service

import (
	"context"
	"errors"

	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
	"github.com/catalyzator-io/catalyzator-sub000/internal/repository"
)

// textSearchCap bounds the hits a full-text query contributes to a search.
const textSearchCap = 500

type AdminService struct {
	subs     *repository.SubmissionRepo
	users    *repository.UserRepo
	entities *repository.EntityRepo
	admin    *repository.AdminRepo
	forms    *FormService
}

func NewAdminService(subs *repository.SubmissionRepo, users *repository.UserRepo, entities *repository.EntityRepo, admin *repository.AdminRepo, forms *FormService) *AdminService {
	return &AdminService{subs: subs, users: users, entities: entities, admin: admin, forms: forms}
}

type SearchRequest struct {
	FormID        string                      `json:"formId"`
	UserID        string                      `json:"userId,omitempty"`
	EntityID      string                      `json:"entityId,omitempty"`
	Status        models.SubmissionStatus     `json:"status,omitempty"`
	UpdatedAfter  string                      `json:"updatedAfter,omitempty"`
	UpdatedBefore string                      `json:"updatedBefore,omitempty"`
	Filters       map[string]FilterDescriptor `json:"filters,omitempty"`
	TextQuery     string                      `json:"textQuery,omitempty"`
	Skip          int                         `json:"skip"`
	Limit         int                         `json:"limit"`
}

// FilterDescriptor filters one answer, keyed "stepId.questionId".
// Min and Max form an inclusive range; otherwise Value must match exactly.
type FilterDescriptor struct {
	Value any `json:"value,omitempty"`
	Min   any `json:"min,omitempty"`
	Max   any `json:"max,omitempty"`
}

type SearchResult struct {
	Submissions []models.FormSubmission `json:"submissions"`
	Total       int                     `json:"total"`
	Mode        string                  `json:"mode"`
}

// Search runs a structured query, a full-text query, or both; with both,
// only text hits that also match the filters are returned.
func (s *AdminService) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if req.Skip < 0 || req.Limit < 0 {
		return nil, invalid("skip and limit must not be negative")
	}
	if req.FormID != "" {
		if _, err := s.forms.Get(req.FormID); err != nil {
			return nil, err
		}
	}
	filter := repository.SubmissionFilter{
		FormID:        req.FormID,
		UserID:        req.UserID,
		EntityID:      req.EntityID,
		Status:        req.Status,
		UpdatedAfter:  req.UpdatedAfter,
		UpdatedBefore: req.UpdatedBefore,
		Answers:       answerFilters(req.Filters),
		Skip:          req.Skip,
		Limit:         req.Limit,
	}
	structured := len(filter.Answers) > 0 || req.FormID != "" || req.UserID != "" || req.EntityID != "" ||
		req.Status != "" || req.UpdatedAfter != "" || req.UpdatedBefore != ""

	mode := "all"
	switch {
	case req.TextQuery != "" && !structured:
		mode = "fts"
	case req.TextQuery != "":
		mode = "combined"
	case structured:
		mode = "structured"
	}

	if req.TextQuery != "" {
		hits, err := s.subs.TextSearch(ctx, req.TextQuery, textSearchCap)
		if err != nil {
			return nil, err
		}
		filter.IDs = make([]string, 0, len(hits))
		for _, h := range hits {
			filter.IDs = append(filter.IDs, h.ID)
		}
	}

	subs, total, err := s.subs.Search(ctx, filter)
	if errors.Is(err, repository.ErrInvalidField) {
		return nil, invalid("%v", err)
	}
	if err != nil {
		return nil, err
	}
	return &SearchResult{Submissions: subs, Total: total, Mode: mode}, nil
}

func answerFilters(filters map[string]FilterDescriptor) map[string]any {
	if len(filters) == 0 {
		return nil
	}
	out := make(map[string]any, len(filters))
	for key, f := range filters {
		if f.Min != nil || f.Max != nil {
			rng := map[string]any{}
			if f.Min != nil && f.Min != "" {
				rng["$gte"] = f.Min
			}
			if f.Max != nil && f.Max != "" {
				rng["$lte"] = f.Max
			}
			if len(rng) > 0 {
				out[key] = rng
			}
			continue
		}
		if f.Value != nil && f.Value != "" {
			out[key] = f.Value
		}
	}
	return out
}

func (s *AdminService) Indexes(ctx context.Context) (map[string][]map[string]any, error) {
	return s.admin.ListIndexes(ctx)
}

func (s *AdminService) Compact(ctx context.Context, collection string) (map[string]map[string]any, error) {
	return s.admin.Compact(ctx, collection)
}

type FormStats struct {
	FormID string                          `json:"formId"`
	Title  string                          `json:"title"`
	Counts map[models.SubmissionStatus]int `json:"counts"`
}

type Stats struct {
	Users    int         `json:"users"`
	Entities int         `json:"entities"`
	Forms    []FormStats `json:"forms"`
}

// Stats counts users, entities and the submissions of every registered form by status.
func (s *AdminService) Stats(ctx context.Context) (*Stats, error) {
	users, err := s.users.Count(ctx)
	if err != nil {
		return nil, err
	}
	ents, err := s.entities.Count(ctx)
	if err != nil {
		return nil, err
	}
	out := &Stats{Users: users, Entities: ents}
	for _, f := range s.forms.List() {
		counts, err := s.subs.CountByStatus(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		out.Forms = append(out.Forms, FormStats{FormID: f.ID, Title: f.Title, Counts: counts})
	}
	return out, nil
}
