package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/catalyzator-io/catalyzator-sub000/internal/db"
	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
	"github.com/catalyzator-io/catalyzator-sub000/internal/oxidb"
)

const SubmissionsCollection = "gf_submissions"

// keyField identifies a submission by user, form and application.
const keyField = "_key"

type SubmissionRepo struct {
	src db.Source
}

func NewSubmissionRepo(src db.Source) *SubmissionRepo {
	return &SubmissionRepo{src: src}
}

func (r *SubmissionRepo) EnsureIndexes(ctx context.Context) error {
	c := r.src.Get()
	if err := c.CreateUniqueIndex(ctx, SubmissionsCollection, keyField); err != nil {
		return err
	}
	if err := c.CreateIndex(ctx, SubmissionsCollection, "formId"); err != nil {
		return err
	}
	if err := c.CreateCompositeIndex(ctx, SubmissionsCollection, []string{"userId", "updatedAt"}); err != nil {
		return err
	}
	return c.CreateCompositeIndex(ctx, SubmissionsCollection, []string{"formId", "createdAt"})
}

// EnsureTextIndex enables admin full-text search over the given fields.
func (r *SubmissionRepo) EnsureTextIndex(ctx context.Context, fields []string) error {
	return r.src.Get().CreateTextIndex(ctx, SubmissionsCollection, fields)
}

// SubmissionKey is the natural key of a submission.
func SubmissionKey(userID, formID, applicationID string) string {
	return userID + "/" + formID + "/" + applicationID
}

// Upsert writes the whole submission, keyed by user/form/application, and sets sub.ID.
func (r *SubmissionRepo) Upsert(ctx context.Context, sub *models.FormSubmission) error {
	doc, err := toDoc(sub)
	if err != nil {
		return err
	}
	key := SubmissionKey(sub.UserID, sub.FormID, sub.ApplicationID)
	doc[keyField] = key
	c := r.src.Get()
	query := map[string]any{keyField: key}

	err = updateExisting(ctx, c, SubmissionsCollection, query, doc)
	if err == nil {
		if sub.ID == "" {
			existing, err := findOne[models.FormSubmission](ctx, c, SubmissionsCollection, query)
			if err != nil {
				return fmt.Errorf("upsert submission %s: %w", key, err)
			}
			sub.ID = existing.ID
		}
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("upsert submission %s: %w", key, err)
	}

	res, err := c.Insert(ctx, SubmissionsCollection, doc)
	if err != nil {
		return fmt.Errorf("upsert submission %s: %w", key, translate(err))
	}
	sub.ID = extractID(res)
	return nil
}

func (r *SubmissionRepo) FindByID(ctx context.Context, id string) (*models.FormSubmission, error) {
	s, err := findOne[models.FormSubmission](ctx, r.src.Get(), SubmissionsCollection, map[string]any{"_id": toNumericID(id)})
	if err != nil {
		return nil, fmt.Errorf("find submission %s: %w", id, err)
	}
	return s, nil
}

func (r *SubmissionRepo) FindByKey(ctx context.Context, userID, formID, applicationID string) (*models.FormSubmission, error) {
	key := SubmissionKey(userID, formID, applicationID)
	s, err := findOne[models.FormSubmission](ctx, r.src.Get(), SubmissionsCollection, map[string]any{keyField: key})
	if err != nil {
		return nil, fmt.Errorf("find submission %s: %w", key, err)
	}
	return s, nil
}

// FindByUser returns a user's submissions, most recently updated first.
func (r *SubmissionRepo) FindByUser(ctx context.Context, userID string) ([]models.FormSubmission, error) {
	out, err := find[models.FormSubmission](ctx, r.src.Get(), SubmissionsCollection,
		map[string]any{"userId": userID},
		&oxidb.FindOptions{Sort: map[string]any{"updatedAt": -1}})
	if err != nil {
		return nil, fmt.Errorf("find submissions of %s: %w", userID, err)
	}
	return out, nil
}

// SubmissionFilter selects submissions for admin search. Empty fields match everything.
type SubmissionFilter struct {
	FormID        string
	UserID        string
	EntityID      string
	Status        models.SubmissionStatus
	UpdatedAfter  string
	UpdatedBefore string
	// IDs restricts the search to the given submissions when non-nil.
	IDs []string
	// Answers filters on step answers: "stepId.questionId" -> value.
	Answers map[string]any
	Skip    int
	Limit   int
}

func (f SubmissionFilter) query() (map[string]any, error) {
	var conds []any
	eq := func(field, v string) {
		if v != "" {
			conds = append(conds, map[string]any{field: v})
		}
	}
	eq("formId", f.FormID)
	eq("userId", f.UserID)
	eq("entityId", f.EntityID)
	eq("status", string(f.Status))
	if f.UpdatedAfter != "" {
		conds = append(conds, map[string]any{"updatedAt": map[string]any{"$gte": f.UpdatedAfter}})
	}
	if f.UpdatedBefore != "" {
		conds = append(conds, map[string]any{"updatedAt": map[string]any{"$lte": f.UpdatedBefore}})
	}
	if f.IDs != nil {
		in := make([]any, len(f.IDs))
		for i, id := range f.IDs {
			in[i] = toNumericID(id)
		}
		conds = append(conds, map[string]any{"_id": map[string]any{"$in": in}})
	}
	for k, v := range f.Answers {
		step, question, ok := splitAnswerKey(k)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidField, k)
		}
		conds = append(conds, map[string]any{"responses." + step + ".answers." + question: v})
	}
	switch len(conds) {
	case 0:
		return map[string]any{}, nil
	case 1:
		return conds[0].(map[string]any), nil
	}
	return map[string]any{"$and": conds}, nil
}

func splitAnswerKey(k string) (string, string, bool) {
	step, q, ok := strings.Cut(k, ".")
	if !ok || step == "" || q == "" || strings.Contains(q, ".") ||
		strings.HasPrefix(step, "$") || strings.HasPrefix(q, "$") {
		return "", "", false
	}
	return step, q, true
}

// Search returns one page of matching submissions and the total match count.
func (r *SubmissionRepo) Search(ctx context.Context, f SubmissionFilter) ([]models.FormSubmission, int, error) {
	query, err := f.query()
	if err != nil {
		return nil, 0, err
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	c := r.src.Get()
	total, err := c.Count(ctx, SubmissionsCollection, query)
	if err != nil {
		return nil, 0, fmt.Errorf("count submissions: %w", err)
	}
	out, err := find[models.FormSubmission](ctx, c, SubmissionsCollection, query, &oxidb.FindOptions{
		Sort:  map[string]any{"updatedAt": -1},
		Skip:  &f.Skip,
		Limit: &f.Limit,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("search submissions: %w", err)
	}
	return out, total, nil
}

// TextSearch runs a full-text query over the text-indexed fields.
func (r *SubmissionRepo) TextSearch(ctx context.Context, query string, limit int) ([]models.FormSubmission, error) {
	docs, err := r.src.Get().TextSearch(ctx, SubmissionsCollection, query, limit)
	if err != nil {
		return nil, fmt.Errorf("text search submissions: %w", err)
	}
	return fromDocs[models.FormSubmission](docs)
}

// CountByStatus groups the submissions of a form (all forms when formID is empty) by status.
func (r *SubmissionRepo) CountByStatus(ctx context.Context, formID string) (map[models.SubmissionStatus]int, error) {
	var pipeline []map[string]any
	if formID != "" {
		pipeline = append(pipeline, map[string]any{"$match": map[string]any{"formId": formID}})
	}
	pipeline = append(pipeline, map[string]any{"$group": map[string]any{
		"_id":   "$status",
		"count": map[string]any{"$sum": 1},
	}})
	rows, err := r.src.Get().Aggregate(ctx, SubmissionsCollection, pipeline)
	if err != nil {
		return nil, fmt.Errorf("count submissions by status: %w", err)
	}
	out := map[models.SubmissionStatus]int{}
	for _, row := range rows {
		status, _ := row["_id"].(string)
		n, _ := row["count"].(float64)
		out[models.SubmissionStatus(status)] = int(n)
	}
	return out, nil
}
