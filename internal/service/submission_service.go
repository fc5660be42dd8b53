package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/catalyzator-io/catalyzator-sub000/internal/draft"
	"github.com/catalyzator-io/catalyzator-sub000/internal/events"
	"github.com/catalyzator-io/catalyzator-sub000/internal/formreg"
	"github.com/catalyzator-io/catalyzator-sub000/internal/formrun"
	"github.com/catalyzator-io/catalyzator-sub000/internal/metrics"
	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
	"github.com/catalyzator-io/catalyzator-sub000/internal/repository"
	"github.com/catalyzator-io/catalyzator-sub000/internal/validate"
)

// SubmissionService runs form sessions. Every change is written to the local
// draft store first, then to the document store; answers of completed steps
// are also merged into the entity's application sections.
type SubmissionService struct {
	forms    *formreg.Registry
	subs     *repository.SubmissionRepo
	sections *repository.SectionRepo
	entities *repository.EntityRepo
	drafts   *draft.Store
	pub      *Publisher
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewSubmissionService(
	forms *formreg.Registry,
	subs *repository.SubmissionRepo,
	sections *repository.SectionRepo,
	entities *repository.EntityRepo,
	drafts *draft.Store,
	pub *Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *SubmissionService {
	return &SubmissionService{
		forms:    forms,
		subs:     subs,
		sections: sections,
		entities: entities,
		drafts:   drafts,
		pub:      pub,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// SubmissionView is a submission with its derived progress.
type SubmissionView struct {
	*models.FormSubmission
	Ref           string `json:"ref"`
	Progress      int    `json:"progress"`
	CurrentStepID string `json:"currentStepId,omitempty"`
}

func view(sess *formrun.Session) *SubmissionView {
	sub := sess.Submission()
	v := &SubmissionView{
		FormSubmission: sub,
		Ref:            Ref{FormID: sub.FormID, ApplicationID: sub.ApplicationID}.String(),
		Progress:       sess.Progress(),
	}
	if st := sess.CurrentStep(); st != nil {
		v.CurrentStepID = st.ID
	}
	return v
}

// Start resumes the caller's submission for (formID, applicationID) or opens
// a new one. An empty applicationID starts a new application.
func (s *SubmissionService) Start(ctx context.Context, uid, formID, entityID, applicationID string) (*SubmissionView, error) {
	form, ok := s.forms.Get(formID)
	if !ok {
		return nil, ErrFormNotFound
	}
	if entityID != "" {
		e, err := s.entities.FindByID(ctx, entityID)
		if err != nil {
			return nil, err
		}
		if !e.HasMember(uid) {
			return nil, ErrForbidden
		}
	}

	if applicationID == "" {
		applicationID = uuid.NewString()
	} else {
		sess, err := s.load(ctx, uid, Ref{FormID: formID, ApplicationID: applicationID})
		if err == nil {
			return view(sess), nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	if _, err := ParseRef(formID + ":" + applicationID); err != nil {
		return nil, err
	}

	sess := formrun.Start(form, uid, entityID, applicationID, s.clock())
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	if entityID != "" {
		if err := s.entities.AddApplication(ctx, entityID, applicationID, timestamp(s.now)); err != nil {
			s.remoteFailed("record application", sess, err)
			return nil, fmt.Errorf("record application: %w", err)
		}
	}
	s.logger.Info("submission started", zap.String("uid", uid), zap.String("ref", view(sess).Ref))
	return view(sess), nil
}

// UpdateStep merges answers into a step. Invalid answers are kept as a local
// draft and reported as *formrun.ValidationError.
func (s *SubmissionService) UpdateStep(ctx context.Context, uid string, ref Ref, stepID string, answers map[string]any) (*SubmissionView, error) {
	sess, err := s.load(ctx, uid, ref)
	if err != nil {
		return nil, err
	}
	err = sess.UpdateStep(stepID, answers)
	var verr *formrun.ValidationError
	if errors.As(err, &verr) {
		s.metrics.Step(ref.FormID, "invalid")
		if derr := s.drafts.Save(ctx, sess.Submission()); derr != nil {
			s.logger.Warn("save draft failed", zap.String("ref", ref.String()), zap.Error(derr))
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.writeSections(ctx, sess, stepID); err != nil {
		s.remoteFailed("write sections", sess, err)
		return nil, fmt.Errorf("write sections: %w", err)
	}
	s.metrics.Step(ref.FormID, "completed")
	s.pub.publish(ctx, events.New(events.StepCompleted, uid, map[string]any{
		"ref":      ref.String(),
		"stepId":   stepID,
		"progress": sess.Progress(),
	}))
	return view(sess), nil
}

func (s *SubmissionService) SkipStep(ctx context.Context, uid string, ref Ref, stepID string) (*SubmissionView, error) {
	sess, err := s.load(ctx, uid, ref)
	if err != nil {
		return nil, err
	}
	if err := sess.SkipStep(stepID); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	s.metrics.Step(ref.FormID, "skipped")
	s.pub.publish(ctx, events.New(events.StepSkipped, uid, map[string]any{"ref": ref.String(), "stepId": stepID}))
	return view(sess), nil
}

// GoTo moves the step pointer. Moving past the first open step is refused.
func (s *SubmissionService) GoTo(ctx context.Context, uid string, ref Ref, index int) (*SubmissionView, error) {
	sess, err := s.load(ctx, uid, ref)
	if err != nil {
		return nil, err
	}
	if err := sess.GoTo(index); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	return view(sess), nil
}

func (s *SubmissionService) Get(ctx context.Context, uid string, ref Ref) (*SubmissionView, error) {
	sess, err := s.load(ctx, uid, ref)
	if err != nil {
		return nil, err
	}
	return view(sess), nil
}

// StepErrors reports why a step does not validate with its stored answers.
func (s *SubmissionService) StepErrors(ctx context.Context, uid string, ref Ref, stepID string) ([]validate.FieldError, error) {
	sess, err := s.load(ctx, uid, ref)
	if err != nil {
		return nil, err
	}
	return sess.StepErrors(stepID)
}

// Submit finalizes a complete submission and drops its local draft.
func (s *SubmissionService) Submit(ctx context.Context, uid string, ref Ref) (*SubmissionView, error) {
	sess, err := s.load(ctx, uid, ref)
	if err != nil {
		return nil, err
	}
	if err := sess.Finalize(); err != nil {
		return nil, err
	}
	if err := s.saveRemote(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.drafts.Delete(ctx, uid, ref.FormID, ref.ApplicationID); err != nil {
		s.logger.Warn("delete draft failed", zap.String("ref", ref.String()), zap.Error(err))
	}
	s.metrics.Submitted(ref.FormID)
	s.pub.publish(ctx, events.New(events.FormSubmitted, uid, map[string]any{
		"ref":      ref.String(),
		"entityId": sess.Submission().EntityID,
	}))
	s.logger.Info("submission finalized", zap.String("uid", uid), zap.String("ref", ref.String()))
	return view(sess), nil
}

// ListForUser returns the caller's submissions, stored and draft-only,
// most recently updated first.
func (s *SubmissionService) ListForUser(ctx context.Context, uid string) ([]SubmissionView, error) {
	remote, err := s.subs.FindByUser(ctx, uid)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*models.FormSubmission, len(remote))
	for i := range remote {
		sub := &remote[i]
		byKey[draft.Key(sub.UserID, sub.FormID, sub.ApplicationID)] = sub
	}
	local, err := s.drafts.ListByUser(ctx, uid)
	if err != nil {
		s.logger.Warn("list drafts failed", zap.String("uid", uid), zap.Error(err))
	}
	for _, d := range local {
		key := draft.Key(d.UserID, d.FormID, d.ApplicationID)
		if cur, ok := byKey[key]; !ok || d.UpdatedAt > cur.UpdatedAt {
			if ok {
				d.ID = cur.ID
			}
			byKey[key] = d
		}
	}

	out := make([]SubmissionView, 0, len(byKey))
	for _, sub := range byKey {
		form, ok := s.forms.Get(sub.FormID)
		if !ok {
			out = append(out, SubmissionView{FormSubmission: sub, Ref: Ref{sub.FormID, sub.ApplicationID}.String()})
			continue
		}
		sess, err := formrun.NewSession(form, sub, s.clock())
		if err != nil {
			return nil, err
		}
		out = append(out, *view(sess))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].Ref < out[j].Ref
	})
	return out, nil
}

// load restores a session from the newer of the local draft and the stored submission.
func (s *SubmissionService) load(ctx context.Context, uid string, ref Ref) (*formrun.Session, error) {
	form, ok := s.forms.Get(ref.FormID)
	if !ok {
		return nil, ErrFormNotFound
	}
	local, err := s.drafts.Load(ctx, uid, ref.FormID, ref.ApplicationID)
	if err != nil {
		s.logger.Warn("load draft failed", zap.String("ref", ref.String()), zap.Error(err))
		local = nil
	}
	remote, err := s.subs.FindByKey(ctx, uid, ref.FormID, ref.ApplicationID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		remote = nil
	case err != nil:
		s.metrics.StoreError("find_submission")
		if local == nil {
			s.logger.Error("load submission failed", zap.String("ref", ref.String()), zap.Error(err))
			return nil, fmt.Errorf("load submission: %w", err)
		}
		s.logger.Warn("load submission failed, using local draft", zap.String("ref", ref.String()), zap.Error(err))
	}

	sub := remote
	switch {
	case local == nil && remote == nil:
		return nil, fmt.Errorf("submission %s: %w", ref, repository.ErrNotFound)
	case remote == nil:
		sub = local
	case local != nil && remote.Status != models.StatusSubmitted && local.UpdatedAt >= remote.UpdatedAt:
		local.ID = remote.ID
		sub = local
	}
	return formrun.NewSession(form, sub, s.clock())
}

// persist saves the session locally, then remotely. A remote failure keeps the draft.
func (s *SubmissionService) persist(ctx context.Context, sess *formrun.Session) error {
	if err := s.drafts.Save(ctx, sess.Submission()); err != nil {
		s.logger.Error("save draft failed", zap.Error(err))
		return fmt.Errorf("save draft: %w", err)
	}
	return s.saveRemote(ctx, sess)
}

func (s *SubmissionService) saveRemote(ctx context.Context, sess *formrun.Session) error {
	if err := s.subs.Upsert(ctx, sess.Submission()); err != nil {
		s.remoteFailed("save submission", sess, err)
		return fmt.Errorf("save submission: %w", err)
	}
	return nil
}

func (s *SubmissionService) remoteFailed(op string, sess *formrun.Session, err error) {
	sub := sess.Submission()
	s.metrics.StoreError(op)
	s.logger.Error(op+" failed",
		zap.String("uid", sub.UserID),
		zap.String("formId", sub.FormID),
		zap.String("applicationId", sub.ApplicationID),
		zap.Error(err))
}

// writeSections merges the answers of a step into the application's
// section document. Group answers go to their own section as entries.
func (s *SubmissionService) writeSections(ctx context.Context, sess *formrun.Session, stepID string) error {
	sub := sess.Submission()
	if sub.EntityID == "" {
		return nil
	}
	step, _, ok := sess.Form().Step(stepID)
	if !ok {
		return formrun.ErrUnknownStep
	}
	answers := sess.Answers(stepID)
	ts := timestamp(s.now)

	scalars := make(map[string]any, len(answers))
	for i := range step.Questions {
		q := &step.Questions[i]
		v, ok := answers[q.ID]
		if !ok {
			continue
		}
		if q.Type != models.QuestionGroup {
			scalars[q.ID] = v
			continue
		}
		if err := s.sections.InsertMultipleEntries(ctx, sub.EntityID, sub.ApplicationID, q.ID, groupEntries(v), ts); err != nil {
			return err
		}
	}
	if len(scalars) == 0 {
		return nil
	}
	return s.sections.InsertSectionData(ctx, sub.EntityID, sub.ApplicationID, stepID, scalars, ts)
}

func groupEntries(v any) []map[string]any {
	var out []map[string]any
	switch list := v.(type) {
	case []map[string]any:
		return list
	case []any:
		for _, item := range list {
			if m, ok := validate.ToMap(item); ok {
				out = append(out, m)
			}
		}
	}
	if out == nil {
		out = []map[string]any{}
	}
	return out
}

func (s *SubmissionService) clock() formrun.Clock {
	return formrun.Clock(s.now)
}
