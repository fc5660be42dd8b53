// Package formrun drives a user through the steps of a form.
//
// A Session wraps one FormSubmission and the FormConfig it answers. All
// mutations go through the session so that the step pointer, the
// completed/skipped sets and the completion flag stay consistent.
package formrun

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
	"github.com/catalyzator-io/catalyzator-sub000/internal/validate"
)

var (
	ErrUnknownStep      = errors.New("unknown step")
	ErrNotSkippable     = errors.New("step cannot be skipped")
	ErrAlreadySubmitted = errors.New("submission already submitted")
	ErrIncomplete       = errors.New("submission is incomplete")
	ErrStepLocked       = errors.New("step is not reachable yet")
	ErrFormMismatch     = errors.New("submission belongs to another form")
)

// ValidationError carries the field errors that blocked a step.
type ValidationError struct {
	StepID string
	Fields []validate.FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("step %s: %s", e.StepID, e.Fields[0].Error())
	}
	return fmt.Sprintf("step %s: %d invalid fields", e.StepID, len(e.Fields))
}

// Clock returns the current time; tests pin it.
type Clock func() time.Time

// Session is not safe for concurrent use.
type Session struct {
	form *models.FormConfig
	sub  *models.FormSubmission
	now  Clock
}

// Start opens a fresh draft positioned on the first step.
func Start(form *models.FormConfig, userID, entityID, applicationID string, now Clock) *Session {
	if now == nil {
		now = time.Now
	}
	ts := models.Timestamp(now())
	sub := &models.FormSubmission{
		FormID:         form.ID,
		UserID:         userID,
		EntityID:       entityID,
		ApplicationID:  applicationID,
		Status:         models.StatusDraft,
		Responses:      map[string]*models.FormStepResponse{},
		CompletedSteps: []string{},
		SkippedSteps:   []string{},
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	s := &Session{form: form, sub: sub, now: now}
	s.sub.IsComplete = s.IsComplete()
	return s
}

// NewSession resumes an existing submission.
func NewSession(form *models.FormConfig, sub *models.FormSubmission, now Clock) (*Session, error) {
	if sub.FormID != form.ID {
		return nil, fmt.Errorf("%w: %s is not %s", ErrFormMismatch, sub.FormID, form.ID)
	}
	if now == nil {
		now = time.Now
	}
	if sub.Responses == nil {
		sub.Responses = map[string]*models.FormStepResponse{}
	}
	if sub.CompletedSteps == nil {
		sub.CompletedSteps = []string{}
	}
	if sub.SkippedSteps == nil {
		sub.SkippedSteps = []string{}
	}
	if sub.Status == "" {
		sub.Status = models.StatusDraft
	}
	if n := len(form.Steps); n > 0 && sub.CurrentStepIndex >= n {
		sub.CurrentStepIndex = n - 1
	}
	if sub.CurrentStepIndex < 0 {
		sub.CurrentStepIndex = 0
	}
	return &Session{form: form, sub: sub, now: now}, nil
}

func (s *Session) Form() *models.FormConfig { return s.form }

// Submission returns the submission owned by the session.
func (s *Session) Submission() *models.FormSubmission { return s.sub }

// CurrentStep returns the step under the pointer, or nil for a form without steps.
func (s *Session) CurrentStep() *models.StepConfig {
	if len(s.form.Steps) == 0 {
		return nil
	}
	return &s.form.Steps[s.sub.CurrentStepIndex]
}

// Answers returns the stored answers of a step (nil when none).
func (s *Session) Answers(stepID string) map[string]any {
	if r, ok := s.sub.Responses[stepID]; ok {
		return r.Answers
	}
	return nil
}

// UpdateStep merges answers into the step and completes it when the merged
// answers validate. Invalid answers are kept as a draft and the step pointer
// stays put; a completed step whose answers no longer validate is reopened.
func (s *Session) UpdateStep(stepID string, answers map[string]any) error {
	if err := s.writable(); err != nil {
		return err
	}
	step, idx, ok := s.form.Step(stepID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStep, stepID)
	}

	ts := models.Timestamp(s.now())
	resp, ok := s.sub.Responses[stepID]
	if !ok {
		resp = &models.FormStepResponse{StepID: stepID, Answers: map[string]any{}}
		s.sub.Responses[stepID] = resp
	}
	if resp.Answers == nil {
		resp.Answers = map[string]any{}
	}
	for k, v := range answers {
		resp.Answers[k] = v
	}
	resp.UpdatedAt = ts
	s.sub.UpdatedAt = ts

	if errs := validate.Step(step, resp.Answers); len(errs) > 0 {
		resp.Completed = false
		s.sub.CompletedSteps = remove(s.sub.CompletedSteps, stepID)
		s.sub.IsComplete = s.IsComplete()
		return &ValidationError{StepID: stepID, Fields: errs}
	}

	resp.Completed = true
	s.sub.SkippedSteps = remove(s.sub.SkippedSteps, stepID)
	s.sub.CompletedSteps = add(s.sub.CompletedSteps, stepID)
	s.advanceFrom(idx)
	return nil
}

// SkipStep marks a skippable step as skipped and moves past it.
func (s *Session) SkipStep(stepID string) error {
	if err := s.writable(); err != nil {
		return err
	}
	step, idx, ok := s.form.Step(stepID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStep, stepID)
	}
	if !step.Skippable {
		return fmt.Errorf("%w: %s", ErrNotSkippable, stepID)
	}
	s.sub.CompletedSteps = remove(s.sub.CompletedSteps, stepID)
	s.sub.SkippedSteps = add(s.sub.SkippedSteps, stepID)
	if resp, ok := s.sub.Responses[stepID]; ok {
		resp.Completed = false
	}
	s.sub.UpdatedAt = models.Timestamp(s.now())
	s.advanceFrom(idx)
	return nil
}

// IsStepValid reports whether the stored answers satisfy the step.
func (s *Session) IsStepValid(stepID string) bool {
	step, _, ok := s.form.Step(stepID)
	if !ok {
		return false
	}
	return validate.IsStepValid(step, s.Answers(stepID))
}

// StepErrors returns the field errors of the stored answers.
func (s *Session) StepErrors(stepID string) ([]validate.FieldError, error) {
	step, _, ok := s.form.Step(stepID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, stepID)
	}
	return validate.Step(step, s.Answers(stepID)), nil
}

// GoTo moves the pointer. Any earlier step is reachable; moving forward stops
// at the first step that is neither completed nor skipped.
func (s *Session) GoTo(index int) error {
	if err := s.writable(); err != nil {
		return err
	}
	if index < 0 || index >= len(s.form.Steps) {
		return fmt.Errorf("%w: index %d", ErrUnknownStep, index)
	}
	if index > s.sub.CurrentStepIndex && index > s.frontier() {
		return fmt.Errorf("%w: %s", ErrStepLocked, s.form.Steps[index].ID)
	}
	s.sub.CurrentStepIndex = index
	s.sub.UpdatedAt = models.Timestamp(s.now())
	return nil
}

// Progress is the rounded percentage of steps completed or skipped.
func (s *Session) Progress() int {
	total := len(s.form.Steps)
	if total == 0 {
		return 0
	}
	done := 0
	for _, st := range s.form.Steps {
		if s.isDone(st.ID) {
			done++
		}
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}

// IsComplete reports whether every step is completed or skipped.
func (s *Session) IsComplete() bool {
	for _, st := range s.form.Steps {
		if !s.isDone(st.ID) {
			return false
		}
	}
	return true
}

// Finalize moves a complete draft to submitted. Completed steps are
// validated again so a stored submission cannot carry invalid answers.
func (s *Session) Finalize() error {
	if err := s.writable(); err != nil {
		return err
	}
	if !s.IsComplete() {
		return ErrIncomplete
	}
	for _, id := range s.sub.CompletedSteps {
		if !s.IsStepValid(id) {
			return fmt.Errorf("%w: step %s is invalid", ErrIncomplete, id)
		}
	}
	ts := models.Timestamp(s.now())
	s.sub.Status = models.StatusSubmitted
	s.sub.IsComplete = true
	s.sub.SubmittedAt = ts
	s.sub.UpdatedAt = ts
	return nil
}

// Marshal serializes the submission.
func (s *Session) Marshal() ([]byte, error) {
	return json.Marshal(s.sub)
}

// Unmarshal restores a session from Marshal output.
func Unmarshal(form *models.FormConfig, data []byte, now Clock) (*Session, error) {
	var sub models.FormSubmission
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("decode submission: %w", err)
	}
	return NewSession(form, &sub, now)
}

func (s *Session) writable() error {
	if s.sub.Status == models.StatusSubmitted {
		return ErrAlreadySubmitted
	}
	return nil
}

func (s *Session) isDone(stepID string) bool {
	return slices.Contains(s.sub.CompletedSteps, stepID) || slices.Contains(s.sub.SkippedSteps, stepID)
}

// frontier is the index of the first open step, or the last step when all are done.
func (s *Session) frontier() int {
	for i, st := range s.form.Steps {
		if !s.isDone(st.ID) {
			return i
		}
	}
	return len(s.form.Steps) - 1
}

func (s *Session) advanceFrom(idx int) {
	if idx == s.sub.CurrentStepIndex && idx+1 < len(s.form.Steps) {
		s.sub.CurrentStepIndex = idx + 1
	}
	s.sub.IsComplete = s.IsComplete()
}

func add(list []string, id string) []string {
	if slices.Contains(list, id) {
		return list
	}
	return append(list, id)
}

func remove(list []string, id string) []string {
	out := list[:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
