package formrun

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
)

var fixed = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

func threeStepForm() *models.FormConfig {
	return &models.FormConfig{
		ID:    "three",
		Title: "Three steps",
		Steps: []models.StepConfig{
			{ID: "step1", Questions: []models.QuestionConfig{{ID: "intro", Type: models.QuestionText}}},
			{ID: "step2", Questions: []models.QuestionConfig{{ID: "name", Label: "Name", Type: models.QuestionText, Required: true}}},
			{ID: "step3", Skippable: true, Questions: []models.QuestionConfig{{ID: "notes", Type: models.QuestionLongText, Required: true}}},
		},
	}
}

func TestStepTwoScenario(t *testing.T) {
	s := Start(threeStepForm(), "u1", "e1", "app1", fixed)
	require.NoError(t, s.UpdateStep("step1", map[string]any{"intro": "hi"}))
	sub := s.Submission()
	require.Equal(t, 1, sub.CurrentStepIndex)
	require.Equal(t, []string{"step1"}, sub.CompletedSteps)

	err := s.UpdateStep("step2", map[string]any{"name": ""})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "step2", verr.StepID)
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "name", verr.Fields[0].QuestionID)
	assert.Equal(t, []string{"step1"}, sub.CompletedSteps)
	assert.Equal(t, 1, sub.CurrentStepIndex)
	assert.False(t, s.IsStepValid("step2"))

	require.NoError(t, s.UpdateStep("step2", map[string]any{"name": "Ada"}))
	assert.Equal(t, 2, sub.CurrentStepIndex)
	assert.Equal(t, []string{"step1", "step2"}, sub.CompletedSteps)
	assert.True(t, s.IsStepValid("step2"))
	assert.True(t, sub.Responses["step2"].Completed)
}

func TestInvalidAnswersAreKeptAsDraft(t *testing.T) {
	s := Start(threeStepForm(), "u1", "", "app1", fixed)
	var verr *ValidationError
	require.ErrorAs(t, s.UpdateStep("step3", map[string]any{"notes": "  "}), &verr)
	assert.Equal(t, "  ", s.Answers("step3")["notes"])
	assert.False(t, s.Submission().Responses["step3"].Completed)

	errs, err := s.StepErrors("step3")
	require.NoError(t, err)
	assert.Len(t, errs, 1)
}

func TestUpdateMergesAnswers(t *testing.T) {
	form := &models.FormConfig{ID: "f", Steps: []models.StepConfig{{ID: "a", Questions: []models.QuestionConfig{
		{ID: "x", Type: models.QuestionText, Required: true},
		{ID: "y", Type: models.QuestionText, Required: true},
	}}}}
	s := Start(form, "u", "", "app", fixed)
	require.Error(t, s.UpdateStep("a", map[string]any{"x": "1"}))
	require.NoError(t, s.UpdateStep("a", map[string]any{"y": "2"}))
	assert.Equal(t, map[string]any{"x": "1", "y": "2"}, s.Answers("a"))
	assert.True(t, s.IsComplete())
	assert.Equal(t, 0, s.Submission().CurrentStepIndex, "single-step form stays on its last step")
}

func TestEditingEarlierStepKeepsPointer(t *testing.T) {
	s := Start(threeStepForm(), "u", "", "app", fixed)
	require.NoError(t, s.UpdateStep("step1", nil))
	require.NoError(t, s.UpdateStep("step2", map[string]any{"name": "Ada"}))
	require.Equal(t, 2, s.Submission().CurrentStepIndex)

	require.NoError(t, s.UpdateStep("step1", map[string]any{"intro": "changed"}))
	assert.Equal(t, 2, s.Submission().CurrentStepIndex)
	assert.Equal(t, []string{"step1", "step2"}, s.Submission().CompletedSteps)
}

func TestSkipStep(t *testing.T) {
	s := Start(threeStepForm(), "u", "", "app", fixed)
	assert.ErrorIs(t, s.SkipStep("step2"), ErrNotSkippable)
	assert.ErrorIs(t, s.SkipStep("nope"), ErrUnknownStep)

	require.NoError(t, s.UpdateStep("step1", nil))
	require.NoError(t, s.UpdateStep("step2", map[string]any{"name": "Ada"}))
	require.NoError(t, s.SkipStep("step3"))
	assert.Equal(t, []string{"step3"}, s.Submission().SkippedSteps)
	assert.True(t, s.IsComplete())
	assert.True(t, s.Submission().IsComplete)
	assert.Equal(t, 100, s.Progress())

	// Completing a skipped step moves it to the completed set.
	require.NoError(t, s.UpdateStep("step3", map[string]any{"notes": "done after all"}))
	assert.Empty(t, s.Submission().SkippedSteps)
	assert.Equal(t, []string{"step1", "step2", "step3"}, s.Submission().CompletedSteps)
}

func TestGoTo(t *testing.T) {
	s := Start(threeStepForm(), "u", "", "app", fixed)
	assert.ErrorIs(t, s.GoTo(1), ErrStepLocked)
	assert.ErrorIs(t, s.GoTo(3), ErrUnknownStep)
	assert.ErrorIs(t, s.GoTo(-1), ErrUnknownStep)

	require.NoError(t, s.UpdateStep("step1", nil))
	require.NoError(t, s.UpdateStep("step2", map[string]any{"name": "Ada"}))
	require.NoError(t, s.GoTo(0))
	assert.Equal(t, 0, s.Submission().CurrentStepIndex)
	require.NoError(t, s.GoTo(2), "forward up to the first open step")
	assert.Equal(t, "step3", s.CurrentStep().ID)
}

func TestProgress(t *testing.T) {
	steps := []string{"a", "b", "c", "d", "e", "f", "g"}
	form := &models.FormConfig{ID: "p"}
	for _, id := range steps {
		form.Steps = append(form.Steps, models.StepConfig{ID: id, Skippable: true})
	}

	// Every split of the seven steps into completed, skipped and open.
	for mask := 0; mask < 1<<(2*len(steps)); mask++ {
		var completed, skipped []string
		valid := true
		for i, id := range steps {
			switch (mask >> (2 * i)) & 3 {
			case 1:
				completed = append(completed, id)
			case 2:
				skipped = append(skipped, id)
			case 3:
				valid = false
			}
		}
		if !valid {
			continue
		}
		s, err := NewSession(form, &models.FormSubmission{FormID: "p", CompletedSteps: completed, SkippedSteps: skipped}, fixed)
		require.NoError(t, err)
		want := int(float64(len(completed)+len(skipped))/float64(len(steps))*100 + 0.5)
		require.Equal(t, want, s.Progress(), fmt.Sprintf("completed=%v skipped=%v", completed, skipped))
		require.Equal(t, len(completed)+len(skipped) == len(steps), s.IsComplete())
	}
}

func TestProgressEmptyForm(t *testing.T) {
	s := Start(&models.FormConfig{ID: "empty"}, "u", "", "app", fixed)
	assert.Equal(t, 0, s.Progress())
	assert.Nil(t, s.CurrentStep())
}

func TestFinalize(t *testing.T) {
	s := Start(threeStepForm(), "u", "", "app", fixed)
	assert.ErrorIs(t, s.Finalize(), ErrIncomplete)

	require.NoError(t, s.UpdateStep("step1", nil))
	require.NoError(t, s.UpdateStep("step2", map[string]any{"name": "Ada"}))
	require.NoError(t, s.SkipStep("step3"))
	require.NoError(t, s.Finalize())

	sub := s.Submission()
	assert.Equal(t, models.StatusSubmitted, sub.Status)
	assert.Equal(t, "2024-03-01T12:00:00Z", sub.SubmittedAt)

	assert.ErrorIs(t, s.Finalize(), ErrAlreadySubmitted)
	assert.ErrorIs(t, s.UpdateStep("step1", nil), ErrAlreadySubmitted)
	assert.ErrorIs(t, s.GoTo(0), ErrAlreadySubmitted)
}

func TestInvalidEditReopensCompletedStep(t *testing.T) {
	s := Start(threeStepForm(), "u", "", "app", fixed)
	require.NoError(t, s.UpdateStep("step1", nil))
	require.NoError(t, s.UpdateStep("step2", map[string]any{"name": "Ada"}))
	require.NoError(t, s.SkipStep("step3"))
	require.True(t, s.IsComplete())

	var verr *ValidationError
	require.ErrorAs(t, s.UpdateStep("step2", map[string]any{"name": ""}), &verr)
	sub := s.Submission()
	assert.Equal(t, []string{"step1"}, sub.CompletedSteps)
	assert.False(t, sub.Responses["step2"].Completed)
	assert.False(t, sub.IsComplete)
	assert.Equal(t, 67, s.Progress())
	assert.ErrorIs(t, s.Finalize(), ErrIncomplete)
	assert.Equal(t, models.StatusDraft, sub.Status)

	require.NoError(t, s.UpdateStep("step2", map[string]any{"name": "Grace"}))
	require.NoError(t, s.Finalize())
}

func TestFinalizeRevalidatesCompletedSteps(t *testing.T) {
	s, err := NewSession(threeStepForm(), &models.FormSubmission{
		FormID:         "three",
		CompletedSteps: []string{"step1", "step2"},
		SkippedSteps:   []string{"step3"},
		Responses: map[string]*models.FormStepResponse{
			"step2": {StepID: "step2", Answers: map[string]any{"name": ""}, Completed: true},
		},
	}, fixed)
	require.NoError(t, err)
	require.True(t, s.IsComplete())

	assert.ErrorIs(t, s.Finalize(), ErrIncomplete)
	assert.Equal(t, models.StatusDraft, s.Submission().Status)
}

func TestRoundTrip(t *testing.T) {
	form := threeStepForm()
	s := Start(form, "u1", "e1", "app1", fixed)
	require.NoError(t, s.UpdateStep("step1", map[string]any{"intro": "hello"}))
	require.Error(t, s.UpdateStep("step2", map[string]any{"name": ""}))

	data, err := s.Marshal()
	require.NoError(t, err)
	restored, err := Unmarshal(form, data, fixed)
	require.NoError(t, err)

	assert.Equal(t, s.Submission().CurrentStepIndex, restored.Submission().CurrentStepIndex)
	if diff := cmp.Diff(s.Submission().Responses, restored.Submission().Responses); diff != "" {
		t.Fatalf("responses differ after round trip (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(s.Submission(), restored.Submission()); diff != "" {
		t.Fatalf("submission differs after round trip (-want +got):\n%s", diff)
	}

	require.NoError(t, restored.UpdateStep("step2", map[string]any{"name": "Ada"}))
	assert.Equal(t, 2, restored.Submission().CurrentStepIndex)
}

func TestNewSessionFormMismatch(t *testing.T) {
	_, err := NewSession(threeStepForm(), &models.FormSubmission{FormID: "other"}, nil)
	assert.True(t, errors.Is(err, ErrFormMismatch))
}

func TestNewSessionClampsPointer(t *testing.T) {
	s, err := NewSession(threeStepForm(), &models.FormSubmission{FormID: "three", CurrentStepIndex: 9}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Submission().CurrentStepIndex)
	assert.Equal(t, models.StatusDraft, s.Submission().Status)
}
