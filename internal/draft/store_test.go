package draft

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "drafts", "grantflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sample(user, form, app string) *models.FormSubmission {
	return &models.FormSubmission{
		FormID:           form,
		UserID:           user,
		ApplicationID:    app,
		Status:           models.StatusDraft,
		CurrentStepIndex: 1,
		Responses: map[string]*models.FormStepResponse{
			"company": {StepID: "company", Answers: map[string]any{"company_name": "Acme", "stage": "seed"}, Completed: true},
		},
		CompletedSteps: []string{"company"},
		SkippedSteps:   []string{},
	}
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	got, err := s.Load(ctx, "u1", "grant_application", "a1")
	require.NoError(t, err)
	assert.Nil(t, got)

	want := sample("u1", "grant_application", "a1")
	require.NoError(t, s.Save(ctx, want))
	got, err = s.Load(ctx, "u1", "grant_application", "a1")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("draft mismatch (-want +got):\n%s", diff)
	}

	want.CurrentStepIndex = 2
	require.NoError(t, s.Save(ctx, want))
	got, err = s.Load(ctx, "u1", "grant_application", "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentStepIndex)
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Save(ctx, sample("u1", "grant_application", "a1")))
	require.NoError(t, s.Save(ctx, sample("u1", "innovator_onboarding", "a2")))
	require.NoError(t, s.Save(ctx, sample("u2", "grant_application", "a3")))

	list, err := s.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, s.Delete(ctx, "u1", "grant_application", "a1"))
	require.NoError(t, s.Delete(ctx, "u1", "grant_application", "missing"))
	list, err = s.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "innovator_onboarding", list[0].FormID)
}

func TestReopenKeepsDrafts(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "drafts.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, sample("u1", "f", "a")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Load(ctx, "u1", "f", "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Acme", got.Responses["company"].Answers["company_name"])
}

func TestKey(t *testing.T) {
	assert.Equal(t, "u/f/a", Key("u", "f", "a"))
}
