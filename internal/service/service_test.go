package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/catalyzator-io/catalyzator-sub000/internal/auth"
	"github.com/catalyzator-io/catalyzator-sub000/internal/config"
	"github.com/catalyzator-io/catalyzator-sub000/internal/db/dbtest"
	"github.com/catalyzator-io/catalyzator-sub000/internal/draft"
	"github.com/catalyzator-io/catalyzator-sub000/internal/events"
	"github.com/catalyzator-io/catalyzator-sub000/internal/formreg"
	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
	"github.com/catalyzator-io/catalyzator-sub000/internal/repository"
	"github.com/catalyzator-io/catalyzator-sub000/internal/routestate"
)

const testSecret = "test-secret"

// clock advances one second per reading so every write gets a distinct timestamp.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func grantForm() *models.FormConfig {
	return &models.FormConfig{
		ID:    "grant",
		Title: "Grant",
		Steps: []models.StepConfig{
			{ID: "company", Questions: []models.QuestionConfig{
				{ID: "company_name", Label: "Company name", Type: models.QuestionText, Required: true},
				{ID: "website", Type: models.QuestionURL},
			}},
			{ID: "team", Questions: []models.QuestionConfig{
				{ID: "members", Type: models.QuestionGroup, Required: true, MinEntries: 1, Fields: []models.QuestionConfig{
					{ID: "name", Type: models.QuestionText, Required: true},
					{ID: "role", Type: models.QuestionText},
				}},
			}},
			{ID: "extras", Skippable: true, Questions: []models.QuestionConfig{
				{ID: "notes", Type: models.QuestionLongText, Required: true},
			}},
		},
	}
}

type harness struct {
	mem      *dbtest.MemConn
	rec      *events.Recorder
	drafts   *draft.Store
	auth     *AuthService
	users    *UserService
	entities *EntityService
	sections *SectionService
	subs     *SubmissionService
	files    *FileService
	routes   *RouteService
	forms    *FormService
	admin    *AdminService
	dash     *DashboardService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()
	mem := dbtest.New()

	userRepo := repository.NewUserRepo(mem)
	entityRepo := repository.NewEntityRepo(mem)
	sectionRepo := repository.NewSectionRepo(mem)
	subRepo := repository.NewSubmissionRepo(mem)
	routeRepo := repository.NewRouteStateRepo(mem)
	fileRepo := repository.NewFileRepo(mem, "files")
	require.NoError(t, userRepo.EnsureIndexes(ctx))
	require.NoError(t, entityRepo.EnsureIndexes(ctx))
	require.NoError(t, sectionRepo.EnsureIndexes(ctx))
	require.NoError(t, subRepo.EnsureIndexes(ctx))
	require.NoError(t, subRepo.EnsureTextIndex(ctx, []string{"responses.company.answers.company_name"}))
	require.NoError(t, routeRepo.EnsureIndexes(ctx))
	require.NoError(t, fileRepo.EnsureIndexes(ctx))
	require.NoError(t, fileRepo.EnsureBucket(ctx))

	drafts, err := draft.Open(filepath.Join(t.TempDir(), "drafts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { drafts.Close() })

	reg := formreg.New(logger)
	require.NoError(t, reg.Register(grantForm()))

	rec := &events.Recorder{}
	pub := NewPublisher(rec, nil, logger)
	clk := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

	h := &harness{mem: mem, rec: rec, drafts: drafts}
	h.forms = NewFormService(reg)
	h.auth = NewAuthService(userRepo, testSecret, time.Hour, logger)
	h.auth.now = clk.now
	h.users = NewUserService(userRepo)
	h.users.now = clk.now
	h.entities = NewEntityService(entityRepo, userRepo, pub, logger)
	h.entities.now = clk.now
	h.sections = NewSectionService(sectionRepo, h.entities)
	h.sections.now = clk.now
	h.subs = NewSubmissionService(reg, subRepo, sectionRepo, entityRepo, drafts, pub, nil, logger)
	h.subs.now = clk.now
	h.files = NewFileService(fileRepo, userRepo, h.entities, config.StorageConfig{
		Bucket:            "files",
		PublicBaseURL:     "/api/v1/files/",
		MaxUploadBytes:    64,
		UploadConcurrency: 1,
	}, nil, logger)
	h.files.now = clk.now
	h.routes = NewRouteService(routeRepo, routestate.Default, 50, pub, nil, logger)
	h.routes.now = clk.now
	h.admin = NewAdminService(subRepo, userRepo, entityRepo, repository.NewAdminRepo(mem), h.forms)
	h.dash = NewDashboardService(h.auth, h.entities, h.subs, h.routes, h.forms)
	return h
}

func (h *harness) signUp(t *testing.T, email string) string {
	t.Helper()
	res, err := h.auth.Register(context.Background(), email, "password1", "User "+email)
	require.NoError(t, err)
	return res.User.ID
}

func (h *harness) entity(t *testing.T, uid string) *models.Entity {
	t.Helper()
	e, err := h.entities.Create(context.Background(), uid, "Acme", models.EntityInnovator)
	require.NoError(t, err)
	return e
}

func TestRef(t *testing.T) {
	ref, err := ParseRef("grant:app-1")
	require.NoError(t, err)
	assert.Equal(t, Ref{FormID: "grant", ApplicationID: "app-1"}, ref)
	assert.Equal(t, "grant:app-1", ref.String())

	for _, bad := range []string{"", "grant", ":app", "grant:", "grant:a:b", "grant:a/b"} {
		_, err := ParseRef(bad)
		assert.ErrorIs(t, err, ErrInvalidInput, bad)
	}
}

func TestAuthRegisterLogin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res, err := h.auth.Register(ctx, " Ada@Example.com ", "password1", " Ada ")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", res.User.Email)
	assert.Equal(t, "Ada", res.User.DisplayName)
	assert.Equal(t, models.RoleUser, res.User.Role)
	claims, err := auth.ValidateToken(testSecret, res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.UserID)

	_, err = h.auth.Register(ctx, "ada@example.com", "password2", "Ada again")
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	for name, tc := range map[string][3]string{
		"bad email":      {"not-an-email", "password1", "X"},
		"short password": {"b@example.com", "short", "X"},
		"no name":        {"c@example.com", "password1", "  "},
	} {
		_, err := h.auth.Register(ctx, tc[0], tc[1], tc[2])
		assert.ErrorIs(t, err, ErrInvalidInput, name)
	}

	_, err = h.auth.Login(ctx, "ada@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = h.auth.Login(ctx, "nobody@example.com", "password1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	login, err := h.auth.Login(ctx, "ADA@example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, login.User.ID)

	me, err := h.auth.Me(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", me.Email)
	_, err = h.auth.Me(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSeedAdmin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.auth.SeedAdmin(ctx, "admin@example.com", "admin-password"))
	require.NoError(t, h.auth.SeedAdmin(ctx, "admin@example.com", "other-password"))

	res, err := h.auth.Login(ctx, "admin@example.com", "admin-password")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, res.User.Role)
	assert.Len(t, h.mem.Docs(repository.UsersCollection), 1)
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	uid := h.signUp(t, "ada@example.com")

	name, bio := "  Ada L. ", "Mathematician"
	resp, err := h.users.UpdateProfile(ctx, uid, repository.ProfileUpdate{DisplayName: &name, Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", resp.DisplayName)
	assert.Equal(t, "Mathematician", resp.Bio)

	empty := " "
	_, err = h.users.UpdateProfile(ctx, uid, repository.ProfileUpdate{DisplayName: &empty})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEntityMembership(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	owner := h.signUp(t, "owner@example.com")
	other := h.signUp(t, "other@example.com")

	_, err := h.entities.Create(ctx, owner, " ", models.EntityInnovator)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = h.entities.Create(ctx, owner, "Acme", models.EntityType("club"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	e := h.entity(t, owner)
	assert.Equal(t, []string{owner}, e.Members)
	_, err = h.entities.Get(ctx, other, e.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = h.entities.AddMember(ctx, other, e.ID, "other@example.com")
	assert.ErrorIs(t, err, ErrForbidden)

	e, err = h.entities.AddMember(ctx, owner, e.ID, "OTHER@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{owner, other}, e.Members)
	_, err = h.entities.AddMember(ctx, other, e.ID, "owner@example.com")
	assert.ErrorIs(t, err, ErrForbidden, "only the owner adds members")

	list, err := h.entities.ListForUser(ctx, other)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, e.ID, list[0].ID)

	updated, err := h.entities.Update(ctx, other, e.ID, "Acme Labs", map[string]any{"country": "FR"})
	require.NoError(t, err)
	assert.Equal(t, "Acme Labs", updated.Name)
	assert.Equal(t, "FR", updated.Profile["country"])

	assert.Equal(t, []string{events.EntityCreated}, h.rec.Types())
}

func TestJoinWaitlist(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	uid := h.signUp(t, "ada@example.com")
	e := h.entity(t, uid)

	_, err := h.entities.JoinWaitlist(ctx, uid, e.ID, "time_machine")
	assert.ErrorIs(t, err, ErrInvalidInput)

	got, err := h.entities.JoinWaitlist(ctx, uid, e.ID, models.ProductPitchToGrant)
	require.NoError(t, err)
	assert.True(t, got.Products[models.ProductPitchToGrant].Waitlisted)
	_, err = h.entities.JoinWaitlist(ctx, uid, e.ID, models.ProductPitchToGrant)
	require.NoError(t, err)

	stored, err := h.entities.Get(ctx, uid, e.ID)
	require.NoError(t, err)
	assert.True(t, stored.Products[models.ProductPitchToGrant].Waitlisted)
	assert.Equal(t, []string{events.EntityCreated, events.WaitlistJoined}, h.rec.Types())
}

func TestSections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	uid := h.signUp(t, "ada@example.com")
	stranger := h.signUp(t, "eve@example.com")
	e := h.entity(t, uid)

	_, err := h.sections.Put(ctx, stranger, e.ID, "app1", "company", map[string]any{"x": 1})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = h.sections.Put(ctx, uid, e.ID, "app1", "company", map[string]any{"name": "Acme"})
	require.NoError(t, err)
	v, err := h.sections.Put(ctx, uid, e.ID, "app1", "company", map[string]any{"city": "Lyon"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Acme", "city": "Lyon"}, v.Data)

	v, err = h.sections.PutEntries(ctx, uid, e.ID, "app1", "founders", []map[string]any{{"name": "Ada"}, {"name": "Grace"}})
	require.NoError(t, err)
	assert.Len(t, v.Entries, 2)

	list, err := h.sections.List(ctx, uid, e.ID, "app1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "company", list[0].Section)
	assert.Equal(t, 2, list[1].EntryCount)
	_, err = h.sections.List(ctx, stranger, e.ID, "app1")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = h.sections.Put(ctx, uid, e.ID, "app/1", "company", map[string]any{"x": 1})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = h.sections.Put(ctx, uid, e.ID, "app1", "company", map[string]any{"a.b": 1})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = h.sections.Get(ctx, uid, e.ID, "app1", "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRouteTransitions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	uid := h.signUp(t, "ada@example.com")

	ok, err := h.routes.CanTransitionTo(ctx, uid, routestate.Home)
	require.NoError(t, err)
	assert.True(t, ok, "first state is free")

	_, err = h.routes.TransitionTo(ctx, uid, "nowhere", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	for _, s := range []routestate.State{routestate.Onboarding, routestate.Home, routestate.Waitlist} {
		_, err := h.routes.TransitionTo(ctx, uid, s, map[string]any{"from": "test"})
		require.NoError(t, err, s)
	}
	_, err = h.routes.TransitionTo(ctx, uid, routestate.Form, nil)
	assert.ErrorIs(t, err, ErrTransitionDenied)
	ok, err = h.routes.CanTransitionTo(ctx, uid, routestate.Form)
	require.NoError(t, err)
	assert.False(t, ok)

	hist, err := h.routes.History(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, 3, hist.Revision)
	require.Len(t, hist.History, 3)
	assert.Equal(t, string(routestate.Waitlist), hist.Current().Name)
	assert.Equal(t, "test", hist.Current().Metadata["from"])
}

func TestRouteHistoryIsPruned(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.routes.historyLimit = 3
	uid := h.signUp(t, "ada@example.com")

	targets := []routestate.State{routestate.Home, routestate.Profile, routestate.Home, routestate.Profile, routestate.Waitlist}
	for _, s := range targets {
		_, err := h.routes.TransitionTo(ctx, uid, s, nil)
		require.NoError(t, err)
	}
	hist, err := h.routes.History(ctx, uid)
	require.NoError(t, err)
	require.Len(t, hist.History, 3)
	assert.Equal(t, []string{"home", "profile", "waitlist"},
		[]string{hist.History[0].Name, hist.History[1].Name, hist.History[2].Name})
	assert.Equal(t, len(targets), hist.Revision)
}

func TestConcurrentTransitionsAllLand(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	uid := h.signUp(t, "ada@example.com")
	_, err := h.routes.TransitionTo(ctx, uid, routestate.Onboarding, nil)
	require.NoError(t, err)

	const n = transitionAttempts
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.routes.TransitionTo(ctx, uid, routestate.Home, nil)
		}()
	}
	wg.Wait()
	require.NoError(t, errors.Join(errs...))

	hist, err := h.routes.History(ctx, uid)
	require.NoError(t, err)
	assert.Len(t, hist.History, n+1)
	assert.Equal(t, n+1, hist.Revision)
}

func TestDashboard(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	uid := h.signUp(t, "ada@example.com")
	e := h.entity(t, uid)
	_, err := h.subs.Start(ctx, uid, "grant", e.ID, "")
	require.NoError(t, err)
	_, err = h.routes.TransitionTo(ctx, uid, routestate.Home, nil)
	require.NoError(t, err)

	d, err := h.dash.Get(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, uid, d.User.ID)
	assert.Len(t, d.Entities, 1)
	assert.Len(t, d.Submissions, 1)
	assert.Equal(t, DashboardStats{Drafts: 1}, d.Stats)
	require.Len(t, d.Forms, 1)
	assert.Equal(t, 3, d.Forms[0].StepCount)
	require.NotNil(t, d.RouteState)
	assert.Equal(t, "home", d.RouteState.Name)
}

func TestAdminSearch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	for _, c := range []struct{ email, company string }{
		{"ada@example.com", "Acme"},
		{"grace@example.com", "Globex"},
	} {
		uid := h.signUp(t, c.email)
		v, err := h.subs.Start(ctx, uid, "grant", h.entity(t, uid).ID, "")
		require.NoError(t, err)
		ref, err := ParseRef(v.Ref)
		require.NoError(t, err)
		_, err = h.subs.UpdateStep(ctx, uid, ref, "company", map[string]any{"company_name": c.company})
		require.NoError(t, err)
	}

	res, err := h.admin.Search(ctx, SearchRequest{FormID: "grant"})
	require.NoError(t, err)
	assert.Equal(t, "structured", res.Mode)
	assert.Equal(t, 2, res.Total)

	res, err = h.admin.Search(ctx, SearchRequest{Filters: map[string]FilterDescriptor{
		"company.company_name": {Value: "Acme"},
	}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	assert.Equal(t, "Acme", res.Submissions[0].Responses["company"].Answers["company_name"])

	res, err = h.admin.Search(ctx, SearchRequest{Filters: map[string]FilterDescriptor{
		"company.company_name": {Min: "B", Max: "H"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)

	res, err = h.admin.Search(ctx, SearchRequest{TextQuery: "globex"})
	require.NoError(t, err)
	assert.Equal(t, "fts", res.Mode)
	assert.Equal(t, 1, res.Total)

	res, err = h.admin.Search(ctx, SearchRequest{TextQuery: "globex", Status: models.StatusSubmitted})
	require.NoError(t, err)
	assert.Equal(t, "combined", res.Mode)
	assert.Equal(t, 0, res.Total)

	res, err = h.admin.Search(ctx, SearchRequest{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, "all", res.Mode)
	assert.Equal(t, 2, res.Total)
	assert.Len(t, res.Submissions, 1)

	_, err = h.admin.Search(ctx, SearchRequest{Filters: map[string]FilterDescriptor{"nodot": {Value: 1}}})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = h.admin.Search(ctx, SearchRequest{FormID: "missing"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = h.admin.Search(ctx, SearchRequest{Skip: -1})
	assert.ErrorIs(t, err, ErrInvalidInput)

	stats, err := h.admin.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Users)
	assert.Equal(t, 2, stats.Entities)
	require.Len(t, stats.Forms, 1)
	assert.Equal(t, 2, stats.Forms[0].Counts[models.StatusDraft])

	idx, err := h.admin.Indexes(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, idx[repository.SubmissionsCollection])
	_, err = h.admin.Compact(ctx, "nope")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
