package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/catalyzator-io/catalyzator-sub000/internal/config"
	"github.com/catalyzator-io/catalyzator-sub000/internal/db/dbtest"
	"github.com/catalyzator-io/catalyzator-sub000/internal/draft"
	"github.com/catalyzator-io/catalyzator-sub000/internal/events"
	"github.com/catalyzator-io/catalyzator-sub000/internal/formreg"
	"github.com/catalyzator-io/catalyzator-sub000/internal/handler"
	"github.com/catalyzator-io/catalyzator-sub000/internal/metrics"
	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
	"github.com/catalyzator-io/catalyzator-sub000/internal/repository"
	"github.com/catalyzator-io/catalyzator-sub000/internal/routestate"
	"github.com/catalyzator-io/catalyzator-sub000/internal/service"
)

const testSecret = "router-test-secret"

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type api struct {
	t   *testing.T
	srv http.Handler
	mem *dbtest.MemConn
}

func newAPI(t *testing.T, health error) *api {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()
	mem := dbtest.New()
	require.NoError(t, repository.EnsureSchema(ctx, mem, "files", logger))

	drafts, err := draft.Open(filepath.Join(t.TempDir(), "drafts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { drafts.Close() })

	forms := formreg.New(logger)
	require.NoError(t, forms.Register(&models.FormConfig{
		ID:    "grant",
		Title: "Grant",
		Steps: []models.StepConfig{
			{ID: "company", Questions: []models.QuestionConfig{
				{ID: "company_name", Label: "Company name", Type: models.QuestionText, Required: true},
			}},
		},
	}))

	m := metrics.New()
	storage := config.StorageConfig{
		Bucket:            "files",
		PublicBaseURL:     "/api/v1/files",
		MaxUploadBytes:    1024,
		UploadConcurrency: 2,
	}
	userRepo := repository.NewUserRepo(mem)
	entityRepo := repository.NewEntityRepo(mem)
	subRepo := repository.NewSubmissionRepo(mem)
	sectionRepo := repository.NewSectionRepo(mem)

	pub := service.NewPublisher(events.Nop{}, m, logger)
	authSvc := service.NewAuthService(userRepo, testSecret, time.Hour, logger)
	require.NoError(t, authSvc.SeedAdmin(ctx, "admin@example.com", "adminpass1"))
	formSvc := service.NewFormService(forms)
	entitySvc := service.NewEntityService(entityRepo, userRepo, pub, logger)
	fileSvc := service.NewFileService(repository.NewFileRepo(mem, "files"), userRepo, entitySvc, storage, m, logger)
	subSvc := service.NewSubmissionService(forms, subRepo, sectionRepo, entityRepo, drafts, pub, m, logger)
	routeSvc := service.NewRouteService(repository.NewRouteStateRepo(mem), routestate.Default, 10, pub, m, logger)

	r := New(Options{JWTSecret: testSecret, AllowedOrigins: []string{"*"}, Metrics: m, Logger: logger}, Handlers{
		Auth:       handler.NewAuthHandler(authSvc, logger),
		Forms:      handler.NewFormHandler(formSvc, logger),
		Submission: handler.NewSubmissionHandler(subSvc, logger),
		Entity:     handler.NewEntityHandler(entitySvc, logger),
		Section:    handler.NewSectionHandler(service.NewSectionService(sectionRepo, entitySvc), fileSvc, storage.MaxUploadBytes, logger),
		Profile:    handler.NewProfileHandler(service.NewUserService(userRepo), fileSvc, storage.MaxUploadBytes, logger),
		Route:      handler.NewRouteHandler(routeSvc, logger),
		Dashboard:  handler.NewDashboardHandler(service.NewDashboardService(authSvc, entitySvc, subSvc, routeSvc, formSvc), logger),
		Admin:      handler.NewAdminHandler(service.NewAdminService(subRepo, userRepo, entityRepo, repository.NewAdminRepo(mem), formSvc), logger),
		Files:      handler.NewFileHandler(fileSvc, logger),
		Health:     handler.NewHealthHandler(pinger{err: health}, logger),
	})
	return &api{t: t, srv: r, mem: mem}
}

func (a *api) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.send(req, token)
}

func (a *api) send(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (a *api) register(email string) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": email, "password": "password1", "displayName": "Ada",
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(a.t, rec)["token"].(string)
}

func TestAuthFlow(t *testing.T) {
	a := newAPI(t, nil)
	token := a.register("ada@example.com")

	rec := a.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "ada@example.com", "password": "password1", "displayName": "Ada",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "ada@example.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = a.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "ada@example.com", "password": "password1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ada@example.com", decode(t, rec)["email"])

	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/v1/auth/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/v1/auth/me", "not-a-token", nil).Code)
}

func TestAdminRoutesRequireRole(t *testing.T) {
	a := newAPI(t, nil)
	user := a.register("ada@example.com")
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, "/api/v1/admin/stats", user, nil).Code)

	rec := a.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "admin@example.com", "password": "adminpass1"})
	require.Equal(t, http.StatusOK, rec.Code)
	admin := decode(t, rec)["token"].(string)

	rec = a.do(http.MethodGet, "/api/v1/admin/stats", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["users"])

	rec = a.do(http.MethodPost, "/api/v1/admin/search", admin, map[string]any{"formId": "grant"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "structured", decode(t, rec)["mode"])
	rec = a.do(http.MethodPost, "/api/v1/admin/search", admin, map[string]any{"formId": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = a.do(http.MethodPost, "/api/v1/admin/compact?collection=missing", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmissionOverHTTP(t *testing.T) {
	a := newAPI(t, nil)
	token := a.register("ada@example.com")

	rec := a.do(http.MethodPost, "/api/v1/submissions", token, map[string]string{"formId": "grant"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ref := decode(t, rec)["ref"].(string)
	require.True(t, strings.HasPrefix(ref, "grant:"))
	base := "/api/v1/submissions/" + ref

	rec = a.do(http.MethodPut, base+"/steps/company", token, map[string]any{"answers": map[string]any{"company_name": ""}})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "company", body["stepId"])
	fields := body["fields"].([]any)
	require.Len(t, fields, 1)
	assert.Equal(t, "company_name", fields[0].(map[string]any)["questionId"])

	rec = a.do(http.MethodPost, base+"/submit", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodPut, base+"/steps/company", token, map[string]any{"answers": map[string]any{"company_name": "Acme"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["isComplete"])

	rec = a.do(http.MethodPost, base+"/submit", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "submitted", decode(t, rec)["status"])

	rec = a.do(http.MethodGet, "/api/v1/submissions", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["total"])

	other := a.register("eve@example.com")
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, base, other, nil).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/api/v1/submissions/no-colon", token, nil).Code)
}

func TestRouteTransitionDenied(t *testing.T) {
	a := newAPI(t, nil)
	token := a.register("ada@example.com")

	rec := a.do(http.MethodGet, "/api/v1/route-state", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, routestate.SafeRoute, decode(t, rec)["route"])

	rec = a.do(http.MethodPost, "/api/v1/route-state/transition", token, map[string]string{"path": "/onboarding"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "/onboarding", decode(t, rec)["route"])

	rec = a.do(http.MethodPost, "/api/v1/route-state/transition", token, map[string]string{"path": "/form/grant"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, routestate.SafeRoute, decode(t, rec)["redirect"])

	rec = a.do(http.MethodPost, "/api/v1/route-state/transition", token, map[string]string{"path": "/nowhere"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodGet, "/api/v1/route-state/can/home", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["allowed"])
}

func TestUploadAndDownload(t *testing.T) {
	a := newAPI(t, nil)
	token := a.register("ada@example.com")

	rec := a.do(http.MethodPost, "/api/v1/entities", token, map[string]string{"name": "Acme", "type": "innovator"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	entityID := decode(t, rec)["entityId"].(string)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range map[string]string{"deck.txt": "pitch deck", "plan.txt": "business plan"} {
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	path := "/api/v1/entities/" + entityID + "/applications/app1/sections/pitch/files"
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = a.send(req, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	files := decode(t, rec)["files"].([]any)
	require.Len(t, files, 2)

	var deckURL string
	for _, f := range files {
		ref := f.(map[string]any)
		if ref["name"] == "deck.txt" {
			deckURL = ref["url"].(string)
		}
	}
	require.NotEmpty(t, deckURL)

	rec = a.do(http.MethodGet, deckURL, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pitch deck", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))

	stranger := a.register("eve@example.com")
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, deckURL, stranger, nil).Code)

	rec = a.do(http.MethodGet, "/api/v1/entities/"+entityID+"/applications/app1/files", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	empty := httptest.NewRequest(http.MethodPost, path, strings.NewReader("not multipart"))
	empty.Header.Set("Content-Type", "text/plain")
	assert.Equal(t, http.StatusBadRequest, a.send(empty, token).Code)
}

func TestListSections(t *testing.T) {
	a := newAPI(t, nil)
	token := a.register("ada@example.com")

	rec := a.do(http.MethodPost, "/api/v1/entities", token, map[string]string{"name": "Acme", "type": "innovator"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	base := "/api/v1/entities/" + decode(t, rec)["entityId"].(string) + "/applications/app1/sections"

	for _, name := range []string{"team", "company"} {
		rec = a.do(http.MethodPut, base+"/"+name, token, map[string]any{"data": map[string]any{"note": name}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = a.do(http.MethodGet, base, token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sections := decode(t, rec)["sections"].([]any)
	require.Len(t, sections, 2)
	assert.Equal(t, "company", sections[0].(map[string]any)["section"])
	assert.Equal(t, "team", sections[1].(map[string]any)["section"])

	stranger := a.register("eve@example.com")
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, base, stranger, nil).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	a := newAPI(t, nil)
	rec := a.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")

	down := newAPI(t, errors.New("connection refused"))
	assert.Equal(t, http.StatusServiceUnavailable, down.do(http.MethodGet, "/healthz", "", nil).Code)
}
