package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/forms/{formId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/forms/"+id, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/forms/{formId}", "404")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.requests))
}

func TestRecorders(t *testing.T) {
	m := New()
	m.Upload("application", 10, nil)
	m.Upload("application", 99, errors.New("boom"))
	m.Step("grant_application", "completed")
	m.Submitted("grant_application")
	m.Event("form.submitted", nil)
	m.Transition("form", false)
	m.StoreError("upsert_submission")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("application", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("application", "error")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.uploadBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("form", "denied")))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.Upload("x", 1, nil)
		nilMetrics.Step("f", "completed")
		nilMetrics.Event("e", nil)
		nilMetrics.Transition("home", true)
		nilMetrics.StoreError("op")
		nilMetrics.Submitted("f")
	})
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.Submitted("grant_application")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `grantflow_form_submissions_total{form="grant_application"} 1`)
}
