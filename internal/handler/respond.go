// Package handler exposes the services over JSON HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/catalyzator-io/catalyzator-sub000/internal/auth"
	"github.com/catalyzator-io/catalyzator-sub000/internal/docpath"
	"github.com/catalyzator-io/catalyzator-sub000/internal/formrun"
	"github.com/catalyzator-io/catalyzator-sub000/internal/oxidb"
	"github.com/catalyzator-io/catalyzator-sub000/internal/repository"
	"github.com/catalyzator-io/catalyzator-sub000/internal/routestate"
	"github.com/catalyzator-io/catalyzator-sub000/internal/service"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps a service error onto a status code. Server-side failures are
// logged and answered with a generic message.
func fail(w http.ResponseWriter, logger *zap.Logger, r *http.Request, err error) {
	var verr *formrun.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  verr.Error(),
			"stepId": verr.StepID,
			"fields": verr.Fields,
		})
		return
	}
	if errors.Is(err, service.ErrTransitionDenied) {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":    err.Error(),
			"redirect": routestate.SafeRoute,
		})
		return
	}

	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
		msg := "internal error"
		if status == http.StatusBadGateway {
			msg = "document store unavailable"
		}
		writeError(w, status, msg)
		return
	}
	writeError(w, status, err.Error())
}

func statusOf(err error) int {
	var storeErr *oxidb.Error
	switch {
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, formrun.ErrUnknownStep):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, repository.ErrRevisionConflict),
		errors.Is(err, repository.ErrDuplicate),
		errors.Is(err, formrun.ErrAlreadySubmitted),
		errors.Is(err, formrun.ErrIncomplete):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, formrun.ErrNotSkippable),
		errors.Is(err, formrun.ErrStepLocked),
		errors.Is(err, formrun.ErrFormMismatch),
		errors.Is(err, repository.ErrInvalidField),
		errors.Is(err, docpath.ErrInvalidSegment):
		return http.StatusBadRequest
	case errors.Is(err, oxidb.ErrClosed), errors.As(err, &storeErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// userID returns the uid of the authenticated caller.
func userID(r *http.Request) string {
	if claims := auth.GetUser(r.Context()); claims != nil {
		return claims.UserID
	}
	return ""
}

// param returns a decoded path parameter.
func param(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if s, err := url.PathUnescape(v); err == nil {
		return s
	}
	return v
}
