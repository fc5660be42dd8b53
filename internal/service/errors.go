// Package service implements the use cases behind the HTTP API.
//
// Services log remote failures with zap and return them wrapped; the
// handler layer maps the sentinels below onto status codes.
package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
	"github.com/catalyzator-io/catalyzator-sub000/internal/repository"
)

var (
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTransitionDenied   = errors.New("route transition denied")
	ErrFormNotFound       = fmt.Errorf("form %w", repository.ErrNotFound)
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Ref addresses one submission of the caller as "{formId}:{applicationId}".
type Ref struct {
	FormID        string
	ApplicationID string
}

func ParseRef(s string) (Ref, error) {
	form, app, ok := strings.Cut(s, ":")
	if !ok || form == "" || app == "" || strings.ContainsAny(app, ":/") {
		return Ref{}, invalid("submission ref %q", s)
	}
	return Ref{FormID: form, ApplicationID: app}, nil
}

func (r Ref) String() string {
	return r.FormID + ":" + r.ApplicationID
}

func timestamp(now func() time.Time) string {
	return models.Timestamp(now())
}
