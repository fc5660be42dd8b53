package oxidb

import (
	"errors"
	"fmt"
	"strings"
)

// Error is returned when the OxiDB server answers with {"ok": false}.
type Error struct {
	Cmd string
	Msg string
}

func (e *Error) Error() string {
	if e.Cmd == "" {
		return fmt.Sprintf("oxidb: %s", e.Msg)
	}
	return fmt.Sprintf("oxidb: %s: %s", e.Cmd, e.Msg)
}

// ErrClosed is returned for requests on a client whose connection failed or was closed.
var ErrClosed = errors.New("oxidb: connection closed")

// IsUniqueViolation reports whether err is a server rejection caused by a unique index.
func IsUniqueViolation(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	msg := strings.ToLower(e.Msg)
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

// IsNotFound reports whether err is a server rejection for a missing object or collection.
func IsNotFound(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return strings.Contains(strings.ToLower(e.Msg), "not found")
}
