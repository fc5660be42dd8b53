package models

import "time"

// Timestamp formats t the way every stored record does.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
