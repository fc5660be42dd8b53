package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/catalyzator-io/catalyzator-sub000/internal/db"
)

// TextFields are the submission fields covered by the admin full-text index.
var TextFields = []string{"formId", "responses"}

// EnsureSchema creates every index and the blob bucket. Small collections go
// first; the submission indexes can take minutes on a large store.
func EnsureSchema(ctx context.Context, src db.Source, bucket string, logger *zap.Logger) error {
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"users", NewUserRepo(src).EnsureIndexes},
		{"entities", NewEntityRepo(src).EnsureIndexes},
		{"sections", NewSectionRepo(src).EnsureIndexes},
		{"route states", NewRouteStateRepo(src).EnsureIndexes},
		{"files", NewFileRepo(src, bucket).EnsureIndexes},
		{"blob bucket", NewFileRepo(src, bucket).EnsureBucket},
		{"submissions", NewSubmissionRepo(src).EnsureIndexes},
		{"submission text index", func(ctx context.Context) error {
			return NewSubmissionRepo(src).EnsureTextIndex(ctx, TextFields)
		}},
	}
	for _, s := range steps {
		start := time.Now()
		if err := s.run(ctx); err != nil {
			return fmt.Errorf("ensure %s: %w", s.name, err)
		}
		logger.Info("schema ready", zap.String("part", s.name), zap.Duration("took", time.Since(start).Round(time.Millisecond)))
	}
	return nil
}
