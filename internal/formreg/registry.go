// Package formreg holds the declarative form definitions served to clients.
package formreg

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
)

//go:embed defaults/*.yaml
var defaultsFS embed.FS

// Registry maps form ids to their configs. Readers always see a complete
// set: loads build a new map and swap it in under the lock.
type Registry struct {
	mu     sync.RWMutex
	forms  map[string]*models.FormConfig
	logger *zap.Logger
}

func New(logger *zap.Logger) *Registry {
	return &Registry{
		forms:  map[string]*models.FormConfig{},
		logger: logger.Named("formreg"),
	}
}

// LoadDefaults registers the built-in forms.
func (r *Registry) LoadDefaults() error {
	forms, err := parseFS(defaultsFS, "defaults/*.yaml")
	if err != nil {
		return err
	}
	r.replace(forms, false)
	return nil
}

// LoadDir registers every YAML form under dir. A form with an existing id replaces it.
func (r *Registry) LoadDir(dir string) error {
	forms, err := parseDir(dir)
	if err != nil {
		return err
	}
	r.replace(forms, false)
	r.logger.Info("forms loaded", zap.String("dir", dir), zap.Int("count", len(forms)))
	return nil
}

// Reload rebuilds the registry from the built-in forms plus dir. On error the
// previous set is kept.
func (r *Registry) Reload(dir string) error {
	forms, err := parseFS(defaultsFS, "defaults/*.yaml")
	if err != nil {
		return err
	}
	extra, err := parseDir(dir)
	if err != nil {
		return err
	}
	forms = append(forms, extra...)
	r.replace(forms, true)
	return nil
}

// Register adds a single validated form.
func (r *Registry) Register(cfg *models.FormConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	r.replace([]*models.FormConfig{cfg}, false)
	return nil
}

func (r *Registry) Get(id string) (*models.FormConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.forms[id]
	return f, ok
}

// List returns every form sorted by id.
func (r *Registry) List() []*models.FormConfig {
	r.mu.RLock()
	out := make([]*models.FormConfig, 0, len(r.forms))
	for _, f := range r.forms {
		out = append(out, f)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) replace(forms []*models.FormConfig, fresh bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make(map[string]*models.FormConfig, len(r.forms)+len(forms))
	if !fresh {
		for id, f := range r.forms {
			next[id] = f
		}
	}
	for _, f := range forms {
		next[f.ID] = f
	}
	r.forms = next
}

func parseFS(fsys fs.FS, pattern string) ([]*models.FormConfig, error) {
	names, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	sort.Strings(names)
	forms := make([]*models.FormConfig, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		cfg, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		forms = append(forms, cfg)
	}
	return forms, nil
}

func parseDir(dir string) ([]*models.FormConfig, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("forms dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("forms dir %s is not a directory", dir)
	}
	forms, err := parseFS(os.DirFS(dir), "**/*.{yaml,yml}")
	if err != nil {
		return nil, fmt.Errorf("forms dir %s: %w", filepath.Clean(dir), err)
	}
	seen := make(map[string]bool, len(forms))
	for _, f := range forms {
		if seen[f.ID] {
			return nil, fmt.Errorf("forms dir %s: form %q defined twice", dir, f.ID)
		}
		seen[f.ID] = true
	}
	return forms, nil
}

// Parse decodes and validates one YAML form definition.
func Parse(data []byte) (*models.FormConfig, error) {
	var cfg models.FormConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse form: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var safeID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validate checks the structure of a form definition and reports every problem found.
func Validate(cfg *models.FormConfig) error {
	var errs []error
	switch {
	case cfg.ID == "":
		errs = append(errs, errors.New("form id is required"))
	case !safeID.MatchString(cfg.ID):
		errs = append(errs, fmt.Errorf("form id %q may only contain letters, digits, '_' and '-'", cfg.ID))
	}
	if len(cfg.Steps) == 0 {
		errs = append(errs, fmt.Errorf("form %q has no steps", cfg.ID))
	}
	steps := make(map[string]bool, len(cfg.Steps))
	for i := range cfg.Steps {
		s := &cfg.Steps[i]
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("form %q: step %d has no id", cfg.ID, i))
			continue
		}
		if steps[s.ID] {
			errs = append(errs, fmt.Errorf("form %q: duplicate step id %q", cfg.ID, s.ID))
		}
		steps[s.ID] = true
		errs = append(errs, validateQuestions(cfg.ID+"/"+s.ID, s.Questions)...)
	}
	errs = append(errs, sectionCollisions(cfg, steps)...)
	return errors.Join(errs...)
}

// sectionCollisions reports group questions whose entry section would share a
// document with a step's answers or with another group.
func sectionCollisions(cfg *models.FormConfig, steps map[string]bool) []error {
	var errs []error
	groups := map[string]string{}
	for _, s := range cfg.Steps {
		for _, q := range s.Questions {
			if q.Type != models.QuestionGroup || q.ID == "" {
				continue
			}
			at := cfg.ID + "/" + s.ID + "/" + q.ID
			if steps[q.ID] {
				errs = append(errs, fmt.Errorf("%s: group id collides with step %q", at, q.ID))
			}
			if prev, ok := groups[q.ID]; ok {
				errs = append(errs, fmt.Errorf("%s: group id already used in step %q", at, prev))
			}
			groups[q.ID] = s.ID
		}
	}
	return errs
}

func validateQuestions(where string, qs []models.QuestionConfig) []error {
	var errs []error
	ids := make(map[string]bool, len(qs))
	for i := range qs {
		q := &qs[i]
		if q.ID == "" {
			errs = append(errs, fmt.Errorf("%s: question %d has no id", where, i))
			continue
		}
		at := where + "/" + q.ID
		if !safeID.MatchString(q.ID) {
			errs = append(errs, fmt.Errorf("%s: question id may only contain letters, digits, '_' and '-'", at))
		}
		if ids[q.ID] {
			errs = append(errs, fmt.Errorf("%s: duplicate question id", at))
		}
		ids[q.ID] = true
		if !q.Type.Known() {
			errs = append(errs, fmt.Errorf("%s: unknown type %q", at, q.Type))
		}
		switch q.Type {
		case models.QuestionChoice:
			if len(q.Options) == 0 {
				errs = append(errs, fmt.Errorf("%s: choice question needs options", at))
			}
		case models.QuestionGroup:
			if len(q.Fields) == 0 {
				errs = append(errs, fmt.Errorf("%s: group question needs fields", at))
			}
			if q.MinEntries < 0 || q.MaxEntries < 0 {
				errs = append(errs, fmt.Errorf("%s: entry bounds must not be negative", at))
			}
			if q.MaxEntries > 0 && q.MinEntries > q.MaxEntries {
				errs = append(errs, fmt.Errorf("%s: min_entries %d exceeds max_entries %d", at, q.MinEntries, q.MaxEntries))
			}
			errs = append(errs, validateQuestions(at, q.Fields)...)
		}
		if p := q.Validation.Pattern; p != "" {
			if _, err := regexp.Compile(p); err != nil {
				errs = append(errs, fmt.Errorf("%s: pattern: %w", at, err))
			}
		}
		c := q.Validation
		if c.MinLength != nil && c.MaxLength != nil && *c.MinLength > *c.MaxLength {
			errs = append(errs, fmt.Errorf("%s: min_length exceeds max_length", at))
		}
		if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
			errs = append(errs, fmt.Errorf("%s: min exceeds max", at))
		}
	}
	return errs
}
