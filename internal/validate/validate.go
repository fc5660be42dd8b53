// Package validate checks step answers against question constraints.
//
// Validation accumulates every problem of a step instead of stopping at the
// first one, so callers can surface all field errors at once.
package validate

import (
	"encoding/json"
	"fmt"
	"math"
	"mime"
	"net/mail"
	"net/url"
	"path/filepath"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
)

// FieldError is one failed check. Path addresses nested group entries
// ("team[1].name"); for top-level questions it equals QuestionID.
type FieldError struct {
	QuestionID string `json:"questionId"`
	Path       string `json:"path"`
	Message    string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Path + ": " + e.Message
}

// DateLayout is the calendar date format of date answers.
const DateLayout = "2006-01-02"

// Step validates every question of step against answers.
func Step(step *models.StepConfig, answers map[string]any) []FieldError {
	var errs []FieldError
	for i := range step.Questions {
		q := &step.Questions[i]
		errs = append(errs, question(q, answers[q.ID], q.ID)...)
	}
	return errs
}

// IsStepValid reports whether the step has no validation errors.
func IsStepValid(step *models.StepConfig, answers map[string]any) bool {
	return len(Step(step, answers)) == 0
}

// Question validates a single answer.
func Question(q *models.QuestionConfig, value any) []FieldError {
	return question(q, value, q.ID)
}

func question(q *models.QuestionConfig, value any, path string) []FieldError {
	if IsEmpty(value) {
		if q.Required {
			return []FieldError{{QuestionID: q.ID, Path: path, Message: fmt.Sprintf("%s is required", q.DisplayName())}}
		}
		return nil
	}

	v := &checker{q: q, path: path}
	switch q.Type {
	case models.QuestionText, models.QuestionLongText:
		v.text(value)
	case models.QuestionEmail:
		if s, ok := v.str(value); ok {
			if _, err := mail.ParseAddress(s); err != nil || strings.ContainsAny(s, "<> ") {
				v.fail(fmt.Sprintf("%s must be a valid email address", q.DisplayName()))
			}
		}
	case models.QuestionURL:
		if s, ok := v.str(value); ok {
			u, err := url.Parse(strings.TrimSpace(s))
			if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
				v.fail(fmt.Sprintf("%s must be an http(s) URL", q.DisplayName()))
			}
		}
	case models.QuestionNumber:
		v.number(value)
	case models.QuestionDate:
		v.date(value)
	case models.QuestionBoolean:
		if _, ok := value.(bool); !ok {
			v.fail(fmt.Sprintf("%s must be true or false", q.DisplayName()))
		}
	case models.QuestionChoice:
		v.choice(value)
	case models.QuestionFile:
		v.file(value)
	case models.QuestionGroup:
		v.group(value)
	default:
		v.fail(fmt.Sprintf("%s has unsupported type %q", q.DisplayName(), q.Type))
	}
	return v.errs
}

// IsEmpty reports whether value counts as "not answered". false and 0 are answers.
func IsEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case models.FileRef:
		return v.Name == "" && v.Key == "" && v.URL == ""
	case *models.FileRef:
		return v == nil || (v.Name == "" && v.Key == "" && v.URL == "")
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

type checker struct {
	q    *models.QuestionConfig
	path string
	errs []FieldError
}

func (c *checker) fail(msg string) {
	c.errs = append(c.errs, FieldError{QuestionID: c.q.ID, Path: c.path, Message: msg})
}

// violate reports a constraint failure, preferring the configured message.
func (c *checker) violate(msg string) {
	if c.q.Validation.Message != "" {
		msg = c.q.Validation.Message
	}
	c.fail(msg)
}

func (c *checker) str(value any) (string, bool) {
	s, ok := value.(string)
	if !ok {
		c.fail(fmt.Sprintf("%s must be text", c.q.DisplayName()))
	}
	return s, ok
}

func (c *checker) text(value any) {
	s, ok := c.str(value)
	if !ok {
		return
	}
	cons := c.q.Validation
	n := utf8.RuneCountInString(strings.TrimSpace(s))
	if cons.MinLength != nil && n < *cons.MinLength {
		c.violate(fmt.Sprintf("%s must be at least %d characters", c.q.DisplayName(), *cons.MinLength))
	}
	if cons.MaxLength != nil && n > *cons.MaxLength {
		c.violate(fmt.Sprintf("%s must be at most %d characters", c.q.DisplayName(), *cons.MaxLength))
	}
	if cons.Pattern != "" {
		re, err := compile(cons.Pattern)
		if err != nil {
			c.fail(fmt.Sprintf("%s has an invalid pattern", c.q.DisplayName()))
			return
		}
		if !re.MatchString(s) {
			c.violate(fmt.Sprintf("%s has an invalid format", c.q.DisplayName()))
		}
	}
}

func (c *checker) number(value any) {
	n, ok := ToFloat(value)
	if !ok {
		c.fail(fmt.Sprintf("%s must be a number", c.q.DisplayName()))
		return
	}
	cons := c.q.Validation
	if cons.Min != nil && n < *cons.Min {
		c.violate(fmt.Sprintf("%s must be at least %s", c.q.DisplayName(), formatNumber(*cons.Min)))
	}
	if cons.Max != nil && n > *cons.Max {
		c.violate(fmt.Sprintf("%s must be at most %s", c.q.DisplayName(), formatNumber(*cons.Max)))
	}
}

func (c *checker) date(value any) {
	s, ok := value.(string)
	var d time.Time
	if ok {
		d, ok = ParseDate(s)
	}
	if !ok {
		c.fail(fmt.Sprintf("%s must be a date (YYYY-MM-DD)", c.q.DisplayName()))
		return
	}
	cons := c.q.Validation
	if minD, ok := ParseDate(cons.MinDate); ok && d.Before(minD) {
		c.violate(fmt.Sprintf("%s must be on or after %s", c.q.DisplayName(), cons.MinDate))
	}
	if maxD, ok := ParseDate(cons.MaxDate); ok && d.After(maxD) {
		c.violate(fmt.Sprintf("%s must be on or before %s", c.q.DisplayName(), cons.MaxDate))
	}
}

func (c *checker) choice(value any) {
	if !c.q.Multiple {
		s, ok := value.(string)
		if !ok {
			c.fail(fmt.Sprintf("%s must be one of the options", c.q.DisplayName()))
			return
		}
		if !contains(c.q.Options, s) {
			c.fail(fmt.Sprintf("%s: %q is not a valid option", c.q.DisplayName(), s))
		}
		return
	}

	list, ok := toSlice(value)
	if !ok {
		c.fail(fmt.Sprintf("%s must be a list of options", c.q.DisplayName()))
		return
	}
	for _, item := range list {
		s, ok := item.(string)
		if !ok || !contains(c.q.Options, s) {
			c.fail(fmt.Sprintf("%s: %v is not a valid option", c.q.DisplayName(), item))
		}
	}
	cons := c.q.Validation
	if cons.MinSelections != nil && len(list) < *cons.MinSelections {
		c.violate(fmt.Sprintf("%s needs at least %d selections", c.q.DisplayName(), *cons.MinSelections))
	}
	if cons.MaxSelections != nil && len(list) > *cons.MaxSelections {
		c.violate(fmt.Sprintf("%s allows at most %d selections", c.q.DisplayName(), *cons.MaxSelections))
	}
}

func (c *checker) file(value any) {
	var refs []models.FileRef
	if c.q.Multiple {
		list, ok := toSlice(value)
		if !ok {
			c.fail(fmt.Sprintf("%s must be a list of files", c.q.DisplayName()))
			return
		}
		for _, item := range list {
			ref, ok := ToFileRef(item)
			if !ok {
				c.fail(fmt.Sprintf("%s must be an uploaded file", c.q.DisplayName()))
				return
			}
			refs = append(refs, ref)
		}
	} else {
		ref, ok := ToFileRef(value)
		if !ok {
			c.fail(fmt.Sprintf("%s must be an uploaded file", c.q.DisplayName()))
			return
		}
		refs = append(refs, ref)
	}

	cons := c.q.Validation
	for _, ref := range refs {
		if len(cons.AcceptedTypes) > 0 && !AcceptsType(cons.AcceptedTypes, ref.Name, ref.ContentType) {
			c.violate(fmt.Sprintf("%s: %s is not an accepted file type (%s)", c.q.DisplayName(), ref.Name, strings.Join(cons.AcceptedTypes, ", ")))
		}
		if cons.MaxFileSize > 0 && ref.Size > cons.MaxFileSize {
			c.violate(fmt.Sprintf("%s: %s exceeds the maximum size of %d bytes", c.q.DisplayName(), ref.Name, cons.MaxFileSize))
		}
	}
}

func (c *checker) group(value any) {
	list, ok := toSlice(value)
	if !ok {
		c.fail(fmt.Sprintf("%s must be a list of entries", c.q.DisplayName()))
		return
	}
	if c.q.MinEntries > 0 && len(list) < c.q.MinEntries {
		c.fail(fmt.Sprintf("%s needs at least %d entries", c.q.DisplayName(), c.q.MinEntries))
	}
	if c.q.MaxEntries > 0 && len(list) > c.q.MaxEntries {
		c.fail(fmt.Sprintf("%s allows at most %d entries", c.q.DisplayName(), c.q.MaxEntries))
	}
	for i, item := range list {
		entry, ok := ToMap(item)
		entryPath := fmt.Sprintf("%s[%d]", c.path, i)
		if !ok {
			c.errs = append(c.errs, FieldError{QuestionID: c.q.ID, Path: entryPath, Message: "entry must be an object"})
			continue
		}
		for j := range c.q.Fields {
			f := &c.q.Fields[j]
			c.errs = append(c.errs, question(f, entry[f.ID], entryPath+"."+f.ID)...)
		}
		for _, k := range unknownKeys(entry, c.q.Fields) {
			c.errs = append(c.errs, FieldError{QuestionID: c.q.ID, Path: entryPath + "." + k, Message: fmt.Sprintf("%q is not a field of %s", k, c.q.DisplayName())})
		}
	}
}

// unknownKeys returns the entry keys that name no field, sorted.
func unknownKeys(entry map[string]any, fields []models.QuestionConfig) []string {
	var out []string
	for k := range entry {
		if !slices.ContainsFunc(fields, func(f models.QuestionConfig) bool { return f.ID == k }) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// AcceptsType matches a file against MIME types, MIME wildcards ("image/*") and extensions.
func AcceptsType(accepted []string, name, contentType string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if contentType == "" && ext != "" {
		contentType = mime.TypeByExtension(ext)
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	for _, a := range accepted {
		a = strings.ToLower(strings.TrimSpace(a))
		switch {
		case strings.HasPrefix(a, "."):
			if ext == a {
				return true
			}
		case strings.HasSuffix(a, "/*"):
			if strings.HasPrefix(contentType, strings.TrimSuffix(a, "*")) {
				return true
			}
		case a == contentType:
			return true
		}
	}
	return false
}

// ParseDate accepts YYYY-MM-DD and RFC3339.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if d, err := time.Parse(DateLayout, s); err == nil {
		return d, true
	}
	if d, err := time.Parse(time.RFC3339, s); err == nil {
		y, m, day := d.Date()
		return time.Date(y, m, day, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

// ToFloat converts JSON-ish numeric values. NaN and infinities are not numbers here.
func ToFloat(v any) (float64, bool) {
	var (
		f  float64
		ok = true
	)
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		var err error
		f, err = n.Float64()
		ok = err == nil
	case string:
		var err error
		f, err = strconv.ParseFloat(strings.TrimSpace(n), 64)
		ok = err == nil
	default:
		ok = false
	}
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ToFileRef accepts a FileRef or its decoded JSON object form.
func ToFileRef(v any) (models.FileRef, bool) {
	switch f := v.(type) {
	case models.FileRef:
		return f, true
	case *models.FileRef:
		if f == nil {
			return models.FileRef{}, false
		}
		return *f, true
	case map[string]any:
		data, err := json.Marshal(f)
		if err != nil {
			return models.FileRef{}, false
		}
		var ref models.FileRef
		if err := json.Unmarshal(data, &ref); err != nil {
			return models.FileRef{}, false
		}
		if ref.Name == "" && ref.Key == "" && ref.URL == "" {
			return models.FileRef{}, false
		}
		return ref, true
	}
	return models.FileRef{}, false
}

// ToMap accepts a decoded JSON object.
func ToMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func toSlice(v any) ([]any, bool) {
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

var (
	patternMu    sync.RWMutex
	patternCache = map[string]*regexp.Regexp{}
)

// compile caches patterns; form configs reuse the same few expressions.
func compile(pattern string) (*regexp.Regexp, error) {
	patternMu.RLock()
	re, ok := patternCache[pattern]
	patternMu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patternMu.Lock()
	patternCache[pattern] = re
	patternMu.Unlock()
	return re, nil
}
