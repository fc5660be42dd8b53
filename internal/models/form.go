package models

// QuestionType is the value type a question accepts.
type QuestionType string

const (
	QuestionText     QuestionType = "text"
	QuestionLongText QuestionType = "long_text"
	QuestionEmail    QuestionType = "email"
	QuestionURL      QuestionType = "url"
	QuestionNumber   QuestionType = "number"
	QuestionDate     QuestionType = "date"
	QuestionBoolean  QuestionType = "boolean"
	QuestionFile     QuestionType = "file"
	QuestionChoice   QuestionType = "choice"
	QuestionGroup    QuestionType = "group"
)

// Known reports whether t is one of the supported question types.
func (t QuestionType) Known() bool {
	switch t {
	case QuestionText, QuestionLongText, QuestionEmail, QuestionURL, QuestionNumber,
		QuestionDate, QuestionBoolean, QuestionFile, QuestionChoice, QuestionGroup:
		return true
	}
	return false
}

// FormConfig is a declarative multi-step form. Immutable once registered.
type FormConfig struct {
	ID          string       `json:"id" yaml:"id"`
	Title       string       `json:"title" yaml:"title"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []StepConfig `json:"steps" yaml:"steps"`
}

// StepConfig is one page of a form.
type StepConfig struct {
	ID          string           `json:"id" yaml:"id"`
	Title       string           `json:"title" yaml:"title"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Questions   []QuestionConfig `json:"questions" yaml:"questions"`
	Skippable   bool             `json:"skippable,omitempty" yaml:"skippable,omitempty"`
}

// QuestionConfig describes one answer slot. Groups repeat their Fields
// between MinEntries and MaxEntries times (MaxEntries 0 = unbounded).
type QuestionConfig struct {
	ID          string           `json:"id" yaml:"id"`
	Label       string           `json:"label" yaml:"label"`
	Type        QuestionType     `json:"type" yaml:"type"`
	Required    bool             `json:"required,omitempty" yaml:"required,omitempty"`
	Placeholder string           `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Options     []string         `json:"options,omitempty" yaml:"options,omitempty"`
	Multiple    bool             `json:"multiple,omitempty" yaml:"multiple,omitempty"`
	Validation  Constraints      `json:"validation,omitempty" yaml:"validation,omitempty"`
	Fields      []QuestionConfig `json:"fields,omitempty" yaml:"fields,omitempty"`
	MinEntries  int              `json:"minEntries,omitempty" yaml:"min_entries,omitempty"`
	MaxEntries  int              `json:"maxEntries,omitempty" yaml:"max_entries,omitempty"`
}

// DisplayName is the label, or the id when no label is set.
func (q *QuestionConfig) DisplayName() string {
	if q.Label != "" {
		return q.Label
	}
	return q.ID
}

// Constraints are the type-specific checks of a question. Nil pointers mean unbounded.
type Constraints struct {
	MinLength     *int     `json:"minLength,omitempty" yaml:"min_length,omitempty"`
	MaxLength     *int     `json:"maxLength,omitempty" yaml:"max_length,omitempty"`
	Min           *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max           *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Pattern       string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	MinSelections *int     `json:"minSelections,omitempty" yaml:"min_selections,omitempty"`
	MaxSelections *int     `json:"maxSelections,omitempty" yaml:"max_selections,omitempty"`
	// AcceptedTypes holds MIME types ("application/pdf", "image/*") or extensions (".pdf").
	AcceptedTypes []string `json:"acceptedTypes,omitempty" yaml:"accepted_types,omitempty"`
	MaxFileSize   int64    `json:"maxFileSize,omitempty" yaml:"max_file_size,omitempty"`
	MinDate       string   `json:"minDate,omitempty" yaml:"min_date,omitempty"`
	MaxDate       string   `json:"maxDate,omitempty" yaml:"max_date,omitempty"`
	// Message replaces the generated text for constraint violations.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Step returns the step with the given id and its index.
func (f *FormConfig) Step(id string) (*StepConfig, int, bool) {
	for i := range f.Steps {
		if f.Steps[i].ID == id {
			return &f.Steps[i], i, true
		}
	}
	return nil, -1, false
}

// FileRef is the answer value of a file question.
type FileRef struct {
	Name        string `json:"name"`
	Key         string `json:"key,omitempty"`
	URL         string `json:"url,omitempty"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType,omitempty"`
}
