package service

import (
	"github.com/catalyzator-io/catalyzator-sub000/internal/formreg"
	"github.com/catalyzator-io/catalyzator-sub000/internal/formrun"
	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
	"github.com/catalyzator-io/catalyzator-sub000/internal/validate"
)

type FormService struct {
	forms *formreg.Registry
}

func NewFormService(forms *formreg.Registry) *FormService {
	return &FormService{forms: forms}
}

type FormSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	StepCount   int    `json:"stepCount"`
}

func (s *FormService) List() []FormSummary {
	forms := s.forms.List()
	out := make([]FormSummary, 0, len(forms))
	for _, f := range forms {
		out = append(out, FormSummary{ID: f.ID, Title: f.Title, Description: f.Description, StepCount: len(f.Steps)})
	}
	return out
}

func (s *FormService) Get(id string) (*models.FormConfig, error) {
	f, ok := s.forms.Get(id)
	if !ok {
		return nil, ErrFormNotFound
	}
	return f, nil
}

// ValidateStep checks answers against one step without storing anything.
func (s *FormService) ValidateStep(formID, stepID string, answers map[string]any) ([]validate.FieldError, error) {
	f, err := s.Get(formID)
	if err != nil {
		return nil, err
	}
	step, _, ok := f.Step(stepID)
	if !ok {
		return nil, formrun.ErrUnknownStep
	}
	errs := validate.Step(step, answers)
	if errs == nil {
		errs = []validate.FieldError{}
	}
	return errs, nil
}
