package models

// SubmissionStatus is the lifecycle state of a FormSubmission.
type SubmissionStatus string

const (
	StatusDraft     SubmissionStatus = "draft"
	StatusSubmitted SubmissionStatus = "submitted"
)

// FormStepResponse holds the answers of one step.
type FormStepResponse struct {
	StepID    string         `json:"stepId"`
	Answers   map[string]any `json:"answers"`
	Completed bool           `json:"completed"`
	UpdatedAt string         `json:"updatedAt"`
}

// FormSubmission is a user's progress through one form.
type FormSubmission struct {
	ID               string                       `json:"_id,omitempty"`
	FormID           string                       `json:"formId"`
	UserID           string                       `json:"userId"`
	EntityID         string                       `json:"entityId,omitempty"`
	ApplicationID    string                       `json:"applicationId"`
	Status           SubmissionStatus             `json:"status"`
	CurrentStepIndex int                          `json:"currentStepIndex"`
	Responses        map[string]*FormStepResponse `json:"responses"`
	CompletedSteps   []string                     `json:"completedSteps"`
	SkippedSteps     []string                     `json:"skippedSteps"`
	IsComplete       bool                         `json:"isComplete"`
	CreatedAt        string                       `json:"createdAt"`
	UpdatedAt        string                       `json:"updatedAt"`
	SubmittedAt      string                       `json:"submittedAt,omitempty"`
}
