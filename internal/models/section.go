package models

// SectionData is the document stored at
// entities/{entityId}/grant_onboarding/{applicationId}/sections/{section}.
type SectionData struct {
	ID            string         `json:"_id,omitempty"`
	Path          string         `json:"_path"`
	EntityID      string         `json:"entityId"`
	ApplicationID string         `json:"applicationId"`
	Section       string         `json:"section"`
	Data          map[string]any `json:"data"`
	EntryCount    int            `json:"entryCount,omitempty"`
	UpdatedAt     string         `json:"updatedAt"`
}

// SectionEntry is one element of a repeatable section, stored under .../entries/{index}.
type SectionEntry struct {
	ID          string         `json:"_id,omitempty"`
	Path        string         `json:"_path"`
	SectionPath string         `json:"sectionPath"`
	Index       int            `json:"index"`
	Data        map[string]any `json:"data"`
	UpdatedAt   string         `json:"updatedAt"`
}
