package models

// StoredFile is the metadata record of an uploaded object.
type StoredFile struct {
	ID            string `json:"_id,omitempty"`
	Key           string `json:"key"`
	FileName      string `json:"fileName"`
	ContentType   string `json:"contentType"`
	Size          int64  `json:"size"`
	URL           string `json:"url"`
	UploadedBy    string `json:"uploadedBy"`
	EntityID      string `json:"entityId,omitempty"`
	ApplicationID string `json:"applicationId,omitempty"`
	Section       string `json:"section,omitempty"`
	CreatedAt     string `json:"createdAt"`
}

// Ref converts the record into the answer value stored in form responses.
func (f *StoredFile) Ref() FileRef {
	return FileRef{
		Name:        f.FileName,
		Key:         f.Key,
		URL:         f.URL,
		Size:        f.Size,
		ContentType: f.ContentType,
	}
}
