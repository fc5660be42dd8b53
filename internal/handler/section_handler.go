package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"go.uber.org/zap"

	"github.com/catalyzator-io/catalyzator-sub000/internal/service"
)

const (
	// multipartMemory is the part of a multipart body kept in memory; the rest spills to disk.
	multipartMemory    = 8 << 20
	maxFilesPerRequest = 16
)

type SectionHandler struct {
	sections  *service.SectionService
	files     *service.FileService
	maxUpload int64
	logger    *zap.Logger
}

func NewSectionHandler(sections *service.SectionService, files *service.FileService, maxUpload int64, logger *zap.Logger) *SectionHandler {
	return &SectionHandler{sections: sections, files: files, maxUpload: maxUpload, logger: logger}
}

func (h *SectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.sections.Get(r.Context(), userID(r), param(r, "entityId"), param(r, "applicationId"), param(r, "section"))
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *SectionHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.sections.List(r.Context(), userID(r), param(r, "entityId"), param(r, "applicationId"))
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sections": list})
}

// Put merge-writes the fields of the body's data object.
func (h *SectionHandler) Put(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data map[string]any `json:"data"`
	}
	if err := readJSON(r, &req); err != nil || req.Data == nil {
		writeError(w, http.StatusBadRequest, "data is required")
		return
	}
	v, err := h.sections.Put(r.Context(), userID(r), param(r, "entityId"), param(r, "applicationId"), param(r, "section"), req.Data)
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *SectionHandler) PutEntries(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Entries []map[string]any `json:"entries"`
	}
	if err := readJSON(r, &req); err != nil || req.Entries == nil {
		writeError(w, http.StatusBadRequest, "entries is required")
		return
	}
	v, err := h.sections.PutEntries(r.Context(), userID(r), param(r, "entityId"), param(r, "applicationId"), param(r, "section"), req.Entries)
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// UploadFiles stores every "files" part of a multipart body in the section.
func (h *SectionHandler) UploadFiles(w http.ResponseWriter, r *http.Request) {
	parts, ok := parseMultipart(w, r, "files", h.maxUpload)
	if !ok {
		return
	}
	uploads := make([]service.Upload, 0, len(parts))
	for _, fh := range parts {
		data, err := readPart(fh, h.maxUpload)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		uploads = append(uploads, service.Upload{
			EntityID:      param(r, "entityId"),
			ApplicationID: param(r, "applicationId"),
			Section:       param(r, "section"),
			FileName:      fh.Filename,
			ContentType:   fh.Header.Get("Content-Type"),
			Data:          data,
		})
	}
	refs, err := h.files.UploadMany(r.Context(), userID(r), uploads)
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"files": refs})
}

func (h *SectionHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.files.ListForApplication(r.Context(), userID(r), param(r, "entityId"), param(r, "applicationId"))
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func parseMultipart(w http.ResponseWriter, r *http.Request, field string, maxUpload int64) ([]*multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFilesPerRequest*maxUpload+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return nil, false
	}
	parts := r.MultipartForm.File[field]
	switch {
	case len(parts) == 0:
		writeError(w, http.StatusBadRequest, field+" is required")
		return nil, false
	case len(parts) > maxFilesPerRequest:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d files per request", maxFilesPerRequest))
		return nil, false
	}
	return parts, true
}

// readPart reads at most max+1 bytes so the service can reject oversized files.
func readPart(fh *multipart.FileHeader, max int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, max+1))
}
