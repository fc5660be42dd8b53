package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/catalyzator-io/catalyzator-sub000/internal/service"
)

type FileHandler struct {
	svc    *service.FileService
	logger *zap.Logger
}

func NewFileHandler(svc *service.FileService, logger *zap.Logger) *FileHandler {
	return &FileHandler{svc: svc, logger: logger}
}

// Download streams the object stored under the wildcard key.
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	data, f, err := h.svc.Open(r.Context(), userID(r), param(r, "*"))
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", f.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}
