package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/catalyzator-io/catalyzator-sub000/internal/service"
)

type AdminHandler struct {
	svc    *service.AdminService
	logger *zap.Logger
}

func NewAdminHandler(svc *service.AdminService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, logger: logger}
}

func (h *AdminHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req service.SearchRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := h.svc.Search(r.Context(), req)
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *AdminHandler) ListIndexes(w http.ResponseWriter, r *http.Request) {
	indexes, err := h.svc.Indexes(r.Context())
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"indexes": indexes})
}

// Compact compacts ?collection=, or every collection when it is absent.
func (h *AdminHandler) Compact(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Compact(r.Context(), r.URL.Query().Get("collection"))
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
