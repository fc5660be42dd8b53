package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/catalyzator-io/catalyzator-sub000/internal/service"
)

type FormHandler struct {
	svc    *service.FormService
	logger *zap.Logger
}

func NewFormHandler(svc *service.FormService, logger *zap.Logger) *FormHandler {
	return &FormHandler{svc: svc, logger: logger}
}

func (h *FormHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.List())
}

func (h *FormHandler) Get(w http.ResponseWriter, r *http.Request) {
	form, err := h.svc.Get(param(r, "formId"))
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, form)
}

// ValidateStep checks answers against a step without storing anything.
func (h *FormHandler) ValidateStep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Answers map[string]any `json:"answers"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	errs, err := h.svc.ValidateStep(param(r, "formId"), param(r, "stepId"), req.Answers)
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": len(errs) == 0, "errors": errs})
}
