package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/catalyzator-io/catalyzator-sub000/internal/service"
)

type SubmissionHandler struct {
	svc    *service.SubmissionService
	logger *zap.Logger
}

func NewSubmissionHandler(svc *service.SubmissionService, logger *zap.Logger) *SubmissionHandler {
	return &SubmissionHandler{svc: svc, logger: logger}
}

func (h *SubmissionHandler) ref(w http.ResponseWriter, r *http.Request) (service.Ref, bool) {
	ref, err := service.ParseRef(param(r, "subId"))
	if err != nil {
		fail(w, h.logger, r, err)
		return service.Ref{}, false
	}
	return ref, true
}

// Start resumes or opens a submission. An empty applicationId starts a new application.
func (h *SubmissionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FormID        string `json:"formId"`
		EntityID      string `json:"entityId"`
		ApplicationID string `json:"applicationId"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FormID == "" {
		writeError(w, http.StatusBadRequest, "formId is required")
		return
	}
	sub, err := h.svc.Start(r.Context(), userID(r), req.FormID, req.EntityID, req.ApplicationID)
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *SubmissionHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.svc.ListForUser(r.Context(), userID(r))
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": subs, "total": len(subs)})
}

func (h *SubmissionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.ref(w, r)
	if !ok {
		return
	}
	sub, err := h.svc.Get(r.Context(), userID(r), ref)
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *SubmissionHandler) UpdateStep(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.ref(w, r)
	if !ok {
		return
	}
	var req struct {
		Answers map[string]any `json:"answers"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sub, err := h.svc.UpdateStep(r.Context(), userID(r), ref, param(r, "stepId"), req.Answers)
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *SubmissionHandler) SkipStep(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.ref(w, r)
	if !ok {
		return
	}
	sub, err := h.svc.SkipStep(r.Context(), userID(r), ref, param(r, "stepId"))
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *SubmissionHandler) StepErrors(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.ref(w, r)
	if !ok {
		return
	}
	errs, err := h.svc.StepErrors(r.Context(), userID(r), ref, param(r, "stepId"))
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": len(errs) == 0, "errors": errs})
}

func (h *SubmissionHandler) GoTo(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.ref(w, r)
	if !ok {
		return
	}
	var req struct {
		Index *int `json:"index"`
	}
	if err := readJSON(r, &req); err != nil || req.Index == nil {
		writeError(w, http.StatusBadRequest, "index is required")
		return
	}
	sub, err := h.svc.GoTo(r.Context(), userID(r), ref, *req.Index)
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *SubmissionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.ref(w, r)
	if !ok {
		return
	}
	sub, err := h.svc.Submit(r.Context(), userID(r), ref)
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
