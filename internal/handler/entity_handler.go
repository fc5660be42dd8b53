package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
	"github.com/catalyzator-io/catalyzator-sub000/internal/service"
)

type EntityHandler struct {
	svc    *service.EntityService
	logger *zap.Logger
}

func NewEntityHandler(svc *service.EntityService, logger *zap.Logger) *EntityHandler {
	return &EntityHandler{svc: svc, logger: logger}
}

func (h *EntityHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string            `json:"name"`
		Type models.EntityType `json:"type"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	e, err := h.svc.Create(r.Context(), userID(r), req.Name, req.Type)
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *EntityHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListForUser(r.Context(), userID(r))
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": list})
}

func (h *EntityHandler) Get(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.Get(r.Context(), userID(r), param(r, "entityId"))
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// Update renames the entity when name is set and merges profile fields.
func (h *EntityHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string         `json:"name"`
		Profile map[string]any `json:"profile"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	e, err := h.svc.Update(r.Context(), userID(r), param(r, "entityId"), req.Name, req.Profile)
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *EntityHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := readJSON(r, &req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	e, err := h.svc.AddMember(r.Context(), userID(r), param(r, "entityId"), req.Email)
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *EntityHandler) JoinWaitlist(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.JoinWaitlist(r.Context(), userID(r), param(r, "entityId"), param(r, "productId"))
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}
