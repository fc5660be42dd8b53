package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
	"github.com/catalyzator-io/catalyzator-sub000/internal/routestate"
	"github.com/catalyzator-io/catalyzator-sub000/internal/service"
)

type RouteHandler struct {
	svc    *service.RouteService
	logger *zap.Logger
}

func NewRouteHandler(svc *service.RouteService, logger *zap.Logger) *RouteHandler {
	return &RouteHandler{svc: svc, logger: logger}
}

// Get returns the caller's history and current state.
func (h *RouteHandler) Get(w http.ResponseWriter, r *http.Request) {
	hist, err := h.svc.History(r.Context(), userID(r))
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, routeBody(hist))
}

func (h *RouteHandler) Can(w http.ResponseWriter, r *http.Request) {
	target := routestate.State(param(r, "state"))
	ok, err := h.svc.CanTransitionTo(r.Context(), userID(r), target)
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": target, "allowed": ok})
}

// Transition accepts either a state name or an app path such as "/form/grant".
func (h *RouteHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State    string         `json:"state"`
		Path     string         `json:"path"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	target := routestate.State(req.State)
	if req.Path != "" {
		s, arg, ok := routestate.StateForRoute(req.Path)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown route "+req.Path)
			return
		}
		target = s
		if arg != "" {
			if req.Metadata == nil {
				req.Metadata = map[string]any{}
			}
			req.Metadata["arg"] = arg
		}
	}
	if target == "" {
		writeError(w, http.StatusBadRequest, "state or path is required")
		return
	}
	hist, err := h.svc.TransitionTo(r.Context(), userID(r), target, req.Metadata)
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, routeBody(hist))
}

// routeBody adds the client route of the current state, SafeRoute before the first transition.
func routeBody(hist *models.RouteHistory) map[string]any {
	route := routestate.SafeRoute
	if cur := hist.Current(); cur != nil {
		arg, _ := cur.Metadata["arg"].(string)
		route = routestate.RouteForState(routestate.State(cur.Name), arg)
	}
	return map[string]any{
		"current":  hist.Current(),
		"route":    route,
		"history":  hist.History,
		"revision": hist.Revision,
	}
}
