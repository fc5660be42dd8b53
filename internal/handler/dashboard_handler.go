package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/catalyzator-io/catalyzator-sub000/internal/service"
)

type DashboardHandler struct {
	svc    *service.DashboardService
	logger *zap.Logger
}

func NewDashboardHandler(svc *service.DashboardService, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{svc: svc, logger: logger}
}

func (h *DashboardHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Get(r.Context(), userID(r))
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
