package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/catalyzator-io/catalyzator-sub000/internal/repository"
	"github.com/catalyzator-io/catalyzator-sub000/internal/service"
)

type ProfileHandler struct {
	users     *service.UserService
	files     *service.FileService
	maxUpload int64
	logger    *zap.Logger
}

func NewProfileHandler(users *service.UserService, files *service.FileService, maxUpload int64, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{users: users, files: files, maxUpload: maxUpload, logger: logger}
}

// Update merge-writes the fields present in the body.
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName *string `json:"displayName"`
		Phone       *string `json:"phone"`
		Bio         *string `json:"bio"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := h.users.UpdateProfile(r.Context(), userID(r), repository.ProfileUpdate{
		DisplayName: req.DisplayName,
		Phone:       req.Phone,
		Bio:         req.Bio,
	})
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *ProfileHandler) UploadPicture(w http.ResponseWriter, r *http.Request) {
	parts, ok := parseMultipart(w, r, "file", h.maxUpload)
	if !ok {
		return
	}
	fh := parts[0]
	data, err := readPart(fh, h.maxUpload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ref, err := h.files.UploadProfilePicture(r.Context(), userID(r), fh.Filename, fh.Header.Get("Content-Type"), data)
	if err != nil {
		fail(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}
