package handler

import (
	"net/http"

	"github.com/go-auth-api/internal/application/account"
	"github.com/go-auth-api/internal/domain"
	"github.com/go-auth-api/internal/pkg/validate"
	"github.com/go-auth-api/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
)

// UserHandler handles authenticated profile endpoints.
type UserHandler struct {
	svc     account.Service
	uploads uploader
	debug   bool
}

func NewUserHandler(svc account.Service, uploads uploader, debug bool) *UserHandler {
	return &UserHandler{svc: svc, uploads: uploads, debug: debug}
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err, h.debug)
		return
	}
	writeJSON(w, http.StatusOK, AuthEnvelope{Message: "User fetched successfully", User: user})
}

func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	targetID := chi.URLParam(r, "id")
	if claims.UserID != targetID {
		writeError(w, http.StatusForbidden, "cannot update another user")
		return
	}
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	req := domain.UpdateUserRequest{
		Name:     formValue(r, "name"),
		Email:    formValue(r, "email"),
		Password: formValue(r, "password"),
		OTP:      formValue(r, "otp"),
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	imageKey, err := stageImage(r, h.uploads)
	if err != nil {
		httpError(w, err, h.debug)
		return
	}
	user, err := h.svc.Update(r.Context(), targetID, req, imageKey)
	if err != nil {
		purgeImage(r.Context(), h.uploads, imageKey)
		httpError(w, err, h.debug)
		return
	}
	writeJSON(w, http.StatusOK, AuthEnvelope{Message: "User updated successfully", User: user})
}

// formValue returns a pointer to the form field value, or nil when the field
// was not sent. Distinguishes an absent field from an empty one.
func formValue(r *http.Request, key string) *string {
	if r.MultipartForm == nil {
		return nil
	}
	vs, ok := r.MultipartForm.Value[key]
	if !ok || len(vs) == 0 {
		return nil
	}
	return &vs[0]
}
