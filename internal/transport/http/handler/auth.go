package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-auth-api/internal/application/account"
	"github.com/go-auth-api/internal/domain"
	"github.com/go-auth-api/internal/pkg/validate"
)

// AuthHandler handles the credential lifecycle endpoints: signup, OTP
// verification, login, OTP resend / forgot password, password reset, logout.
type AuthHandler struct {
	svc       account.Service
	uploads   uploader
	cookieTTL time.Duration
	debug     bool
}

func NewAuthHandler(svc account.Service, uploads uploader, cookieTTL time.Duration, debug bool) *AuthHandler {
	return &AuthHandler{svc: svc, uploads: uploads, cookieTTL: cookieTTL, debug: debug}
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	req := domain.SignupRequest{
		Name:           r.FormValue("name"),
		Email:          r.FormValue("email"),
		Password:       r.FormValue("password"),
		RepeatPassword: r.FormValue("repeat_password"),
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
	user, token, err := h.svc.Signup(r.Context(), req, imageKey)
	if err != nil {
		purgeImage(r.Context(), h.uploads, imageKey)
		httpError(w, err, h.debug)
		return
	}
	h.setSessionCookie(w, token)
	writeJSON(w, http.StatusCreated, AuthEnvelope{
		Message: "User created successfully. Check your email for OTP verification",
		User:    user,
		Token:   token,
	})
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.svc.VerifyOTP(r.Context(), req.OTP)
	if err != nil {
		httpError(w, err, h.debug)
		return
	}
	writeJSON(w, http.StatusOK, AuthEnvelope{Message: "User verified successfully", User: user})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, token, err := h.svc.Login(r.Context(), req)
	if err != nil {
		httpError(w, err, h.debug)
		return
	}
	h.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, AuthEnvelope{Message: "Login successful", User: user, Token: token})
}

func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req domain.RequestOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.RequestOTP(r.Context(), req.Email, req.Flag); err != nil {
		httpError(w, err, h.debug)
		return
	}
	msg := "OTP resent successfully"
	if req.Flag == domain.PurposeForgotPassword {
		msg = "OTP sent for password reset"
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: msg})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req domain.ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, token, err := h.svc.ResetPassword(r.Context(), req.OTP, req.NewPassword)
	if err != nil {
		httpError(w, err, h.debug)
		return
	}
	h.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, AuthEnvelope{Message: "Password reset successfully", User: user, Token: token})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "Logout successful"})
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cookieTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
