package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-auth-api/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AuthEnvelope wraps responses that carry a sanitized account and, for
// operations that establish a session, a token.
type AuthEnvelope struct {
	Message string           `json:"message,omitempty"`
	User    *domain.SafeUser `json:"user,omitempty"`
	Token   string           `json:"token,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// httpError maps a wrapped domain sentinel to its HTTP status. Unexpected
// errors surface as a generic 500; the detail is only exposed when debug is
// set and is always logged.
func httpError(w http.ResponseWriter, err error, debug bool) {
	switch {
	case errors.Is(err, domain.ErrBadRequest), errors.Is(err, domain.ErrExpired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUnprocessable):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.Error("unexpected error", "err", err)
		msg := "internal server error"
		if debug {
			msg = err.Error()
		}
		writeError(w, http.StatusInternalServerError, msg)
	}
}
