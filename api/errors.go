package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/b-editor/beutl-auth/deviceauth"
)

// uniformUnauthorized is the single message used for every failed token
// exchange or refresh. Never distinguish "expired" from "not found" from
// "wrong user" to an external caller.
const uniformUnauthorized = "invalid request"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, deviceauth.ErrInvalidContinueURI):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, deviceauth.ErrSessionNotFound):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, deviceauth.ErrCodeInvalid),
		errors.Is(err, deviceauth.ErrInvalidRefreshToken),
		errors.Is(err, deviceauth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, uniformUnauthorized)
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
