package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/solar-controller-core/internal/auth"
	"github.com/nerrad567/solar-controller-core/internal/coordinator"
)

type loginRequest struct {
	Credential string `json:"credential"`
}

// handleLogin exchanges an identity provider credential (a Google Sign-In
// ID token) for an access token, creating the user on first sign-in.
//
// Body: {"credential": "<id token>"}
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Credential == "" {
		writeBadRequest(w, "credential is required")
		return
	}

	token, user, err := s.auth.Login(detached(r), req.Credential)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrSignInDisabled):
		writeNotFound(w, "not found")
		return
	case errors.Is(err, auth.ErrCredentialInvalid):
		s.logger.Debug("sign-in rejected", "error", err)
		writeUnauthorized(w, "invalid credential")
		return
	case errors.Is(err, auth.ErrVerifierUnavailable):
		s.logger.Error("sign-in verifier unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, ErrCodeSignInUnavailable, "sign-in temporarily unavailable")
		return
	default:
		s.logger.Error("sign-in failed", "error", err)
		writeInternalError(w, "authentication failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  user,
	})
}

// handleTestLogin provisions the fixed test user and returns a signed
// access token for it. Only available with security.dev_tokens.
func (s *Server) handleTestLogin(w http.ResponseWriter, r *http.Request) {
	token, user, err := s.auth.TestLogin(detached(r))
	if err != nil {
		if errors.Is(err, auth.ErrDevDisabled) {
			writeNotFound(w, "not found")
			return
		}
		s.logger.Error("test login failed", "error", err)
		writeInternalError(w, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  user,
	})
}

// handleMe returns the caller's own account.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.coord.Me(detached(r), identity(r))
	if err != nil {
		if errors.Is(err, coordinator.ErrNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("fetching user", "error", err)
		writeInternalError(w, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
