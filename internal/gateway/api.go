// ABOUTME: HTTP API handlers for authentication and session lifecycle
// ABOUTME: Maps component errors onto JSON responses and status codes

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/veilchat/veil-gateway/internal/auth"
	"github.com/veilchat/veil-gateway/internal/session"
)

// ChallengeRequest is the JSON request body for POST /auth/challenge.
type ChallengeRequest struct {
	PublicKey string `json:"public_key"`
}

// ChallengeResponse is the JSON response for POST /auth/challenge.
type ChallengeResponse struct {
	Challenge string `json:"challenge"`
}

// VerifyRequest is the JSON request body for POST /auth/verify.
type VerifyRequest struct {
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

// VerifyResponse is the JSON response for POST /auth/verify.
type VerifyResponse struct {
	Credential string `json:"credential"`
}

// EndSessionRequest is the JSON request body for POST /session/end.
type EndSessionRequest struct {
	SessionID string `json:"session_id"`
}

// LookupRequest is the JSON request body for POST /users/lookup. Query may
// be an alias, a public key, or a Matrix user ID.
type LookupRequest struct {
	Query string `json:"query"`
}

// handleChallenge handles POST /auth/challenge requests.
// Unknown, revoked, and expired keys all produce the same 401 so the
// endpoint cannot be used to probe which keys are registered.
func (g *Gateway) handleChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PublicKey == "" {
		g.sendJSONError(w, http.StatusBadRequest, "public_key is required")
		return
	}

	nonce, err := g.authenticator.RequestChallenge(r.Context(), req.PublicKey)
	if err != nil {
		if errors.Is(err, auth.ErrNotAuthorized) {
			g.sendJSONError(w, http.StatusUnauthorized, "not authorized")
			return
		}
		g.logger.Error("failed to issue challenge", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, ChallengeResponse{Challenge: nonce})
}

// handleVerify handles POST /auth/verify requests.
func (g *Gateway) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PublicKey == "" || req.Signature == "" {
		g.sendJSONError(w, http.StatusBadRequest, "public_key and signature are required")
		return
	}

	credential, err := g.authenticator.VerifyChallenge(r.Context(), req.PublicKey, req.Signature)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrNotAuthorized),
			errors.Is(err, auth.ErrNoActiveChallenge),
			errors.Is(err, auth.ErrInvalidSignature):
			g.sendJSONError(w, http.StatusUnauthorized, "verification failed")
		default:
			g.logger.Error("failed to verify challenge", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	g.sendJSON(w, http.StatusOK, VerifyResponse{Credential: credential})
}

// handleSessionStart handles POST /session/start requests.
func (g *Gateway) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	publicKey, ok := auth.PublicKeyFromContext(r.Context())
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "not authorized")
		return
	}

	descriptor, err := g.sessions.Start(r.Context(), publicKey)
	if err != nil {
		if errors.Is(err, session.ErrProvisioningFailed) {
			g.sendJSONError(w, http.StatusBadGateway, "identity provisioning failed")
			return
		}
		g.logger.Error("failed to start session", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	status := http.StatusCreated
	if descriptor.Reused {
		status = http.StatusOK
	}
	g.sendJSON(w, status, descriptor)
}

// handleSessionInfo handles GET /session/info requests.
func (g *Gateway) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	publicKey, ok := auth.PublicKeyFromContext(r.Context())
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "not authorized")
		return
	}

	descriptor, err := g.sessions.Info(r.Context(), publicKey)
	if err != nil {
		if errors.Is(err, session.ErrNoActiveSession) {
			g.sendJSONError(w, http.StatusNotFound, "no active session")
			return
		}
		g.logger.Error("failed to get session info", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, descriptor)
}

// handleSessionEnd handles POST /session/end requests.
func (g *Gateway) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	publicKey, ok := auth.PublicKeyFromContext(r.Context())
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "not authorized")
		return
	}

	var req EndSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	if err := g.sessions.End(r.Context(), publicKey, req.SessionID); err != nil {
		if errors.Is(err, session.ErrNoActiveSession) {
			g.sendJSONError(w, http.StatusNotFound, "no active session")
			return
		}
		g.logger.Error("failed to end session", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleLookup handles POST /users/lookup requests.
func (g *Gateway) handleLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req LookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		g.sendJSONError(w, http.StatusBadRequest, "query is required")
		return
	}

	peer, err := g.sessions.Lookup(r.Context(), req.Query)
	if err != nil {
		if errors.Is(err, session.ErrNoActiveSession) {
			g.sendJSONError(w, http.StatusNotFound, "user not found")
			return
		}
		g.logger.Error("failed to look up user", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, peer)
}

// handleCleanup handles POST /admin/cleanup requests. Runs all sweeps
// immediately and reports the counts.
func (g *Gateway) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	counts := g.cleaner.RunFullCleanup(r.Context())
	g.sendJSON(w, http.StatusOK, counts)
}

// sendJSON writes a JSON response with the given status code.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
