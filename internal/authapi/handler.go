// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package authapi serves the ceremony and token endpoints behind the
// edge gateway.
package authapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/commercekit/edgeauth/pkg/audit"
	"github.com/commercekit/edgeauth/pkg/ceremony"
	"github.com/commercekit/edgeauth/pkg/edge"
	"github.com/commercekit/edgeauth/pkg/metrics"
	"github.com/commercekit/edgeauth/pkg/token"
)

// Handler implements the ceremony and token HTTP endpoints.
type Handler struct {
	enroll *ceremony.Enrollment
	authn  *ceremony.Authentication
	tokens *token.Issuer
	audit  *audit.Logger
	log    *slog.Logger
}

// NewHandler wires the ceremony services into HTTP handlers.
func NewHandler(enroll *ceremony.Enrollment, authn *ceremony.Authentication, tokens *token.Issuer, auditLog *audit.Logger, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		enroll: enroll,
		authn:  authn,
		tokens: tokens,
		audit:  auditLog,
		log:    log,
	}
}

// EnrollStart handles POST /auth/enroll/start.
func (h *Handler) EnrollStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "email is required")
		return
	}

	result, err := h.enroll.Start(r.Context(), req.Email, req.DisplayName, requestMeta(r))
	if err != nil {
		h.handleCeremonyError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// EnrollFinish handles POST /auth/enroll/finish.
func (h *Handler) EnrollFinish(w http.ResponseWriter, r *http.Request) {
	var req FinishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if req.ChallengeID == "" || len(req.Credential) == 0 {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "challengeId and credential are required")
		return
	}

	cred, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(req.Credential))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid attestation response")
		return
	}

	result, err := h.enroll.Finish(r.Context(), req.ChallengeID, cred, requestMeta(r))
	metrics.RecordCeremony("enroll", err == nil)
	if err != nil {
		h.handleCeremonyError(w, err)
		return
	}
	metrics.RecordTokensIssued()
	h.writeJSON(w, http.StatusOK, result)
}

// AuthenticateStart handles POST /auth/authenticate/start.
func (h *Handler) AuthenticateStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "email is required")
		return
	}

	result, err := h.authn.Start(r.Context(), req.Email, requestMeta(r))
	if err != nil {
		h.handleCeremonyError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// AuthenticateFinish handles POST /auth/authenticate/finish.
func (h *Handler) AuthenticateFinish(w http.ResponseWriter, r *http.Request) {
	var req FinishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if req.ChallengeID == "" || len(req.Credential) == 0 {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "challengeId and credential are required")
		return
	}

	cred, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(req.Credential))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid assertion response")
		return
	}

	result, err := h.authn.Finish(r.Context(), req.ChallengeID, cred, requestMeta(r))
	metrics.RecordCeremony("authn", err == nil)
	if err != nil {
		h.handleCeremonyError(w, err)
		return
	}
	metrics.RecordTokensIssued()
	h.writeJSON(w, http.StatusOK, result)
}

// TokenRefresh handles POST /auth/token/refresh: the old refresh token
// is revoked and a new pair minted.
func (h *Handler) TokenRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "refreshToken is required")
		return
	}

	tokens, err := h.tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, ErrorCodeUnauthorized, "invalid refresh token")
		return
	}
	metrics.RecordTokensIssued()
	h.writeJSON(w, http.StatusOK, tokens)
}

// TokenRevoke handles POST /auth/token/revoke. Without a sessionId in
// the body it revokes the caller's own session.
func (h *Handler) TokenRevoke(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())
	if identity == nil {
		h.writeError(w, http.StatusUnauthorized, ErrorCodeUnauthorized, "authentication required")
		return
	}

	var req RevokeRequest
	// Body is optional.
	_ = json.NewDecoder(r.Body).Decode(&req)

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = identity.SessionID
	}
	// Revoking another session requires the admin role.
	if sessionID != identity.SessionID && identity.Role != "admin" {
		h.writeError(w, http.StatusForbidden, ErrorCodeForbidden, "insufficient privileges")
		return
	}

	if err := h.tokens.Revoke(r.Context(), sessionID); err != nil {
		h.log.Error("session revocation failed", "session_id", sessionID, "error", err)
		h.writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal server error")
		return
	}

	h.audit.Record(r.Context(), &audit.Event{
		ActorSubject: identity.Subject,
		ActorDevice:  identity.DeviceID,
		ActorIP:      edge.ClientIPFromContext(r.Context()),
		UserAgent:    r.Header.Get("User-Agent"),
		Action:       audit.ActionTokenRevoke,
		ResourceType: "session",
		ResourceID:   sessionID,
		Success:      true,
	})

	h.writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCeremonyError maps ceremony failures to HTTP statuses with a
// deliberately generic body. The specific verification step that failed
// is recorded in the audit trail, never in the response.
func (h *Handler) handleCeremonyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ceremony.ErrDeviceNotFound):
		h.writeError(w, http.StatusNotFound, ErrorCodeNotFound, "not found")
	case errors.Is(err, ceremony.ErrChallengeNotFound),
		errors.Is(err, ceremony.ErrOriginMismatch),
		errors.Is(err, ceremony.ErrTypeMismatch),
		errors.Is(err, ceremony.ErrChallengeMismatch),
		errors.Is(err, ceremony.ErrSignatureVerification),
		errors.Is(err, ceremony.ErrCounterReplay),
		errors.Is(err, ceremony.ErrMalformedCredential):
		h.writeError(w, http.StatusBadRequest, ErrorCodeCeremonyFailed, "ceremony failed")
	default:
		h.log.Error("ceremony internal error", "error", err)
		h.writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error("failed to encode JSON response", "error", err, "status", status)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// requestMeta derives the audit context for a request. Behind the edge
// gateway the client address arrives in X-Forwarded-For.
func requestMeta(r *http.Request) ceremony.RequestMeta {
	return ceremony.RequestMeta{
		IP:        edge.ClientIP(r),
		UserAgent: r.Header.Get("User-Agent"),
	}
}
