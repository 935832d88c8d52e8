// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package authapi

import "encoding/json"

// Error codes returned to clients. Ceremony failures collapse into
// ErrorCodeCeremonyFailed so responses do not reveal which verification
// step failed; the specific code lives in the audit trail only.
const (
	ErrorCodeInvalidRequest = "invalid_request"
	ErrorCodeCeremonyFailed = "ceremony_failed"
	ErrorCodeNotFound       = "not_found"
	ErrorCodeUnauthorized   = "unauthorized"
	ErrorCodeForbidden      = "forbidden"
	ErrorCodeInternalError  = "internal_error"
)

// StartRequest begins either ceremony.
type StartRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

// FinishRequest completes a ceremony: the challenge handle from start
// plus the raw authenticator response in WebAuthn wire format.
type FinishRequest struct {
	ChallengeID string          `json:"challengeId"`
	Credential  json.RawMessage `json:"credential"`
}

// RefreshRequest rotates a refresh token.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RevokeRequest revokes a session.
type RevokeRequest struct {
	SessionID string `json:"sessionId,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
