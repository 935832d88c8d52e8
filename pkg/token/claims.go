// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package token

import "github.com/golang-jwt/jwt/v5"

// Audience values distinguish access tokens from refresh tokens so one can
// never be replayed as the other.
const (
	AudienceAccess  = "edgeauth:access"
	AudienceRefresh = "edgeauth:refresh"
)

// AccessClaims are the claims carried by short-lived access tokens. The JWT
// ID claim holds the session ID; Subject holds the authenticated subject.
type AccessClaims struct {
	jwt.RegisteredClaims
	DeviceID string `json:"device"`
	Role     string `json:"role,omitempty"`
}

// RefreshClaims are the claims carried by refresh tokens.
type RefreshClaims struct {
	jwt.RegisteredClaims
	DeviceID string `json:"device"`
}
