// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package authapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/commercekit/edgeauth/pkg/token"
)

type identityKey struct{}

// IdentityFromContext returns the authenticated identity installed by
// RequireAuth, or nil.
func IdentityFromContext(ctx context.Context) *token.Identity {
	identity, _ := ctx.Value(identityKey{}).(*token.Identity)
	return identity
}

// withIdentity stores the identity for downstream handlers.
func withIdentity(ctx context.Context, identity *token.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// RequireAuth validates the bearer token and exposes {subject, role}
// to downstream handlers. This is the authorization contract consumed
// by the surrounding storefront and admin services.
func RequireAuth(issuer *token.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := authenticate(issuer, r)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, ErrorCodeUnauthorized, "authentication required")
				return
			}
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
		})
	}
}

// RequireAdmin is RequireAuth plus an admin role check.
func RequireAdmin(issuer *token.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := authenticate(issuer, r)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, ErrorCodeUnauthorized, "authentication required")
				return
			}
			if identity.Role != "admin" {
				writeAuthError(w, http.StatusForbidden, ErrorCodeForbidden, "insufficient privileges")
				return
			}
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
		})
	}
}

func authenticate(issuer *token.Issuer, r *http.Request) (*token.Identity, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return nil, false
	}
	identity, err := issuer.Validate(r.Context(), strings.TrimPrefix(header, prefix))
	if err != nil {
		return nil, false
	}
	return identity, true
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: code, Message: message})
}
