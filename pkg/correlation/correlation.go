// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package correlation threads a per-request correlation ID through context,
// HTTP headers and audit events so a ceremony can be reconstructed across
// the edge and the auth API.
package correlation

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// correlationIDKey is the context key for storing correlation IDs.
const correlationIDKey contextKey = "correlation-id"

const (
	// Header is the HTTP header carrying the correlation ID.
	Header = "X-Correlation-ID"

	// RequestIDHeader is an alternative inbound header honored if present.
	RequestIDHeader = "X-Request-ID"
)

// WithID adds a correlation ID to the context.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// FromContext retrieves the correlation ID, or "" if none is set.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// NewID generates a new correlation ID.
func NewID() string {
	return uuid.NewString()
}

// Middleware ensures every request has a correlation ID: it honors an
// inbound X-Correlation-ID or X-Request-ID header, generates one otherwise,
// and echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" {
			id = r.Header.Get(RequestIDHeader)
		}
		if id == "" {
			id = NewID()
		}

		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
	})
}
