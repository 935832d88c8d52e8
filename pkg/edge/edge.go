// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package edge implements the inbound request filter chain: a bot
// heuristic followed by two fixed-window counters (DDoS and rate limit).
// Stages run in order and the first block short-circuits the rest.
// Counter stages fail open when their backing store is unavailable.
package edge

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// Request is the subset of an inbound HTTP request the filter stages
// inspect.
type Request struct {
	Method    string
	Path      string
	UserAgent string
	ClientIP  string
}

// Decision is a single stage's verdict.
type Decision struct {
	// Allowed is true when the request may continue to the next stage.
	Allowed bool

	// Status is the terminal HTTP status for a block.
	Status int

	// Code is the audit error code for a block.
	Code string

	// Stage names the stage that produced the decision.
	Stage string
}

// Allow is the decision that lets a request continue.
func Allow(stage string) Decision {
	return Decision{Allowed: true, Stage: stage}
}

// Block terminates the chain with the given status.
func Block(stage string, status int, code string) Decision {
	return Decision{Allowed: false, Status: status, Code: code, Stage: stage}
}

// Stage is one filter in the chain. Check never returns an error:
// stages that depend on fallible backends decide fail-open internally.
type Stage interface {
	// Name identifies the stage in logs, metrics and audit events.
	Name() string

	Check(ctx context.Context, req *Request) Decision
}

// ClientIP extracts the originating client address, preferring proxy
// headers over the socket peer.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First address is the originating client.
		if i := strings.Index(xff, ","); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type clientIPKey struct{}

// WithClientIP stores the derived client IP in the context.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFromContext returns the client IP stored by the chain
// middleware, or empty when absent.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}
