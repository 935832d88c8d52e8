// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package forward routes filtered requests to their next-hop origin by
// path prefix, sanitizing headers in both directions. It deliberately
// uses an explicit request clone rather than httputil.ReverseProxy so
// the header allow/strip contract stays visible and testable.
package forward

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/commercekit/edgeauth/pkg/edge"
	"github.com/commercekit/edgeauth/pkg/metrics"
)

// EdgeStageHeader marks requests that passed the filter chain.
const EdgeStageHeader = "X-Edge-Stage"

// hopHeaders are connection-scoped headers that must not be forwarded
// in either direction (RFC 9110 §7.6.1).
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Route maps a path prefix to an upstream origin.
type Route struct {
	// Name labels the route in logs and metrics.
	Name string

	// Prefix is matched against the request path. Longest prefix wins.
	Prefix string

	// Target is the upstream origin (scheme + host).
	Target *url.URL
}

// Router selects a next-hop origin for each request and forwards it
// with sanitized headers. Upstream failures surface as 502 without
// retries.
type Router struct {
	routes []Route
	client *http.Client
	log    *slog.Logger
}

// NewRouter builds a router over the given routes. Routes are sorted so
// the longest prefix is tried first.
func NewRouter(log *slog.Logger, routes ...Route) (*Router, error) {
	if len(routes) == 0 {
		return nil, fmt.Errorf("at least one route is required")
	}
	for _, rt := range routes {
		if rt.Prefix == "" || rt.Target == nil {
			return nil, fmt.Errorf("route %q: prefix and target are required", rt.Name)
		}
	}
	sorted := make([]Route, len(routes))
	copy(sorted, routes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		routes: sorted,
		client: &http.Client{
			Timeout: 30 * time.Second,
			// The edge returns upstream redirects to the client as-is.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log: log,
	}, nil
}

// SetClient replaces the upstream HTTP client.
func (rt *Router) SetClient(client *http.Client) {
	rt.client = client
}

// Match returns the route whose prefix matches the path, preferring the
// longest prefix.
func (rt *Router) Match(path string) *Route {
	for i := range rt.routes {
		if strings.HasPrefix(path, rt.routes[i].Prefix) {
			return &rt.routes[i]
		}
	}
	return nil
}

// ServeHTTP forwards the request to its matched upstream and relays the
// sanitized response.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route := rt.Match(r.URL.Path)
	if route == nil {
		http.NotFound(w, r)
		return
	}

	upstream, err := rt.cloneRequest(r, route)
	if err != nil {
		rt.log.Error("failed to build upstream request", "route", route.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp, err := rt.client.Do(upstream)
	if err != nil {
		rt.log.Error("upstream request failed",
			"route", route.Name,
			"target", route.Target.String(),
			"error", err)
		metrics.RecordUpstreamRequest(route.Name, http.StatusBadGateway)
		writeError(w, http.StatusBadGateway, "upstream unavailable")
		return
	}
	defer resp.Body.Close()

	metrics.RecordUpstreamRequest(route.Name, resp.StatusCode)
	relayResponse(w, resp)
}

// cloneRequest builds the upstream request: same method, path and body,
// hop-by-hop headers stripped, client identity attached.
func (rt *Router) cloneRequest(r *http.Request, route *Route) (*http.Request, error) {
	target := *route.Target
	target.Path = r.URL.Path
	target.RawQuery = r.URL.RawQuery

	upstream, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		return nil, err
	}

	upstream.Header = r.Header.Clone()
	for _, h := range hopHeaders {
		upstream.Header.Del(h)
	}

	clientIP := edge.ClientIPFromContext(r.Context())
	if clientIP == "" {
		clientIP = edge.ClientIP(r)
	}
	upstream.Header.Set("X-Forwarded-For", clientIP)
	upstream.Header.Set(EdgeStageHeader, "filtered")
	upstream.Host = route.Target.Host

	return upstream, nil
}

// relayResponse copies the upstream response to the client with hop and
// cookie headers stripped and security headers injected.
func relayResponse(w http.ResponseWriter, resp *http.Response) {
	h := w.Header()
	for key, values := range resp.Header {
		for _, v := range values {
			h.Add(key, v)
		}
	}
	for _, hop := range hopHeaders {
		h.Del(hop)
	}
	// Session state never transits the edge as cookies; tokens travel in
	// the response body.
	h.Del("Set-Cookie")

	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")

	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, message)
}
