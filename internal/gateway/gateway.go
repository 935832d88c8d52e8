// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package gateway assembles the public edge listener: every inbound
// request passes the filter chain and, if allowed, is forwarded to its
// next-hop origin. The metrics and health endpoints are served locally
// and never forwarded.
package gateway

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/commercekit/edgeauth/internal/httpmw"
	"github.com/commercekit/edgeauth/pkg/correlation"
	"github.com/commercekit/edgeauth/pkg/edge"
	"github.com/commercekit/edgeauth/pkg/forward"
	"github.com/commercekit/edgeauth/pkg/metrics"
)

// Routes builds the gateway handler: recovery, correlation and logging
// middleware wrap the filter chain, which wraps the forwarding router.
func Routes(chain *edge.Chain, router *forward.Router, log *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(httpmw.Recovery(log))
	r.Use(correlation.Middleware)
	r.Use(httpmw.Logging(log))
	r.Use(metrics.Middleware)

	// Local endpoints bypass the filter chain so probes and scrapers
	// cannot be rate limited out.
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	filtered := chain.Middleware(router)
	r.NotFound(filtered.ServeHTTP)
	r.MethodNotAllowed(filtered.ServeHTTP)

	return r
}
