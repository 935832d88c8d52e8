// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package authapi

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/commercekit/edgeauth/internal/httpmw"
	"github.com/commercekit/edgeauth/pkg/correlation"
	"github.com/commercekit/edgeauth/pkg/metrics"
	"github.com/commercekit/edgeauth/pkg/token"
)

// Routes assembles the auth API router: ceremony endpoints, token
// endpoints and the health probe.
func Routes(h *Handler, issuer *token.Issuer, log *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(httpmw.Recovery(log))
	r.Use(correlation.Middleware)
	r.Use(httpmw.Logging(log))
	r.Use(metrics.Middleware)

	r.Get("/healthz", h.Healthz)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/enroll/start", h.EnrollStart)
		r.Post("/enroll/finish", h.EnrollFinish)
		r.Post("/authenticate/start", h.AuthenticateStart)
		r.Post("/authenticate/finish", h.AuthenticateFinish)
		r.Post("/token/refresh", h.TokenRefresh)

		r.Group(func(r chi.Router) {
			r.Use(RequireAuth(issuer))
			r.Post("/token/revoke", h.TokenRevoke)
		})
	})

	return r
}
