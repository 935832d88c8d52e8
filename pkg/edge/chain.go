// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package edge

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/commercekit/edgeauth/pkg/audit"
	"github.com/commercekit/edgeauth/pkg/metrics"
)

// Chain runs filter stages in order over each inbound request. The
// first block terminates the chain; OPTIONS requests are answered
// directly with the CORS preflight allow-list before any stage runs.
type Chain struct {
	stages []Stage
	audit  *audit.Logger
	log    *slog.Logger

	allowOrigin string
}

// NewChain assembles the filter chain. Stages run in the given order.
func NewChain(auditLog *audit.Logger, log *slog.Logger, stages ...Stage) *Chain {
	if log == nil {
		log = slog.Default()
	}
	return &Chain{
		stages:      stages,
		audit:       auditLog,
		log:         log,
		allowOrigin: "*",
	}
}

// SetAllowOrigin overrides the Access-Control-Allow-Origin value used
// for preflight responses.
func (c *Chain) SetAllowOrigin(origin string) {
	c.allowOrigin = origin
}

// Check runs every stage until one blocks. The returned decision is the
// blocking stage's, or an allow when all stages pass.
func (c *Chain) Check(ctx context.Context, req *Request) Decision {
	for _, stage := range c.stages {
		decision := stage.Check(ctx, req)
		if !decision.Allowed {
			metrics.RecordEdgeDecision(stage.Name(), metrics.OutcomeBlocked)
			return decision
		}
		if decision.Code == "degraded" {
			metrics.RecordEdgeDecision(stage.Name(), metrics.OutcomeDegraded)
		} else {
			metrics.RecordEdgeDecision(stage.Name(), metrics.OutcomeAllowed)
		}
	}
	return Decision{Allowed: true, Stage: "chain"}
}

// Middleware adapts the chain into HTTP middleware. It derives the
// client IP, stores it in the request context for downstream handlers,
// and writes terminal responses for preflights and blocks.
func (c *Chain) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			c.preflight(w)
			return
		}

		clientIP := ClientIP(r)
		req := &Request{
			Method:    r.Method,
			Path:      r.URL.Path,
			UserAgent: r.Header.Get("User-Agent"),
			ClientIP:  clientIP,
		}

		ctx := WithClientIP(r.Context(), clientIP)
		decision := c.Check(ctx, req)
		if !decision.Allowed {
			c.block(ctx, w, req, decision)
			return
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (c *Chain) preflight(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", c.allowOrigin)
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Correlation-ID")
	h.Set("Access-Control-Max-Age", "3600")
	w.WriteHeader(http.StatusNoContent)
}

func (c *Chain) block(ctx context.Context, w http.ResponseWriter, req *Request, decision Decision) {
	c.log.Info("request blocked at edge",
		"stage", decision.Stage,
		"code", decision.Code,
		"client_ip", req.ClientIP,
		"path", req.Path)

	if c.audit != nil {
		c.audit.Record(ctx, &audit.Event{
			ActorIP:      req.ClientIP,
			UserAgent:    req.UserAgent,
			Action:       audit.ActionEdgeBlock,
			ResourceType: "request",
			ResourceID:   req.Path,
			Success:      false,
			ErrorCode:    decision.Code,
			Details:      map[string]string{"stage": decision.Stage},
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(decision.Status)
	if decision.Status == http.StatusTooManyRequests {
		_, _ = w.Write([]byte(`{"error":"rate_limited"}`))
		return
	}
	_, _ = w.Write([]byte(`{"error":"forbidden"}`))
}
