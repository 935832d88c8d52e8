// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package edge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/commercekit/edgeauth/pkg/kv"
)

// Stage names and audit codes for the counter stages.
const (
	StageDDoS      = "ddos"
	StageRateLimit = "ratelimit"

	CodeDDoSBlocked = "ddos_blocked"
	CodeRateLimited = "rate_limited"
)

// WindowCounter is a fixed-window per-IP counter stage. Each request
// increments the counter for the current window bucket; a count above
// the threshold blocks with the configured status. Store failures allow
// the request through and log the degradation.
type WindowCounter struct {
	store     kv.Store
	stage     string
	window    time.Duration
	threshold int64
	status    int
	code      string
	log       *slog.Logger
	nowFn     func() time.Time
}

// NewDDoSFilter creates the short-window burst counter. Defaults: a 10
// second window and a threshold of 50 requests, blocking with 403.
func NewDDoSFilter(store kv.Store, window time.Duration, threshold int64, log *slog.Logger) *WindowCounter {
	if window <= 0 {
		window = 10 * time.Second
	}
	if threshold <= 0 {
		threshold = 50
	}
	return newWindowCounter(store, StageDDoS, window, threshold, http.StatusForbidden, CodeDDoSBlocked, log)
}

// NewRateLimitFilter creates the sustained-rate counter. Defaults: a 60
// second window and a threshold of 100 requests, blocking with 429.
func NewRateLimitFilter(store kv.Store, window time.Duration, threshold int64, log *slog.Logger) *WindowCounter {
	if window <= 0 {
		window = time.Minute
	}
	if threshold <= 0 {
		threshold = 100
	}
	return newWindowCounter(store, StageRateLimit, window, threshold, http.StatusTooManyRequests, CodeRateLimited, log)
}

func newWindowCounter(store kv.Store, stage string, window time.Duration, threshold int64, status int, code string, log *slog.Logger) *WindowCounter {
	if log == nil {
		log = slog.Default()
	}
	return &WindowCounter{
		store:     store,
		stage:     stage,
		window:    window,
		threshold: threshold,
		status:    status,
		code:      code,
		log:       log,
		nowFn:     time.Now,
	}
}

// SetClock replaces the time source. Tests use it to roll windows over.
func (w *WindowCounter) SetClock(fn func() time.Time) {
	w.nowFn = fn
}

func (w *WindowCounter) Name() string { return w.stage }

func (w *WindowCounter) Check(ctx context.Context, req *Request) Decision {
	key := w.bucketKey(req.ClientIP)

	count, err := w.store.Increment(ctx, key, w.window)
	if err != nil {
		// Fail open: availability over strict enforcement.
		w.log.Warn("counter store unavailable, stage degraded",
			"stage", w.stage,
			"client_ip", req.ClientIP,
			"error", err)
		return Decision{Allowed: true, Stage: w.stage, Code: "degraded"}
	}

	if count > w.threshold {
		return Block(w.stage, w.status, w.code)
	}
	return Allow(w.stage)
}

// bucketKey derives the fixed-window key for the client. All requests
// landing in the same window share a bucket.
func (w *WindowCounter) bucketKey(clientIP string) string {
	bucket := w.nowFn().Unix() / int64(w.window/time.Second)
	return fmt.Sprintf("%s:%s:%d", w.stage, clientIP, bucket)
}
