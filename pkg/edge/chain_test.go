// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package edge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercekit/edgeauth/pkg/audit"
	"github.com/commercekit/edgeauth/pkg/kv"
)

const browserUA = "Mozilla/5.0 (X11; Linux x86_64) Chrome/126.0"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// brokenStore fails every operation, simulating an unreachable backend.
type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("store down")
}
func (brokenStore) Put(context.Context, string, []byte, time.Duration) error {
	return errors.New("store down")
}
func (brokenStore) Delete(context.Context, string) error {
	return errors.New("store down")
}
func (brokenStore) GetDelete(context.Context, string) ([]byte, error) {
	return nil, errors.New("store down")
}
func (brokenStore) Increment(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("store down")
}

type blockRecorder struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (r *blockRecorder) Write(_ context.Context, e *audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func newTestChain(t *testing.T) (*Chain, *kv.MemoryStore, *blockRecorder) {
	t.Helper()
	store := kv.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	recorder := &blockRecorder{}
	auditLog := audit.NewLogger(discardLogger(), recorder)

	chain := NewChain(auditLog, discardLogger(),
		NewBotFilter(),
		NewDDoSFilter(store, 10*time.Second, 50, discardLogger()),
		NewRateLimitFilter(store, time.Minute, 100, discardLogger()),
	)
	return chain, store, recorder
}

func TestChainBlocksBotWithoutCounting(t *testing.T) {
	chain, store, recorder := newTestChain(t)

	decision := chain.Check(context.Background(), &Request{
		Method:    http.MethodGet,
		Path:      "/products",
		UserAgent: "Googlebot/2.1",
		ClientIP:  "1.2.3.4",
	})

	assert.False(t, decision.Allowed)
	assert.Equal(t, http.StatusForbidden, decision.Status)
	assert.Equal(t, StageBot, decision.Stage)
	// The counter stages never ran.
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, recorder.events)
}

func TestChainDDoSWindow(t *testing.T) {
	store := kv.NewMemoryStore()
	defer store.Close()

	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	store.SetClock(clock)

	ddos := NewDDoSFilter(store, 10*time.Second, 50, discardLogger())
	ddos.SetClock(clock)

	chain := NewChain(nil, discardLogger(), NewBotFilter(), ddos)
	req := &Request{Method: http.MethodGet, Path: "/", UserAgent: browserUA, ClientIP: "1.2.3.4"}

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		decision := chain.Check(ctx, req)
		require.True(t, decision.Allowed, "request %d should pass", i+1)
	}

	decision := chain.Check(ctx, req)
	assert.False(t, decision.Allowed)
	assert.Equal(t, http.StatusForbidden, decision.Status)
	assert.Equal(t, CodeDDoSBlocked, decision.Code)

	// A new window clears the slate.
	now = now.Add(11 * time.Second)
	decision = chain.Check(ctx, req)
	assert.True(t, decision.Allowed)

	// Other clients were never affected.
	other := &Request{Method: http.MethodGet, Path: "/", UserAgent: browserUA, ClientIP: "5.6.7.8"}
	assert.True(t, chain.Check(ctx, other).Allowed)
}

func TestChainRateLimitWindow(t *testing.T) {
	store := kv.NewMemoryStore()
	defer store.Close()

	limiter := NewRateLimitFilter(store, time.Minute, 5, discardLogger())
	chain := NewChain(nil, discardLogger(), limiter)
	req := &Request{UserAgent: browserUA, ClientIP: "9.9.9.9"}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.True(t, chain.Check(ctx, req).Allowed)
	}

	decision := chain.Check(ctx, req)
	assert.False(t, decision.Allowed)
	assert.Equal(t, http.StatusTooManyRequests, decision.Status)
	assert.Equal(t, CodeRateLimited, decision.Code)
}

func TestCounterStagesFailOpen(t *testing.T) {
	chain := NewChain(nil, discardLogger(),
		NewDDoSFilter(brokenStore{}, 10*time.Second, 50, discardLogger()),
		NewRateLimitFilter(brokenStore{}, time.Minute, 100, discardLogger()),
	)

	decision := chain.Check(context.Background(), &Request{UserAgent: browserUA, ClientIP: "1.2.3.4"})
	assert.True(t, decision.Allowed)
}

func TestMiddlewareAnswersPreflight(t *testing.T) {
	chain, _, _ := newTestChain(t)

	handler := chain.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the next handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/auth/enroll/start", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Methods"))
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestMiddlewareBlocksAndAudits(t *testing.T) {
	chain, _, recorder := newTestChain(t)

	handler := chain.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("blocked request must not reach the next handler")
	}))

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	req.Header.Set("User-Agent", "scrapy/2.11")
	req.Header.Set("X-Forwarded-For", "198.51.100.9")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"forbidden"}`, rec.Body.String())

	require.Len(t, recorder.events, 1)
	event := recorder.events[0]
	assert.Equal(t, audit.ActionEdgeBlock, event.Action)
	assert.Equal(t, "198.51.100.9", event.ActorIP)
	assert.Equal(t, CodeBotBlocked, event.ErrorCode)
	assert.Equal(t, StageBot, event.Details["stage"])
}

func TestMiddlewarePassesClientIPDownstream(t *testing.T) {
	chain, _, _ := newTestChain(t)

	var gotIP string
	handler := chain.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = ClientIPFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("X-Forwarded-For", "203.0.113.50, 10.0.0.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "203.0.113.50", gotIP)
}

func TestClientIPFallbacks(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:52345"
	assert.Equal(t, "192.0.2.10", ClientIP(r))

	r.Header.Set("X-Real-IP", "198.51.100.1")
	assert.Equal(t, "198.51.100.1", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.50")
	assert.Equal(t, "203.0.113.50", ClientIP(r))
}
