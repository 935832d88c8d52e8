// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package forward

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercekit/edgeauth/pkg/edge"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func newTestRouter(t *testing.T, authTarget, appTarget string) *Router {
	t.Helper()
	router, err := NewRouter(testLogger(),
		Route{Name: "auth", Prefix: "/auth/", Target: mustParse(t, authTarget)},
		Route{Name: "app", Prefix: "/", Target: mustParse(t, appTarget)},
	)
	require.NoError(t, err)
	return router
}

func TestRouterLongestPrefixMatch(t *testing.T) {
	router := newTestRouter(t, "http://auth.internal", "http://app.internal")

	assert.Equal(t, "auth", router.Match("/auth/enroll/start").Name)
	assert.Equal(t, "app", router.Match("/products").Name)
	assert.Equal(t, "app", router.Match("/").Name)
	assert.Equal(t, "app", router.Match("/authx").Name)
}

func TestRouterForwardsByPrefix(t *testing.T) {
	var authHits, appHits int
	authUpstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHits++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("auth says hi"))
	}))
	defer authUpstream.Close()
	appUpstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		appHits++
		w.WriteHeader(http.StatusOK)
	}))
	defer appUpstream.Close()

	router := newTestRouter(t, authUpstream.URL, appUpstream.URL)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/enroll/start", strings.NewReader("{}")))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "auth says hi", rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1, authHits)
	assert.Equal(t, 1, appHits)
}

func TestRouterAttachesClientIdentity(t *testing.T) {
	var gotXFF, gotStage, gotConnection string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotXFF = r.Header.Get("X-Forwarded-For")
		gotStage = r.Header.Get(EdgeStageHeader)
		gotConnection = r.Header.Get("Connection")
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream.URL, upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	req.Header.Set("Connection", "keep-alive")
	req = req.WithContext(edge.WithClientIP(req.Context(), "203.0.113.9"))

	router.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "203.0.113.9", gotXFF)
	assert.Equal(t, "filtered", gotStage)
	assert.Empty(t, gotConnection)
}

func TestRouterSanitizesResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Set-Cookie", "session=leaky; HttpOnly")
		w.Header().Set("X-Upstream-Detail", "kept")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream.URL, upstream.URL)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Header().Get("Set-Cookie"))
	assert.Equal(t, "kept", rec.Header().Get("X-Upstream-Detail"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestRouterUpstreamFailure(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close() // connection refused from here on

	router := newTestRouter(t, dead.URL, dead.URL)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"upstream unavailable"}`, rec.Body.String())
}

func TestRouterPreservesUpstreamErrors(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream.URL, upstream.URL)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))

	// Non-2xx from a live upstream is relayed, not retried.
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRouterRequiresRoutes(t *testing.T) {
	_, err := NewRouter(testLogger())
	assert.Error(t, err)

	_, err = NewRouter(testLogger(), Route{Name: "bad", Prefix: "/x/"})
	assert.Error(t, err)
}
