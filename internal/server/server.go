// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package server wires configuration into the running edgeauth
// processes: the public gateway listener and the internal auth API
// listener, sharing one key-value backend and one audit pipeline.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/commercekit/edgeauth/internal/authapi"
	"github.com/commercekit/edgeauth/internal/config"
	"github.com/commercekit/edgeauth/internal/gateway"
	"github.com/commercekit/edgeauth/pkg/audit"
	"github.com/commercekit/edgeauth/pkg/ceremony"
	"github.com/commercekit/edgeauth/pkg/challenge"
	"github.com/commercekit/edgeauth/pkg/device"
	"github.com/commercekit/edgeauth/pkg/edge"
	"github.com/commercekit/edgeauth/pkg/forward"
	"github.com/commercekit/edgeauth/pkg/kv"
	"github.com/commercekit/edgeauth/pkg/token"
)

const shutdownTimeout = 30 * time.Second

// Server holds the two HTTP listeners and the resources they share.
type Server struct {
	cfg *config.Config
	log *slog.Logger

	gatewaySrv *http.Server
	authSrv    *http.Server

	memStore    *kv.MemoryStore
	redisClient redis.UniversalClient
	streamSink  *audit.StreamSink
}

// NewLogger builds the process logger from configuration.
func NewLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// New wires every component from the configuration.
func New(cfg *config.Config, log *slog.Logger) (*Server, error) {
	s := &Server{cfg: cfg, log: log}

	// Shared key-value backend: Redis when configured, otherwise the
	// in-process store for single-node deployments.
	var store kv.Store
	if cfg.Redis.Addr != "" {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = kv.NewRedisStore(s.redisClient, cfg.Redis.Prefix)
		log.Info("using redis key-value store", "addr", cfg.Redis.Addr)
	} else {
		s.memStore = kv.NewMemoryStore()
		store = s.memStore
		log.Warn("redis not configured, using in-process key-value store")
	}

	challenges := challenge.NewStore(store, time.Duration(cfg.RelyingParty.ChallengeTTLSeconds)*time.Second)
	registry := device.NewMemoryRegistry()

	issuer, err := token.NewIssuer(&token.Config{
		Secret:     []byte(cfg.Token.Secret),
		Issuer:     cfg.Token.Issuer,
		AccessTTL:  time.Duration(cfg.Token.AccessTTLMinutes) * time.Minute,
		RefreshTTL: time.Duration(cfg.Token.RefreshTTLMinutes) * time.Minute,
	}, store)
	if err != nil {
		return nil, fmt.Errorf("create token issuer: %w", err)
	}

	sinks := []audit.Sink{audit.NewSlogSink(log)}
	if cfg.Audit.StreamEnabled {
		sink, err := audit.NewRedisStreamSink(s.redisClient, cfg.Audit.StreamTopic)
		if err != nil {
			return nil, fmt.Errorf("create audit stream sink: %w", err)
		}
		s.streamSink = sink
		sinks = append(sinks, sink)
	}
	auditLog := audit.NewLogger(log, sinks...)

	ceremonyCfg := &ceremony.Config{
		RPID:          cfg.RelyingParty.ID,
		RPDisplayName: cfg.RelyingParty.DisplayName,
		RPOrigin:      cfg.RelyingParty.Origin,
		ChallengeTTL:  time.Duration(cfg.RelyingParty.ChallengeTTLSeconds) * time.Second,
	}
	enroll, err := ceremony.NewEnrollment(ceremonyCfg, challenges, registry, issuer, auditLog)
	if err != nil {
		return nil, fmt.Errorf("create enrollment ceremony: %w", err)
	}
	authn, err := ceremony.NewAuthentication(ceremonyCfg, challenges, registry, issuer, auditLog)
	if err != nil {
		return nil, fmt.Errorf("create authentication ceremony: %w", err)
	}

	handler := authapi.NewHandler(enroll, authn, issuer, auditLog, log)
	s.authSrv = &http.Server{
		Addr:              cfg.AuthAPI.ListenAddr,
		Handler:           authapi.Routes(handler, issuer, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	chain := edge.NewChain(auditLog, log,
		edge.NewBotFilter(),
		edge.NewDDoSFilter(store, time.Duration(cfg.Edge.DDoSWindowSeconds)*time.Second, cfg.Edge.DDoSThreshold, log),
		edge.NewRateLimitFilter(store, time.Duration(cfg.Edge.RateLimitWindowSeconds)*time.Second, cfg.Edge.RateLimitThreshold, log),
	)

	authURL, err := url.Parse(cfg.Upstreams.Auth)
	if err != nil {
		return nil, fmt.Errorf("parse auth upstream: %w", err)
	}
	appURL, err := url.Parse(cfg.Upstreams.App)
	if err != nil {
		return nil, fmt.Errorf("parse app upstream: %w", err)
	}
	router, err := forward.NewRouter(log,
		forward.Route{Name: "auth", Prefix: "/auth/", Target: authURL},
		forward.Route{Name: "app", Prefix: "/", Target: appURL},
	)
	if err != nil {
		return nil, fmt.Errorf("create forwarding router: %w", err)
	}

	s.gatewaySrv = &http.Server{
		Addr:              cfg.Gateway.ListenAddr,
		Handler:           gateway.Routes(chain, router, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Run starts both listeners and blocks until the context is cancelled
// or a listener fails, then shuts everything down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		s.log.Info("gateway listening", "addr", s.gatewaySrv.Addr)
		if err := s.gatewaySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("gateway server: %w", err)
		}
	}()
	go func() {
		s.log.Info("auth api listening", "addr", s.authSrv.Addr)
		if err := s.authSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("auth api server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		s.log.Info("shutdown signal received")
	case runErr = <-errCh:
		s.log.Error("listener failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.gatewaySrv.Shutdown(shutdownCtx); err != nil {
		s.log.Error("gateway shutdown error", "error", err)
	}
	if err := s.authSrv.Shutdown(shutdownCtx); err != nil {
		s.log.Error("auth api shutdown error", "error", err)
	}
	s.closeResources()

	return runErr
}

func (s *Server) closeResources() {
	if s.streamSink != nil {
		if err := s.streamSink.Close(); err != nil {
			s.log.Error("audit stream close error", "error", err)
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.log.Error("redis close error", "error", err)
		}
	}
	if s.memStore != nil {
		s.memStore.Close()
	}
}
