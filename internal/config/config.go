// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package config loads the edgeauth server configuration from a YAML
// file with environment variable overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the complete edgeauth server configuration.
type Config struct {
	Gateway      GatewayConfig      `yaml:"gateway"`
	AuthAPI      AuthAPIConfig      `yaml:"authapi"`
	RelyingParty RelyingPartyConfig `yaml:"relying_party"`
	Upstreams    UpstreamsConfig    `yaml:"upstreams"`
	Redis        RedisConfig        `yaml:"redis"`
	Token        TokenConfig        `yaml:"token"`
	Edge         EdgeConfig         `yaml:"edge"`
	Audit        AuditConfig        `yaml:"audit"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// GatewayConfig configures the public edge listener.
type GatewayConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// AuthAPIConfig configures the ceremony endpoint listener.
type AuthAPIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// RelyingPartyConfig identifies this deployment to authenticators.
type RelyingPartyConfig struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	Origin      string `yaml:"origin"`

	// ChallengeTTLSeconds bounds how long a started ceremony stays
	// finishable.
	ChallengeTTLSeconds int `yaml:"challenge_ttl_seconds"`
}

// UpstreamsConfig names the next-hop origins for the forwarding router.
type UpstreamsConfig struct {
	// Auth is the origin serving the ceremony endpoints.
	Auth string `yaml:"auth"`

	// App is the origin serving everything else.
	App string `yaml:"app"`
}

// RedisConfig configures the shared key-value backend. An empty address
// selects the in-process memory store (single-node deployments, tests).
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// TokenConfig configures the token issuer.
type TokenConfig struct {
	Secret            string `yaml:"secret"`
	Issuer            string `yaml:"issuer"`
	AccessTTLMinutes  int    `yaml:"access_ttl_minutes"`
	RefreshTTLMinutes int    `yaml:"refresh_ttl_minutes"`
}

// EdgeConfig tunes the filter chain windows.
type EdgeConfig struct {
	DDoSWindowSeconds      int   `yaml:"ddos_window_seconds"`
	DDoSThreshold          int64 `yaml:"ddos_threshold"`
	RateLimitWindowSeconds int   `yaml:"ratelimit_window_seconds"`
	RateLimitThreshold     int64 `yaml:"ratelimit_threshold"`
}

// AuditConfig controls audit sinks beyond the local log.
type AuditConfig struct {
	// StreamEnabled publishes audit events to a Redis stream. Requires a
	// Redis address.
	StreamEnabled bool   `yaml:"stream_enabled"`
	StreamTopic   string `yaml:"stream_topic"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{ListenAddr: ":8080"},
		AuthAPI: AuthAPIConfig{ListenAddr: ":8081"},
		RelyingParty: RelyingPartyConfig{
			ID:                  "localhost",
			DisplayName:         "CommerceKit",
			Origin:              "http://localhost:8080",
			ChallengeTTLSeconds: 300,
		},
		Upstreams: UpstreamsConfig{
			Auth: "http://127.0.0.1:8081",
			App:  "http://127.0.0.1:3000",
		},
		Token: TokenConfig{
			Issuer:            "edgeauth",
			AccessTTLMinutes:  15,
			RefreshTTLMinutes: 60 * 24 * 30,
		},
		Edge: EdgeConfig{
			DDoSWindowSeconds:      10,
			DDoSThreshold:          50,
			RateLimitWindowSeconds: 60,
			RateLimitThreshold:     100,
		},
		Audit:   AuditConfig{StreamTopic: "edgeauth.security-events"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result. An empty path yields the defaults plus
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - config file path is provided by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if addr := os.Getenv("EDGEAUTH_GATEWAY_ADDR"); addr != "" {
		cfg.Gateway.ListenAddr = addr
	}
	if addr := os.Getenv("EDGEAUTH_AUTHAPI_ADDR"); addr != "" {
		cfg.AuthAPI.ListenAddr = addr
	}
	if origin := os.Getenv("EDGEAUTH_RP_ORIGIN"); origin != "" {
		cfg.RelyingParty.Origin = origin
	}
	if id := os.Getenv("EDGEAUTH_RP_ID"); id != "" {
		cfg.RelyingParty.ID = id
	}
	if addr := os.Getenv("EDGEAUTH_REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("EDGEAUTH_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if db := os.Getenv("EDGEAUTH_REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			cfg.Redis.DB = n
		}
	}
	if secret := os.Getenv("EDGEAUTH_TOKEN_SECRET"); secret != "" {
		cfg.Token.Secret = secret
	}
	if auth := os.Getenv("EDGEAUTH_UPSTREAM_AUTH"); auth != "" {
		cfg.Upstreams.Auth = auth
	}
	if app := os.Getenv("EDGEAUTH_UPSTREAM_APP"); app != "" {
		cfg.Upstreams.App = app
	}
	if level := os.Getenv("EDGEAUTH_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("EDGEAUTH_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
}

// Validate checks the configuration for values the server cannot start
// without.
func (c *Config) Validate() error {
	if c.Gateway.ListenAddr == "" {
		return fmt.Errorf("gateway.listen_addr is required")
	}
	if c.AuthAPI.ListenAddr == "" {
		return fmt.Errorf("authapi.listen_addr is required")
	}
	if c.RelyingParty.ID == "" {
		return fmt.Errorf("relying_party.id is required")
	}
	if err := validOrigin(c.RelyingParty.Origin); err != nil {
		return fmt.Errorf("relying_party.origin: %w", err)
	}
	if err := validOrigin(c.Upstreams.Auth); err != nil {
		return fmt.Errorf("upstreams.auth: %w", err)
	}
	if err := validOrigin(c.Upstreams.App); err != nil {
		return fmt.Errorf("upstreams.app: %w", err)
	}
	if len(c.Token.Secret) < 32 {
		return fmt.Errorf("token.secret must be at least 32 bytes")
	}
	if c.Audit.StreamEnabled && c.Redis.Addr == "" {
		return fmt.Errorf("audit.stream_enabled requires redis.addr")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not valid", c.Logging.Level)
	}
	return nil
}

func validOrigin(raw string) error {
	if raw == "" {
		return fmt.Errorf("value is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
