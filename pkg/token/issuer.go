// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package token mints and validates session tokens. Every token carries an
// HMAC integrity tag verifiable without a store lookup; only revocation
// requires one. Revoked sessions are recorded in the key-value store under
// a TTL matching the refresh lifetime, after which the tokens have expired
// on their own.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/commercekit/edgeauth/pkg/kv"
)

// Sentinel errors for token validation.
var (
	// ErrInvalid is returned for tokens with a bad signature, wrong
	// audience, or malformed claims.
	ErrInvalid = errors.New("invalid token")

	// ErrExpired is returned for structurally valid tokens past expiry.
	ErrExpired = errors.New("token expired")

	// ErrRevoked is returned when the token's session has been revoked.
	ErrRevoked = errors.New("token revoked")
)

// Default token lifetimes.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// minSecretLen is the minimum HMAC secret length in bytes.
const minSecretLen = 32

// Context carries per-request metadata recorded at issuance.
type Context struct {
	IP        string
	UserAgent string
}

// Tokens is the pair handed to a client after a successful ceremony.
type Tokens struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	SessionID    string    `json:"sessionId"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Identity is the result of validating a token: who the bearer is and on
// which device and session they authenticated.
type Identity struct {
	Subject   string
	DeviceID  string
	SessionID string
	Role      string
}

// Config configures an Issuer.
type Config struct {
	// Secret is the HMAC signing secret (required, at least 32 bytes).
	Secret []byte

	// Issuer is the iss claim (default "edgeauth").
	Issuer string

	// AccessTTL is the access-token lifetime (default 15 minutes).
	AccessTTL time.Duration

	// RefreshTTL is the refresh-token lifetime (default 30 days).
	RefreshTTL time.Duration
}

// Issuer mints, validates and revokes session tokens.
type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	store      kv.Store
	nowFn      func() time.Time
}

// NewIssuer creates a token issuer backed by the given store for
// revocations.
func NewIssuer(cfg *Config, store kv.Store) (*Issuer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if len(cfg.Secret) < minSecretLen {
		return nil, fmt.Errorf("signing secret must be at least %d bytes", minSecretLen)
	}
	if store == nil {
		return nil, fmt.Errorf("revocation store is required")
	}

	issuer := cfg.Issuer
	if issuer == "" {
		issuer = "edgeauth"
	}
	accessTTL := cfg.AccessTTL
	if accessTTL == 0 {
		accessTTL = DefaultAccessTTL
	}
	refreshTTL := cfg.RefreshTTL
	if refreshTTL == 0 {
		refreshTTL = DefaultRefreshTTL
	}

	return &Issuer{
		secret:     cfg.Secret,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		store:      store,
		nowFn:      time.Now,
	}, nil
}

// Issue mints a fresh access/refresh pair for a new session.
func (i *Issuer) Issue(ctx context.Context, subject, deviceID string, meta Context) (*Tokens, error) {
	return i.issueSession(subject, deviceID, "user")
}

// IssueWithRole mints a token pair carrying an explicit role claim.
func (i *Issuer) IssueWithRole(ctx context.Context, subject, deviceID, role string) (*Tokens, error) {
	return i.issueSession(subject, deviceID, role)
}

func (i *Issuer) issueSession(subject, deviceID, role string) (*Tokens, error) {
	now := i.nowFn()
	sessionID := uuid.NewString()
	accessExpiry := now.Add(i.accessTTL)

	access := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			ID:        sessionID,
			Audience:  jwt.ClaimStrings{AudienceAccess},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExpiry),
		},
		DeviceID: deviceID,
		Role:     role,
	})
	accessToken, err := access.SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			ID:        sessionID,
			Audience:  jwt.ClaimStrings{AudienceRefresh},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.refreshTTL)),
		},
		DeviceID: deviceID,
	})
	refreshToken, err := refresh.SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &Tokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		SessionID:    sessionID,
		ExpiresAt:    accessExpiry,
	}, nil
}

// Validate verifies an access token's integrity tag and expiry, then checks
// the revocation set.
func (i *Issuer) Validate(ctx context.Context, tokenString string) (*Identity, error) {
	var claims AccessClaims
	if err := i.parse(tokenString, AudienceAccess, &claims); err != nil {
		return nil, err
	}
	if err := i.checkRevoked(ctx, claims.ID); err != nil {
		return nil, err
	}
	return &Identity{
		Subject:   claims.Subject,
		DeviceID:  claims.DeviceID,
		SessionID: claims.ID,
		Role:      claims.Role,
	}, nil
}

// ValidateRefresh verifies a refresh token and its session's revocation
// status.
func (i *Issuer) ValidateRefresh(ctx context.Context, tokenString string) (*Identity, error) {
	var claims RefreshClaims
	if err := i.parse(tokenString, AudienceRefresh, &claims); err != nil {
		return nil, err
	}
	if err := i.checkRevoked(ctx, claims.ID); err != nil {
		return nil, err
	}
	return &Identity{
		Subject:   claims.Subject,
		DeviceID:  claims.DeviceID,
		SessionID: claims.ID,
	}, nil
}

// Refresh rotates a session: the old session is revoked and a new token
// pair is minted for the same subject and device.
func (i *Issuer) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	ident, err := i.ValidateRefresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if err := i.Revoke(ctx, ident.SessionID); err != nil {
		return nil, err
	}
	return i.issueSession(ident.Subject, ident.DeviceID, "user")
}

// Revoke marks a session as revoked. Both tokens of the session fail
// validation immediately, regardless of their expiry.
func (i *Issuer) Revoke(ctx context.Context, sessionID string) error {
	if err := i.store.Put(ctx, revocationKey(sessionID), []byte("1"), i.refreshTTL); err != nil {
		return fmt.Errorf("record revocation: %w", err)
	}
	return nil
}

func (i *Issuer) parse(tokenString, audience string, claims jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return i.secret, nil
		},
		jwt.WithAudience(audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(func() time.Time { return i.nowFn() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpired
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !parsed.Valid {
		return ErrInvalid
	}
	return nil
}

func (i *Issuer) checkRevoked(ctx context.Context, sessionID string) error {
	_, err := i.store.Get(ctx, revocationKey(sessionID))
	if err == nil {
		return ErrRevoked
	}
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil
	}
	return fmt.Errorf("check revocation: %w", err)
}

func revocationKey(sessionID string) string {
	return "revoked:" + sessionID
}
