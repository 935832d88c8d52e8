// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package ceremony

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercekit/edgeauth/pkg/audit"
	"github.com/commercekit/edgeauth/pkg/challenge"
	"github.com/commercekit/edgeauth/pkg/device"
	"github.com/commercekit/edgeauth/pkg/kv"
	"github.com/commercekit/edgeauth/pkg/token"
)

const (
	testRPID   = "shop.example.com"
	testOrigin = "https://shop.example.com"
)

type ceremonyEnv struct {
	enroll *Enrollment
	authn  *Authentication
	store  *challenge.Store
	issuer *token.Issuer
	events *captureSink
	reg    device.Registry
}

// captureSink records audit events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (c *captureSink) Write(_ context.Context, e *audit.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *captureSink) last() *audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

func newCeremonyEnv(t *testing.T) *ceremonyEnv {
	t.Helper()

	mem := kv.NewMemoryStore()
	t.Cleanup(func() { mem.Close() })

	challenges := challenge.NewStore(mem, 5*time.Minute)
	registry := device.NewMemoryRegistry()

	issuer, err := token.NewIssuer(&token.Config{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
	}, mem)
	require.NoError(t, err)

	events := &captureSink{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditLog := audit.NewLogger(log, events)

	cfg := &Config{
		RPID:          testRPID,
		RPDisplayName: "Example Shop",
		RPOrigin:      testOrigin,
	}
	enroll, err := NewEnrollment(cfg, challenges, registry, issuer, auditLog)
	require.NoError(t, err)
	authn, err := NewAuthentication(cfg, challenges, registry, issuer, auditLog)
	require.NoError(t, err)

	return &ceremonyEnv{
		enroll: enroll,
		authn:  authn,
		store:  challenges,
		issuer: issuer,
		events: events,
		reg:    registry,
	}
}

func challengeValue(t *testing.T, raw []byte) string {
	t.Helper()
	require.NotEmpty(t, raw)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// enrollDevice runs a full enrollment for the subject and returns the
// authenticator and the finish result.
func enrollDevice(t *testing.T, env *ceremonyEnv, subject string) (*FakeAuthenticator, *FinishResult) {
	t.Helper()
	ctx := context.Background()

	start, err := env.enroll.Start(ctx, subject, subject, RequestMeta{IP: "203.0.113.7"})
	require.NoError(t, err)

	auth, err := NewFakeAuthenticator(testRPID)
	require.NoError(t, err)

	cred, err := auth.Attest(challengeValue(t, start.Options.Response.Challenge), testOrigin)
	require.NoError(t, err)

	result, err := env.enroll.Finish(ctx, start.ChallengeID, cred, RequestMeta{IP: "203.0.113.7"})
	require.NoError(t, err)
	return auth, result
}

func TestEnrollmentRoundTrip(t *testing.T) {
	env := newCeremonyEnv(t)
	ctx := context.Background()

	auth, result := enrollDevice(t, env, "alice@example.com")

	require.NotNil(t, result.Tokens)
	assert.Equal(t, "alice@example.com", result.Subject)
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(auth.CredentialID), result.Device.ID)

	identity, err := env.issuer.Validate(ctx, result.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", identity.Subject)
	assert.Equal(t, result.Device.ID, identity.DeviceID)

	dev, err := env.reg.FindByCredentialID(ctx, auth.CredentialID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", dev.Owner)
	assert.Equal(t, uint32(0), dev.SignCount)
	assert.NotEmpty(t, dev.PublicKey)

	last := env.events.last()
	require.NotNil(t, last)
	assert.Equal(t, audit.ActionEnrollFinish, last.Action)
	assert.True(t, last.Success)
}

func TestEnrollmentChallengeSingleUse(t *testing.T) {
	env := newCeremonyEnv(t)
	ctx := context.Background()

	start, err := env.enroll.Start(ctx, "alice@example.com", "Alice", RequestMeta{})
	require.NoError(t, err)

	auth, err := NewFakeAuthenticator(testRPID)
	require.NoError(t, err)
	cred, err := auth.Attest(challengeValue(t, start.Options.Response.Challenge), testOrigin)
	require.NoError(t, err)

	_, err = env.enroll.Finish(ctx, start.ChallengeID, cred, RequestMeta{})
	require.NoError(t, err)

	_, err = env.enroll.Finish(ctx, start.ChallengeID, cred, RequestMeta{})
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestEnrollmentOriginMismatch(t *testing.T) {
	env := newCeremonyEnv(t)
	ctx := context.Background()

	start, err := env.enroll.Start(ctx, "alice@example.com", "Alice", RequestMeta{})
	require.NoError(t, err)

	auth, err := NewFakeAuthenticator(testRPID)
	require.NoError(t, err)
	cred, err := auth.Attest(challengeValue(t, start.Options.Response.Challenge), "https://evil.example.net")
	require.NoError(t, err)

	_, err = env.enroll.Finish(ctx, start.ChallengeID, cred, RequestMeta{})
	assert.ErrorIs(t, err, ErrOriginMismatch)

	last := env.events.last()
	require.NotNil(t, last)
	assert.False(t, last.Success)
	assert.Equal(t, "origin_mismatch", last.ErrorCode)
}

func TestEnrollmentTypeMismatch(t *testing.T) {
	env := newCeremonyEnv(t)
	ctx := context.Background()

	start, err := env.enroll.Start(ctx, "alice@example.com", "Alice", RequestMeta{})
	require.NoError(t, err)

	auth, err := NewFakeAuthenticator(testRPID)
	require.NoError(t, err)
	cred, err := auth.AttestWithType(challengeValue(t, start.Options.Response.Challenge), testOrigin, "webauthn.get")
	require.NoError(t, err)

	_, err = env.enroll.Finish(ctx, start.ChallengeID, cred, RequestMeta{})
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestEnrollmentChallengeMismatch(t *testing.T) {
	env := newCeremonyEnv(t)
	ctx := context.Background()

	start, err := env.enroll.Start(ctx, "alice@example.com", "Alice", RequestMeta{})
	require.NoError(t, err)

	auth, err := NewFakeAuthenticator(testRPID)
	require.NoError(t, err)
	cred, err := auth.Attest(base64.RawURLEncoding.EncodeToString([]byte("some other challenge value!!")), testOrigin)
	require.NoError(t, err)

	_, err = env.enroll.Finish(ctx, start.ChallengeID, cred, RequestMeta{})
	assert.ErrorIs(t, err, ErrChallengeMismatch)
}

func TestEnrollmentRejectsAuthenticationChallenge(t *testing.T) {
	env := newCeremonyEnv(t)
	ctx := context.Background()

	enrollDevice(t, env, "alice@example.com")

	start, err := env.authn.Start(ctx, "alice@example.com", RequestMeta{})
	require.NoError(t, err)

	auth, err := NewFakeAuthenticator(testRPID)
	require.NoError(t, err)
	cred, err := auth.Attest(challengeValue(t, start.Options.Response.Challenge), testOrigin)
	require.NoError(t, err)

	_, err = env.enroll.Finish(ctx, start.ChallengeID, cred, RequestMeta{})
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestEnrollmentExcludesEnrolledCredentials(t *testing.T) {
	env := newCeremonyEnv(t)
	ctx := context.Background()

	auth, _ := enrollDevice(t, env, "alice@example.com")

	start, err := env.enroll.Start(ctx, "alice@example.com", "Alice", RequestMeta{})
	require.NoError(t, err)
	require.Len(t, start.Options.Response.CredentialExcludeList, 1)
	assert.Equal(t, []byte(auth.CredentialID), []byte(start.Options.Response.CredentialExcludeList[0].CredentialID))
}

func TestEnrollmentNilCredential(t *testing.T) {
	env := newCeremonyEnv(t)

	_, err := env.enroll.Finish(context.Background(), "no-such-challenge", nil, RequestMeta{})
	assert.ErrorIs(t, err, ErrMalformedCredential)
}
