// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package ceremony

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercekit/edgeauth/pkg/audit"
)

// authenticate runs a full assertion ceremony for the subject using the
// given authenticator.
func authenticate(t *testing.T, env *ceremonyEnv, subject string, auth *FakeAuthenticator) (*FinishResult, error) {
	t.Helper()
	ctx := context.Background()

	start, err := env.authn.Start(ctx, subject, RequestMeta{IP: "203.0.113.7"})
	require.NoError(t, err)

	cred, err := auth.Assert(challengeValue(t, start.Options.Response.Challenge), testOrigin)
	require.NoError(t, err)

	return env.authn.Finish(ctx, start.ChallengeID, cred, RequestMeta{IP: "203.0.113.7"})
}

func TestAuthenticationRoundTrip(t *testing.T) {
	env := newCeremonyEnv(t)
	ctx := context.Background()

	auth, enrolled := enrollDevice(t, env, "alice@example.com")

	result, err := authenticate(t, env, "alice@example.com", auth)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", result.Subject)
	assert.Equal(t, enrolled.Device.ID, result.Device.ID)

	identity, err := env.issuer.Validate(ctx, result.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", identity.Subject)

	dev, err := env.reg.FindByCredentialID(ctx, auth.CredentialID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), dev.SignCount)
	assert.False(t, dev.LastSeenAt.IsZero())
}

func TestAuthenticationAllowListsEnrolledCredentials(t *testing.T) {
	env := newCeremonyEnv(t)
	ctx := context.Background()

	auth, _ := enrollDevice(t, env, "alice@example.com")

	start, err := env.authn.Start(ctx, "alice@example.com", RequestMeta{})
	require.NoError(t, err)
	require.Len(t, start.Options.Response.AllowedCredentials, 1)
	assert.Equal(t, []byte(auth.CredentialID), []byte(start.Options.Response.AllowedCredentials[0].CredentialID))
	assert.Equal(t, testRPID, start.Options.Response.RelyingPartyID)
}

func TestAuthenticationStartHidesEnrollmentState(t *testing.T) {
	env := newCeremonyEnv(t)

	start, err := env.authn.Start(context.Background(), "nobody@example.com", RequestMeta{})
	require.NoError(t, err)
	assert.Empty(t, start.Options.Response.AllowedCredentials)
	assert.NotEmpty(t, start.Options.Response.Challenge)
}

func TestAuthenticationUnknownCredential(t *testing.T) {
	env := newCeremonyEnv(t)
	ctx := context.Background()

	start, err := env.authn.Start(ctx, "alice@example.com", RequestMeta{})
	require.NoError(t, err)

	stranger, err := NewFakeAuthenticator(testRPID)
	require.NoError(t, err)
	cred, err := stranger.Assert(challengeValue(t, start.Options.Response.Challenge), testOrigin)
	require.NoError(t, err)

	_, err = env.authn.Finish(ctx, start.ChallengeID, cred, RequestMeta{})
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	last := env.events.last()
	require.NotNil(t, last)
	assert.Equal(t, "device_not_found", last.ErrorCode)
}

func TestAuthenticationForeignOwner(t *testing.T) {
	env := newCeremonyEnv(t)
	ctx := context.Background()

	aliceAuth, _ := enrollDevice(t, env, "alice@example.com")

	start, err := env.authn.Start(ctx, "bob@example.com", RequestMeta{})
	require.NoError(t, err)
	cred, err := aliceAuth.Assert(challengeValue(t, start.Options.Response.Challenge), testOrigin)
	require.NoError(t, err)

	_, err = env.authn.Finish(ctx, start.ChallengeID, cred, RequestMeta{})
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestAuthenticationTamperedSignature(t *testing.T) {
	env := newCeremonyEnv(t)
	ctx := context.Background()

	auth, _ := enrollDevice(t, env, "alice@example.com")

	start, err := env.authn.Start(ctx, "alice@example.com", RequestMeta{})
	require.NoError(t, err)
	cred, err := auth.Assert(challengeValue(t, start.Options.Response.Challenge), testOrigin)
	require.NoError(t, err)

	cred.Response.Signature[len(cred.Response.Signature)-1] ^= 0xff

	_, err = env.authn.Finish(ctx, start.ChallengeID, cred, RequestMeta{})
	assert.ErrorIs(t, err, ErrSignatureVerification)

	// The failed assertion must not advance the stored counter.
	dev, err := env.reg.FindByCredentialID(ctx, auth.CredentialID)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), dev.SignCount)
}

func TestAuthenticationCounterReplay(t *testing.T) {
	env := newCeremonyEnv(t)

	auth, _ := enrollDevice(t, env, "alice@example.com")

	_, err := authenticate(t, env, "alice@example.com", auth)
	require.NoError(t, err)

	// A clone re-presenting the same counter value is rejected.
	auth.SetSignCount(auth.SignCount)
	_, err = authenticate(t, env, "alice@example.com", auth)
	assert.ErrorIs(t, err, ErrCounterReplay)

	last := env.events.last()
	require.NotNil(t, last)
	assert.Equal(t, audit.ActionAuthnFinish, last.Action)
	assert.Equal(t, "counter_replay_detected", last.ErrorCode)
}

func TestAuthenticationStaleCounter(t *testing.T) {
	env := newCeremonyEnv(t)

	auth, _ := enrollDevice(t, env, "alice@example.com")

	_, err := authenticate(t, env, "alice@example.com", auth)
	require.NoError(t, err)
	_, err = authenticate(t, env, "alice@example.com", auth)
	require.NoError(t, err)

	auth.SetSignCount(1)
	_, err = authenticate(t, env, "alice@example.com", auth)
	assert.ErrorIs(t, err, ErrCounterReplay)
}

func TestAuthenticationZeroCounterAuthenticator(t *testing.T) {
	env := newCeremonyEnv(t)

	// Some authenticators never implement the counter and always report
	// zero. Those must keep working indefinitely.
	auth, _ := enrollDevice(t, env, "alice@example.com")
	auth.SetSignCount(0)

	_, err := authenticate(t, env, "alice@example.com", auth)
	require.NoError(t, err)
	_, err = authenticate(t, env, "alice@example.com", auth)
	require.NoError(t, err)
}

func TestAuthenticationRejectsEnrollmentChallenge(t *testing.T) {
	env := newCeremonyEnv(t)
	ctx := context.Background()

	auth, _ := enrollDevice(t, env, "alice@example.com")

	start, err := env.enroll.Start(ctx, "alice@example.com", "Alice", RequestMeta{})
	require.NoError(t, err)
	cred, err := auth.Assert(challengeValue(t, start.Options.Response.Challenge), testOrigin)
	require.NoError(t, err)

	_, err = env.authn.Finish(ctx, start.ChallengeID, cred, RequestMeta{})
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestAuthenticationChallengeSingleUse(t *testing.T) {
	env := newCeremonyEnv(t)
	ctx := context.Background()

	auth, _ := enrollDevice(t, env, "alice@example.com")

	start, err := env.authn.Start(ctx, "alice@example.com", RequestMeta{})
	require.NoError(t, err)
	cred, err := auth.Assert(challengeValue(t, start.Options.Response.Challenge), testOrigin)
	require.NoError(t, err)

	_, err = env.authn.Finish(ctx, start.ChallengeID, cred, RequestMeta{})
	require.NoError(t, err)

	_, err = env.authn.Finish(ctx, start.ChallengeID, cred, RequestMeta{})
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}
