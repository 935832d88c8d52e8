// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package ceremony

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"

	"github.com/commercekit/edgeauth/pkg/audit"
	"github.com/commercekit/edgeauth/pkg/challenge"
	"github.com/commercekit/edgeauth/pkg/device"
	"github.com/commercekit/edgeauth/pkg/token"
)

// StartAuthenticationResult carries the challenge handle and the
// credential request options sent to the client.
type StartAuthenticationResult struct {
	ChallengeID string                        `json:"challengeId"`
	Options     *protocol.CredentialAssertion `json:"options"`
}

// Authentication orchestrates the assertion ceremony.
type Authentication struct {
	cfg        *Config
	challenges *challenge.Store
	devices    device.Registry
	tokens     *token.Issuer
	audit      *audit.Logger
	nowFn      func() time.Time
}

// NewAuthentication creates the authentication ceremony with its
// collaborators.
func NewAuthentication(cfg *Config, challenges *challenge.Store, devices device.Registry, tokens *token.Issuer, auditLog *audit.Logger) (*Authentication, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if challenges == nil || devices == nil || tokens == nil || auditLog == nil {
		return nil, fmt.Errorf("challenge store, device registry, token issuer and audit log are required")
	}
	return &Authentication{
		cfg:        cfg,
		challenges: challenges,
		devices:    devices,
		tokens:     tokens,
		audit:      auditLog,
		nowFn:      time.Now,
	}, nil
}

// Start creates an authentication challenge and returns assertion options
// listing the subject's enrolled credentials. A subject with no enrolled
// devices still receives options with an empty allow list so the endpoint
// does not reveal enrollment state.
func (a *Authentication) Start(ctx context.Context, subject string, meta RequestMeta) (*StartAuthenticationResult, error) {
	ch, err := a.challenges.Generate(ctx, challenge.KindAuthentication, subject)
	if err != nil {
		return nil, wrapError("generate authentication challenge", err)
	}

	enrolled, err := a.devices.ListByOwner(ctx, subject)
	if err != nil {
		return nil, wrapError("list enrolled devices", err)
	}
	allowed := make([]protocol.CredentialDescriptor, len(enrolled))
	for i, dev := range enrolled {
		allowed[i] = protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: dev.ID,
		}
	}

	value, err := ch.ValueBytes()
	if err != nil {
		return nil, wrapError("decode challenge value", err)
	}

	options := &protocol.CredentialAssertion{
		Response: protocol.PublicKeyCredentialRequestOptions{
			Challenge:          value,
			Timeout:            int(a.cfg.CeremonyTimeout.Milliseconds()),
			RelyingPartyID:     a.cfg.RPID,
			AllowedCredentials: allowed,
			UserVerification:   protocol.VerificationPreferred,
		},
	}

	a.audit.Record(ctx, &audit.Event{
		ActorSubject: subject,
		ActorIP:      meta.IP,
		UserAgent:    meta.UserAgent,
		Action:       audit.ActionAuthnStart,
		ResourceType: "challenge",
		ResourceID:   ch.ID,
		Success:      true,
	})

	return &StartAuthenticationResult{ChallengeID: ch.ID, Options: options}, nil
}

// Finish consumes the challenge and verifies the assertion: client data
// binding, signature over authenticatorData || SHA-256(clientDataJSON)
// under the enrolled public key, and signature counter advancement. The
// counter update is conditional so a concurrent assertion with the same
// counter value can win at most once.
func (a *Authentication) Finish(ctx context.Context, challengeID string, cred *protocol.ParsedCredentialAssertionData, meta RequestMeta) (*FinishResult, error) {
	ch, dev, err := a.finish(ctx, challengeID, cred)

	event := &audit.Event{
		ActorIP:      meta.IP,
		UserAgent:    meta.UserAgent,
		Action:       audit.ActionAuthnFinish,
		ResourceType: "challenge",
		ResourceID:   challengeID,
		Success:      err == nil,
		ErrorCode:    Code(err),
	}
	if ch != nil {
		event.ActorSubject = ch.Subject
	}
	if dev != nil {
		event.ActorDevice = dev.CredentialID()
	}
	a.audit.Record(ctx, event)

	if err != nil {
		return nil, err
	}

	tokens, err := a.tokens.Issue(ctx, ch.Subject, dev.CredentialID(), token.Context{IP: meta.IP, UserAgent: meta.UserAgent})
	if err != nil {
		return nil, wrapError("issue tokens", err)
	}

	return &FinishResult{
		Tokens:  tokens,
		Subject: ch.Subject,
		Device: DeviceSummary{
			ID:         dev.CredentialID(),
			DeviceType: dev.DeviceType,
			EnrolledAt: dev.EnrolledAt,
		},
	}, nil
}

func (a *Authentication) finish(ctx context.Context, challengeID string, cred *protocol.ParsedCredentialAssertionData) (*challenge.Challenge, *device.Device, error) {
	if cred == nil {
		return nil, nil, ErrMalformedCredential
	}

	ch, err := a.challenges.Consume(ctx, challengeID)
	if err != nil {
		return nil, nil, ErrChallengeNotFound
	}
	if ch.Kind != challenge.KindAuthentication {
		return ch, nil, ErrChallengeNotFound
	}

	dev, err := a.devices.FindByCredentialID(ctx, cred.RawID)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			return ch, nil, ErrDeviceNotFound
		}
		return ch, nil, wrapError("look up device", err)
	}
	// Credentials enrolled by one subject cannot assert for another.
	if dev.Owner != ch.Subject {
		return ch, nil, ErrDeviceNotFound
	}

	if err := verifyClientData(&cred.Response.CollectedClientData, protocol.AssertCeremony, a.cfg.RPOrigin, ch.Value); err != nil {
		return ch, dev, err
	}

	authData := cred.Response.AuthenticatorData
	if !authData.Flags.UserPresent() {
		return ch, dev, ErrMalformedCredential
	}

	if err := a.verifySignature(dev, cred); err != nil {
		return ch, dev, err
	}

	newCount := authData.Counter
	zeroCounter := dev.SignCount == 0 && newCount == 0
	if !zeroCounter && newCount <= dev.SignCount {
		return ch, dev, ErrCounterReplay
	}
	// The registry re-checks the condition under its own lock; a
	// concurrent duplicate that won the race surfaces here as a replay.
	if err := a.devices.UpdateSignCount(ctx, dev.ID, newCount, a.nowFn().UTC()); err != nil {
		if errors.Is(err, device.ErrCounterRegression) {
			return ch, dev, ErrCounterReplay
		}
		return ch, dev, wrapError("update signature counter", err)
	}
	dev.SignCount = newCount

	return ch, dev, nil
}

// verifySignature checks the assertion signature over the raw
// authenticator data concatenated with the SHA-256 hash of the raw
// clientDataJSON, exactly as the authenticator signed it.
func (a *Authentication) verifySignature(dev *device.Device, cred *protocol.ParsedCredentialAssertionData) error {
	key, err := webauthncose.ParsePublicKey(dev.PublicKey)
	if err != nil {
		return wrapError("parse stored public key", err)
	}

	clientDataHash := sha256.Sum256(cred.Raw.AssertionResponse.ClientDataJSON)
	signed := append([]byte{}, cred.Raw.AssertionResponse.AuthenticatorData...)
	signed = append(signed, clientDataHash[:]...)

	ok, err := webauthncose.VerifySignature(key, signed, cred.Response.Signature)
	if err != nil || !ok {
		return ErrSignatureVerification
	}
	return nil
}
