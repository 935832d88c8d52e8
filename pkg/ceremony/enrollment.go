// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package ceremony

import (
	"context"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"

	"github.com/commercekit/edgeauth/pkg/audit"
	"github.com/commercekit/edgeauth/pkg/challenge"
	"github.com/commercekit/edgeauth/pkg/device"
	"github.com/commercekit/edgeauth/pkg/token"
)

// DeviceSummary is the client-facing view of an enrolled device.
type DeviceSummary struct {
	ID         string    `json:"id"` // credential ID, base64url
	DeviceType string    `json:"deviceType,omitempty"`
	EnrolledAt time.Time `json:"enrolledAt"`
}

// StartEnrollmentResult carries the challenge handle and the credential
// creation options sent to the client.
type StartEnrollmentResult struct {
	ChallengeID string                       `json:"challengeId"`
	Options     *protocol.CredentialCreation `json:"options"`
}

// FinishResult is returned by a successful ceremony finish.
type FinishResult struct {
	Tokens  *token.Tokens `json:"tokens"`
	Subject string        `json:"user"`
	Device  DeviceSummary `json:"device"`
}

// Enrollment orchestrates the credential registration ceremony.
type Enrollment struct {
	cfg        *Config
	challenges *challenge.Store
	devices    device.Registry
	tokens     *token.Issuer
	audit      *audit.Logger
	nowFn      func() time.Time
}

// NewEnrollment creates the enrollment ceremony with its collaborators.
func NewEnrollment(cfg *Config, challenges *challenge.Store, devices device.Registry, tokens *token.Issuer, auditLog *audit.Logger) (*Enrollment, error) {
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
	return &Enrollment{
		cfg:        cfg,
		challenges: challenges,
		devices:    devices,
		tokens:     tokens,
		audit:      auditLog,
		nowFn:      time.Now,
	}, nil
}

// Start creates an enrollment challenge and returns credential creation
// options. Already-enrolled authenticators are listed in
// excludeCredentials so the client refuses to re-enroll them.
func (e *Enrollment) Start(ctx context.Context, subject, displayName string, meta RequestMeta) (*StartEnrollmentResult, error) {
	ch, err := e.challenges.Generate(ctx, challenge.KindEnrollment, subject)
	if err != nil {
		return nil, wrapError("generate enrollment challenge", err)
	}

	existing, err := e.devices.ListByOwner(ctx, subject)
	if err != nil {
		return nil, wrapError("list enrolled devices", err)
	}
	exclude := make([]protocol.CredentialDescriptor, len(existing))
	for i, dev := range existing {
		exclude[i] = protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: dev.ID,
		}
	}

	value, err := ch.ValueBytes()
	if err != nil {
		return nil, wrapError("decode challenge value", err)
	}

	if displayName == "" {
		displayName = subject
	}

	options := &protocol.CredentialCreation{
		Response: protocol.PublicKeyCredentialCreationOptions{
			Challenge: value,
			RelyingParty: protocol.RelyingPartyEntity{
				CredentialEntity: protocol.CredentialEntity{Name: e.cfg.RPDisplayName},
				ID:               e.cfg.RPID,
			},
			User: protocol.UserEntity{
				CredentialEntity: protocol.CredentialEntity{Name: subject},
				DisplayName:      displayName,
				ID:               protocol.URLEncodedBase64(userHandle(subject)),
			},
			Parameters: []protocol.CredentialParameter{
				{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
				{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
			},
			Timeout:               int(e.cfg.CeremonyTimeout.Milliseconds()),
			CredentialExcludeList: exclude,
			Attestation:           protocol.PreferNoAttestation,
		},
	}

	e.audit.Record(ctx, &audit.Event{
		ActorSubject: subject,
		ActorIP:      meta.IP,
		UserAgent:    meta.UserAgent,
		Action:       audit.ActionEnrollStart,
		ResourceType: "challenge",
		ResourceID:   ch.ID,
		Success:      true,
	})

	return &StartEnrollmentResult{ChallengeID: ch.ID, Options: options}, nil
}

// Finish consumes the challenge and verifies the attestation response.
// On success the new device is persisted with the authenticator's initial
// signature counter and a token pair is issued. Every failure is audited
// with its specific code before the device would have been persisted.
func (e *Enrollment) Finish(ctx context.Context, challengeID string, cred *protocol.ParsedCredentialCreationData, meta RequestMeta) (*FinishResult, error) {
	ch, dev, err := e.finish(ctx, challengeID, cred)

	event := &audit.Event{
		ActorIP:      meta.IP,
		UserAgent:    meta.UserAgent,
		Action:       audit.ActionEnrollFinish,
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
	e.audit.Record(ctx, event)

	if err != nil {
		return nil, err
	}

	tokens, err := e.tokens.Issue(ctx, ch.Subject, dev.CredentialID(), token.Context{IP: meta.IP, UserAgent: meta.UserAgent})
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

func (e *Enrollment) finish(ctx context.Context, challengeID string, cred *protocol.ParsedCredentialCreationData) (*challenge.Challenge, *device.Device, error) {
	if cred == nil {
		return nil, nil, ErrMalformedCredential
	}

	ch, err := e.challenges.Consume(ctx, challengeID)
	if err != nil {
		return nil, nil, ErrChallengeNotFound
	}
	if ch.Kind != challenge.KindEnrollment {
		return ch, nil, ErrChallengeNotFound
	}

	if err := verifyClientData(&cred.Response.CollectedClientData, protocol.CreateCeremony, e.cfg.RPOrigin, ch.Value); err != nil {
		return ch, nil, err
	}

	// Attestation policy is "none": the authenticator data yields the
	// credential key and initial counter; no attestation statement chain
	// is evaluated.
	authData := cred.Response.AttestationObject.AuthData
	if !authData.Flags.UserPresent() {
		return ch, nil, ErrMalformedCredential
	}
	if len(authData.AttData.CredentialID) == 0 || len(authData.AttData.CredentialPublicKey) == 0 {
		return ch, nil, ErrMalformedCredential
	}
	// Reject keys the verifier could never use before persisting them.
	if _, err := webauthncose.ParsePublicKey(authData.AttData.CredentialPublicKey); err != nil {
		return ch, nil, ErrMalformedCredential
	}

	dev := &device.Device{
		ID:         authData.AttData.CredentialID,
		Owner:      ch.Subject,
		PublicKey:  authData.AttData.CredentialPublicKey,
		SignCount:  authData.Counter,
		DeviceType: deviceType(cred.Response.Transports),
		EnrolledAt: e.nowFn().UTC(),
	}
	if err := e.devices.Save(ctx, dev); err != nil {
		return ch, nil, wrapError("persist device", err)
	}

	return ch, dev, nil
}

// verifyClientData checks the collected client data against the ceremony
// type, the configured origin and the stored challenge value.
func verifyClientData(cd *protocol.CollectedClientData, want protocol.CeremonyType, origin, challengeValue string) error {
	if cd.Type != want {
		return ErrTypeMismatch
	}
	if cd.Origin != origin {
		return ErrOriginMismatch
	}
	if cd.Challenge != challengeValue {
		return ErrChallengeMismatch
	}
	return nil
}

func deviceType(transports []protocol.AuthenticatorTransport) string {
	for _, t := range transports {
		if t == protocol.Internal {
			return "platform"
		}
	}
	if len(transports) > 0 {
		return "cross-platform"
	}
	return ""
}
