// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package ceremony

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"math/big"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncbor"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
)

// FakeAuthenticator simulates a client-side authenticator. It produces
// attestation and assertion responses that pass the ceremony verification
// pipeline, and can be bent (wrong origin, stale counter, foreign key) to
// produce responses that must fail it.
type FakeAuthenticator struct {
	// CredentialID identifies the simulated credential.
	CredentialID []byte

	// AAGUID is the simulated authenticator model identifier.
	AAGUID []byte

	// SignCount is the authenticator-side signature counter. Assertions
	// increment it before signing unless pinned with SetSignCount.
	SignCount uint32

	// UserPresent controls the UP flag in authenticator data.
	UserPresent bool

	privateKey *ecdsa.PrivateKey
	rpIDHash   []byte
	pinned     bool
}

// NewFakeAuthenticator creates an authenticator bound to the relying
// party ID with a fresh P-256 key pair.
func NewFakeAuthenticator(rpID string) (*FakeAuthenticator, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	credID := make([]byte, 32)
	if _, err := rand.Read(credID); err != nil {
		return nil, err
	}
	aaguid := make([]byte, 16)
	if _, err := rand.Read(aaguid); err != nil {
		return nil, err
	}
	rpIDHash := sha256.Sum256([]byte(rpID))
	return &FakeAuthenticator{
		CredentialID: credID,
		AAGUID:       aaguid,
		UserPresent:  true,
		privateKey:   privateKey,
		rpIDHash:     rpIDHash[:],
	}, nil
}

// PublicKeyCOSE returns the credential public key in COSE encoding, as an
// authenticator embeds it in attested credential data.
func (f *FakeAuthenticator) PublicKeyCOSE() ([]byte, error) {
	pub := f.privateKey.Public().(*ecdsa.PublicKey)
	coseKey := map[int]interface{}{
		1:  2,                          // kty: EC2
		3:  int(webauthncose.AlgES256), // alg: ES256
		-1: 1,                          // crv: P-256
		-2: pub.X.Bytes(),
		-3: pub.Y.Bytes(),
	}
	return webauthncbor.Marshal(coseKey)
}

// SetSignCount pins the counter to a fixed value so subsequent assertions
// reuse it, simulating a cloned authenticator.
func (f *FakeAuthenticator) SetSignCount(count uint32) {
	f.SignCount = count
	f.pinned = true
}

// Attest produces a parsed credential creation response echoing the given
// challenge value (base64url string, as stored server-side) and origin.
func (f *FakeAuthenticator) Attest(challengeValue, origin string) (*protocol.ParsedCredentialCreationData, error) {
	return f.AttestWithType(challengeValue, origin, "webauthn.create")
}

// AttestWithType is Attest with an explicit clientData type, for
// exercising type-mismatch rejection.
func (f *FakeAuthenticator) AttestWithType(challengeValue, origin, ceremonyType string) (*protocol.ParsedCredentialCreationData, error) {
	rawAuthData, err := f.buildAuthenticatorData(true)
	if err != nil {
		return nil, err
	}
	clientDataJSON := buildClientDataJSON(ceremonyType, challengeValue, origin)

	attObjBytes, err := webauthncbor.Marshal(map[string]interface{}{
		"authData": rawAuthData,
		"fmt":      "none",
		"attStmt":  map[string]interface{}{},
	})
	if err != nil {
		return nil, err
	}

	pubKey, err := f.PublicKeyCOSE()
	if err != nil {
		return nil, err
	}

	credID := base64.RawURLEncoding.EncodeToString(f.CredentialID)
	return &protocol.ParsedCredentialCreationData{
		ParsedPublicKeyCredential: protocol.ParsedPublicKeyCredential{
			ParsedCredential: protocol.ParsedCredential{ID: credID, Type: "public-key"},
			RawID:            f.CredentialID,
		},
		Response: protocol.ParsedAttestationResponse{
			CollectedClientData: protocol.CollectedClientData{
				Type:      protocol.CeremonyType(ceremonyType),
				Challenge: challengeValue,
				Origin:    origin,
			},
			AttestationObject: protocol.AttestationObject{
				Format:       "none",
				AttStatement: map[string]interface{}{},
				AuthData: protocol.AuthenticatorData{
					RPIDHash: f.rpIDHash,
					Flags:    f.flags(true),
					Counter:  f.SignCount,
					AttData: protocol.AttestedCredentialData{
						AAGUID:              f.AAGUID,
						CredentialID:        f.CredentialID,
						CredentialPublicKey: pubKey,
					},
				},
			},
			Transports: []protocol.AuthenticatorTransport{protocol.USB},
		},
		Raw: protocol.CredentialCreationResponse{
			PublicKeyCredential: protocol.PublicKeyCredential{
				Credential: protocol.Credential{ID: credID, Type: "public-key"},
				RawID:      f.CredentialID,
			},
			AttestationResponse: protocol.AuthenticatorAttestationResponse{
				AuthenticatorResponse: protocol.AuthenticatorResponse{ClientDataJSON: clientDataJSON},
				AttestationObject:     attObjBytes,
				Transports:            []string{"usb"},
			},
		},
	}, nil
}

// Assert produces a parsed credential assertion echoing the challenge
// value and origin, signed over authenticatorData || SHA-256(clientData).
func (f *FakeAuthenticator) Assert(challengeValue, origin string) (*protocol.ParsedCredentialAssertionData, error) {
	return f.AssertWithType(challengeValue, origin, "webauthn.get")
}

// AssertWithType is Assert with an explicit clientData type.
func (f *FakeAuthenticator) AssertWithType(challengeValue, origin, ceremonyType string) (*protocol.ParsedCredentialAssertionData, error) {
	if !f.pinned {
		f.SignCount++
	}

	rawAuthData, err := f.buildAuthenticatorData(false)
	if err != nil {
		return nil, err
	}
	clientDataJSON := buildClientDataJSON(ceremonyType, challengeValue, origin)
	clientDataHash := sha256.Sum256(clientDataJSON)

	signed := append(append([]byte{}, rawAuthData...), clientDataHash[:]...)
	signature, err := f.sign(signed)
	if err != nil {
		return nil, err
	}

	credID := base64.RawURLEncoding.EncodeToString(f.CredentialID)
	return &protocol.ParsedCredentialAssertionData{
		ParsedPublicKeyCredential: protocol.ParsedPublicKeyCredential{
			ParsedCredential: protocol.ParsedCredential{ID: credID, Type: "public-key"},
			RawID:            f.CredentialID,
		},
		Response: protocol.ParsedAssertionResponse{
			CollectedClientData: protocol.CollectedClientData{
				Type:      protocol.CeremonyType(ceremonyType),
				Challenge: challengeValue,
				Origin:    origin,
			},
			AuthenticatorData: protocol.AuthenticatorData{
				RPIDHash: f.rpIDHash,
				Flags:    f.flags(false),
				Counter:  f.SignCount,
			},
			Signature: signature,
		},
		Raw: protocol.CredentialAssertionResponse{
			PublicKeyCredential: protocol.PublicKeyCredential{
				Credential: protocol.Credential{ID: credID, Type: "public-key"},
				RawID:      f.CredentialID,
			},
			AssertionResponse: protocol.AuthenticatorAssertionResponse{
				AuthenticatorResponse: protocol.AuthenticatorResponse{ClientDataJSON: clientDataJSON},
				AuthenticatorData:     rawAuthData,
				Signature:             signature,
			},
		},
	}, nil
}

func (f *FakeAuthenticator) flags(attested bool) protocol.AuthenticatorFlags {
	var flags byte
	if f.UserPresent {
		flags |= 0x01 // UP
	}
	flags |= 0x04 // UV
	if attested {
		flags |= 0x40 // AT
	}
	return protocol.AuthenticatorFlags(flags)
}

func (f *FakeAuthenticator) buildAuthenticatorData(attested bool) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(f.rpIDHash)
	buf.WriteByte(byte(f.flags(attested)))

	counter := make([]byte, 4)
	binary.BigEndian.PutUint32(counter, f.SignCount)
	buf.Write(counter)

	if attested {
		buf.Write(f.AAGUID)
		credIDLen := make([]byte, 2)
		binary.BigEndian.PutUint16(credIDLen, uint16(len(f.CredentialID)))
		buf.Write(credIDLen)
		buf.Write(f.CredentialID)
		pubKey, err := f.PublicKeyCOSE()
		if err != nil {
			return nil, err
		}
		buf.Write(pubKey)
	}

	return buf.Bytes(), nil
}

func buildClientDataJSON(ceremonyType, challengeValue, origin string) []byte {
	payload, _ := json.Marshal(struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
		Origin    string `json:"origin"`
	}{
		Type:      ceremonyType,
		Challenge: challengeValue,
		Origin:    origin,
	})
	return payload
}

func (f *FakeAuthenticator) sign(data []byte) ([]byte, error) {
	hash := sha256.Sum256(data)
	r, s, err := ecdsa.Sign(rand.Reader, f.privateKey, hash[:])
	if err != nil {
		return nil, err
	}
	return derSignature(r, s), nil
}

// derSignature encodes r and s as an ASN.1 DER ECDSA signature.
func derSignature(r, s *big.Int) []byte {
	rBytes := r.Bytes()
	sBytes := s.Bytes()
	if len(rBytes) > 0 && rBytes[0] >= 0x80 {
		rBytes = append([]byte{0x00}, rBytes...)
	}
	if len(sBytes) > 0 && sBytes[0] >= 0x80 {
		sBytes = append([]byte{0x00}, sBytes...)
	}

	seqLen := 2 + len(rBytes) + 2 + len(sBytes)
	sig := make([]byte, 0, 2+seqLen)
	sig = append(sig, 0x30, byte(seqLen))
	sig = append(sig, 0x02, byte(len(rBytes)))
	sig = append(sig, rBytes...)
	sig = append(sig, 0x02, byte(len(sBytes)))
	sig = append(sig, sBytes...)
	return sig
}
