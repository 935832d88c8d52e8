// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package ceremony

import (
	"errors"
	"fmt"
)

// Sentinel errors for ceremony failures. The HTTP layer maps these to
// status codes but returns a generic body; the specific code is preserved
// only in the audit trail.
var (
	// ErrChallengeNotFound covers missing, expired and already-consumed
	// challenges. The three cases are deliberately indistinguishable.
	ErrChallengeNotFound = errors.New("challenge not found or expired")

	// ErrDeviceNotFound is returned when the asserted credential is not
	// enrolled.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrOriginMismatch is returned when clientDataJSON.origin does not
	// equal the configured relying-party origin.
	ErrOriginMismatch = errors.New("origin mismatch")

	// ErrTypeMismatch is returned when clientDataJSON.type is not the
	// expected ceremony type.
	ErrTypeMismatch = errors.New("ceremony type mismatch")

	// ErrChallengeMismatch is returned when the echoed challenge differs
	// from the stored value.
	ErrChallengeMismatch = errors.New("challenge value mismatch")

	// ErrSignatureVerification is returned when the assertion signature
	// does not verify under the device's stored public key.
	ErrSignatureVerification = errors.New("signature verification failed")

	// ErrCounterReplay is returned when the assertion's signature counter
	// did not advance. It signals a possible cloned authenticator.
	ErrCounterReplay = errors.New("signature counter replay detected")

	// ErrMalformedCredential is returned when the authenticator response
	// is structurally invalid (missing key, bad COSE encoding, absent
	// user-presence flag).
	ErrMalformedCredential = errors.New("malformed credential")
)

// Error wraps a ceremony failure with the operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// wrapError attaches an operation name to a non-nil error.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Code maps a ceremony error to the stable error code recorded in audit
// events. Unknown errors map to "internal_error".
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrChallengeNotFound):
		return "challenge_not_found_or_expired"
	case errors.Is(err, ErrDeviceNotFound):
		return "device_not_found"
	case errors.Is(err, ErrOriginMismatch):
		return "origin_mismatch"
	case errors.Is(err, ErrTypeMismatch):
		return "type_mismatch"
	case errors.Is(err, ErrChallengeMismatch):
		return "challenge_mismatch"
	case errors.Is(err, ErrSignatureVerification):
		return "signature_verification_failed"
	case errors.Is(err, ErrCounterReplay):
		return "counter_replay_detected"
	case errors.Is(err, ErrMalformedCredential):
		return "malformed_credential"
	default:
		return "internal_error"
	}
}
