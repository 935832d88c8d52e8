// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package device tracks the authenticators enrolled for each subject: the
// credential public key and the monotonic signature counter used for
// cloned-authenticator detection.
package device

import (
	"context"
	"encoding/base64"
	"errors"
	"time"
)

// Sentinel errors for registry operations.
var (
	// ErrNotFound is returned when no device matches the credential ID.
	ErrNotFound = errors.New("device not found")

	// ErrAlreadyEnrolled is returned when a credential ID is enrolled twice.
	ErrAlreadyEnrolled = errors.New("device already enrolled")

	// ErrCounterRegression is returned by UpdateSignCount when the write
	// would not advance the stored counter. It means a concurrent
	// authentication already claimed the counter value, or the assertion
	// was a replay.
	ErrCounterRegression = errors.New("signature counter regression")
)

// Device is an enrolled authenticator. The ID is the credential ID assigned
// by the authenticator; PublicKey holds the COSE-encoded credential key.
type Device struct {
	ID         []byte    `json:"id"`
	Owner      string    `json:"owner"`
	PublicKey  []byte    `json:"public_key"`
	SignCount  uint32    `json:"sign_count"`
	DeviceType string    `json:"device_type,omitempty"`
	EnrolledAt time.Time `json:"enrolled_at"`
	LastSeenAt time.Time `json:"last_seen_at,omitempty"`
}

// CredentialID returns the device ID in the base64url form used on the wire.
func (d *Device) CredentialID() string {
	return base64.RawURLEncoding.EncodeToString(d.ID)
}

// Registry is the persistence contract for enrolled devices. Devices are
// never deleted by the authentication core; removal is an administrative
// operation owned by the surrounding application.
type Registry interface {
	// Save persists a newly enrolled device.
	// Returns ErrAlreadyEnrolled if the credential ID is taken.
	Save(ctx context.Context, dev *Device) error

	// FindByCredentialID returns the device with the given credential ID,
	// or ErrNotFound.
	FindByCredentialID(ctx context.Context, credentialID []byte) (*Device, error)

	// ListByOwner returns all devices enrolled for a subject, possibly empty.
	ListByOwner(ctx context.Context, owner string) ([]*Device, error)

	// UpdateSignCount conditionally advances a device's signature counter
	// and last-seen timestamp. The write succeeds only while the stored
	// counter is strictly lower than newCount, or both are exactly zero
	// (authenticators that never report a counter). Otherwise it returns
	// ErrCounterRegression without modifying the device. The condition is
	// evaluated atomically at write time, closing the window between a
	// ceremony's read of the counter and its update.
	UpdateSignCount(ctx context.Context, credentialID []byte, newCount uint32, seenAt time.Time) error
}
