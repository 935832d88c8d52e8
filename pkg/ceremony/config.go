// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package ceremony orchestrates the passwordless enrollment and
// authentication ceremonies: challenge issuance, client data and signature
// verification, replay-counter enforcement, token issuance and auditing.
//
// Verification is fail-closed: any ambiguity in the authenticator response
// is a ceremony failure, audited with a specific error code and reported to
// the client generically.
package ceremony

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Config binds ceremonies to a relying party.
type Config struct {
	// RPID is the relying party identifier, typically the site domain.
	RPID string `yaml:"rp_id"`

	// RPDisplayName is the human-readable relying party name.
	RPDisplayName string `yaml:"rp_display_name"`

	// RPOrigin is the exact origin clients must echo in clientDataJSON.
	RPOrigin string `yaml:"rp_origin"`

	// ChallengeTTL bounds how long a ceremony may take (default 5 minutes).
	ChallengeTTL time.Duration `yaml:"challenge_ttl"`

	// CeremonyTimeout is the timeout hint sent to clients, in milliseconds
	// on the wire (default 60 seconds).
	CeremonyTimeout time.Duration `yaml:"ceremony_timeout"`
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.RPID == "" {
		return fmt.Errorf("RPID is required")
	}
	if c.RPDisplayName == "" {
		return fmt.Errorf("RPDisplayName is required")
	}
	if c.RPOrigin == "" {
		return fmt.Errorf("RPOrigin is required")
	}
	return nil
}

// SetDefaults fills unset optional fields.
func (c *Config) SetDefaults() {
	if c.ChallengeTTL == 0 {
		c.ChallengeTTL = 5 * time.Minute
	}
	if c.CeremonyTimeout == 0 {
		c.CeremonyTimeout = 60 * time.Second
	}
}

// userHandle derives a stable 8-byte WebAuthn user handle from a subject.
// FNV-1a keeps the handle deterministic without a user table lookup.
func userHandle(subject string) []byte {
	var h uint64 = 14695981039346656037
	for _, b := range []byte(subject) {
		h ^= uint64(b)
		h *= 1099511628211
	}
	handle := make([]byte, 8)
	binary.BigEndian.PutUint64(handle, h)
	return handle
}

// RequestMeta carries transport-level context into a ceremony for auditing
// and token issuance.
type RequestMeta struct {
	IP        string
	UserAgent string
}
