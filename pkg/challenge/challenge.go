// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package challenge issues and consumes single-use WebAuthn ceremony
// challenges. Challenges live in the injected key-value store under a TTL;
// consumption is an atomic read-and-delete, so two concurrent finish calls
// racing on the same challenge resolve to exactly one winner.
package challenge

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/commercekit/edgeauth/pkg/kv"
)

// Kind distinguishes enrollment challenges from authentication challenges.
// A challenge minted for one ceremony cannot finish the other.
type Kind string

const (
	KindEnrollment     Kind = "enrollment"
	KindAuthentication Kind = "authentication"
)

// DefaultTTL is how long a challenge stays consumable.
const DefaultTTL = 5 * time.Minute

// valueSize is the number of random bytes in a challenge value. WebAuthn
// requires at least 16; 32 follows the W3C recommendation.
const valueSize = 32

// ErrNotFound is returned when a challenge does not exist, has expired, or
// was already consumed. Callers cannot distinguish the three cases.
var ErrNotFound = errors.New("challenge not found or expired")

// Challenge is a single-use ceremony nonce bound to a subject.
type Challenge struct {
	ID        string    `json:"id"`
	Value     string    `json:"value"` // base64url, no padding
	Kind      Kind      `json:"kind"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValueBytes decodes the challenge value back to its raw random bytes.
func (c *Challenge) ValueBytes() ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(c.Value)
}

// Store issues and consumes challenges on top of a key-value store.
type Store struct {
	kv    kv.Store
	ttl   time.Duration
	nowFn func() time.Time
}

// NewStore creates a challenge store. A zero ttl uses DefaultTTL.
func NewStore(store kv.Store, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		kv:    store,
		ttl:   ttl,
		nowFn: time.Now,
	}
}

// Generate mints a fresh challenge for the given ceremony kind and subject
// and stores it under its TTL.
func (s *Store) Generate(ctx context.Context, kind Kind, subject string) (*Challenge, error) {
	raw := make([]byte, valueSize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate challenge value: %w", err)
	}

	now := s.nowFn().UTC()
	ch := &Challenge{
		ID:        uuid.NewString(),
		Value:     base64.RawURLEncoding.EncodeToString(raw),
		Kind:      kind,
		Subject:   subject,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	payload, err := json.Marshal(ch)
	if err != nil {
		return nil, fmt.Errorf("marshal challenge: %w", err)
	}
	if err := s.kv.Put(ctx, storageKey(ch.ID), payload, s.ttl); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}
	return ch, nil
}

// Consume atomically removes and returns the challenge with the given ID.
// A second Consume for the same ID, concurrent or not, returns ErrNotFound.
func (s *Store) Consume(ctx context.Context, challengeID string) (*Challenge, error) {
	payload, err := s.kv.GetDelete(ctx, storageKey(challengeID))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume challenge: %w", err)
	}

	var ch Challenge
	if err := json.Unmarshal(payload, &ch); err != nil {
		return nil, fmt.Errorf("unmarshal challenge: %w", err)
	}
	// Belt and braces for stores without server-side expiry.
	if s.nowFn().After(ch.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &ch, nil
}

func storageKey(id string) string {
	return "challenge:" + id
}
