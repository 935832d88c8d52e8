// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package device

import (
	"context"
	"encoding/hex"
	"sync"
	"time"
)

// MemoryRegistry is an in-memory Registry. A single mutex makes
// UpdateSignCount's compare-and-set atomic, which is what defeats the
// concurrent duplicate-assertion race.
type MemoryRegistry struct {
	mu      sync.RWMutex
	byID    map[string]*Device
	byOwner map[string][]string
}

// NewMemoryRegistry creates an empty in-memory device registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		byID:    make(map[string]*Device),
		byOwner: make(map[string][]string),
	}
}

// Save persists a newly enrolled device.
func (r *MemoryRegistry) Save(ctx context.Context, dev *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := hex.EncodeToString(dev.ID)
	if _, ok := r.byID[key]; ok {
		return ErrAlreadyEnrolled
	}

	stored := *dev
	r.byID[key] = &stored
	r.byOwner[dev.Owner] = append(r.byOwner[dev.Owner], key)
	return nil
}

// FindByCredentialID returns a copy of the device with the given ID.
func (r *MemoryRegistry) FindByCredentialID(ctx context.Context, credentialID []byte) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, ok := r.byID[hex.EncodeToString(credentialID)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *dev
	return &out, nil
}

// ListByOwner returns copies of all devices enrolled for a subject.
func (r *MemoryRegistry) ListByOwner(ctx context.Context, owner string) ([]*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := r.byOwner[owner]
	out := make([]*Device, 0, len(keys))
	for _, key := range keys {
		if dev, ok := r.byID[key]; ok {
			cp := *dev
			out = append(out, &cp)
		}
	}
	return out, nil
}

// UpdateSignCount conditionally advances the stored counter under the
// registry lock.
func (r *MemoryRegistry) UpdateSignCount(ctx context.Context, credentialID []byte, newCount uint32, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.byID[hex.EncodeToString(credentialID)]
	if !ok {
		return ErrNotFound
	}

	zeroCounter := dev.SignCount == 0 && newCount == 0
	if !zeroCounter && newCount <= dev.SignCount {
		return ErrCounterRegression
	}

	dev.SignCount = newCount
	dev.LastSeenAt = seenAt
	return nil
}
