// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package kv defines the key-value store primitive shared by the challenge
// store, the token revocation set and the edge window counters. Adapters
// are injected by interface so every consumer can run against the in-memory
// store in tests and against Redis in production.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned when a key does not exist or has expired.
var ErrKeyNotFound = errors.New("key not found")

// Store is the minimal key-value contract consumed by edgeauth components.
//
// GetDelete must be atomic with respect to concurrent callers: for a given
// key, exactly one caller observes the value and every other caller gets
// ErrKeyNotFound. This is the primitive that makes challenge consumption
// exactly-once.
type Store interface {
	// Get returns the value stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key. A ttl of zero means no expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// GetDelete atomically reads and removes the value stored under key.
	GetDelete(ctx context.Context, key string) ([]byte, error)

	// Increment adds one to the counter stored under key and returns the
	// new count. The first increment of a key sets its expiry to ttl;
	// later increments within the window leave the expiry untouched.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
