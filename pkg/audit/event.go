// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package audit is the append-only security event sink. Recording an event
// is best-effort by contract: a sink failure is logged locally and never
// surfaces to the ceremony or filter decision that produced the event.
package audit

import "time"

// Action categorizes a security event.
type Action string

const (
	ActionEnrollStart  Action = "enroll.start"
	ActionEnrollFinish Action = "enroll.finish"
	ActionAuthnStart   Action = "authn.start"
	ActionAuthnFinish  Action = "authn.finish"
	ActionTokenRevoke  Action = "token.revoke"
	ActionEdgeBlock    Action = "edge.block"
)

// Event is a single append-only audit record. Events are immutable once
// recorded; the logger fills ID, Timestamp and RequestID if unset.
type Event struct {
	// ID uniquely identifies this event.
	ID string `json:"id"`

	// ActorSubject is the subject the event concerns, if known.
	ActorSubject string `json:"actor_subject,omitempty"`

	// ActorDevice is the credential ID involved, base64url, if any.
	ActorDevice string `json:"actor_device,omitempty"`

	// ActorIP is the client IP the request arrived from.
	ActorIP string `json:"actor_ip,omitempty"`

	// Action categorizes what was attempted.
	Action Action `json:"action"`

	// ResourceType and ResourceID identify the target (e.g. a challenge).
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`

	// Success records the outcome; ErrorCode carries the specific internal
	// failure code that is withheld from client-facing responses.
	Success   bool   `json:"success"`
	ErrorCode string `json:"error_code,omitempty"`

	// Details carries additional context for later reconstruction.
	Details map[string]string `json:"details,omitempty"`

	// UserAgent is the client's User-Agent header.
	UserAgent string `json:"user_agent,omitempty"`

	// RequestID correlates the event with a request across services.
	RequestID string `json:"request_id,omitempty"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}
