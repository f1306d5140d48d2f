// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package common provides shared types used across multiple packages.
package common

import "time"

// Metadata contains common fields for all messages that interact with a UI
// surface: Commands (UI → core) and Events (core → UI).
type Metadata struct {
	// RequestID correlates events with the API request that caused them.
	// Optional - empty for events raised by background activity
	RequestID string `json:"request_id,omitempty"`

	// IdempotencyKey is used for event deduplication when the same
	// transition is reported more than once
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// Version indicates the protocol version for backward compatibility.
	// Format: "v{major}.{minor}.{patch}" (e.g., "v1.0.0")
	Version string `json:"version"`
}

// CurrentProtocolVersion defines the current version of the protocol.
// This should be updated when making breaking changes to the protocol.
const CurrentProtocolVersion = "v1.0.0"

// NewMetadata stamps a message with the current time and protocol version.
func NewMetadata(idempotencyKey string) Metadata {
	return Metadata{
		IdempotencyKey: idempotencyKey,
		Timestamp:      time.Now(),
		Version:        CurrentProtocolVersion,
	}
}

// Event represents events that can be sent from the core to UI surfaces.
// Any type implementing this interface can be sent through the event channel.
type Event interface {
	GetMetadata() Metadata
}
