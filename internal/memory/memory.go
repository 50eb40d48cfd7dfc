// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package memory defines the optional memory sidecar capability. A
// sidecar answers topic queries from an external memory service; when
// absent or unhealthy, every call degrades to empty results and the
// session proceeds normally.
package memory

import "context"

// Record is one remembered item returned by Recent.
type Record struct {
	Topic   string `json:"topic"`
	Content string `json:"content"`
	At      string `json:"at,omitempty"`
}

// Sidecar is the memory capability. Implementations must be safe for
// sequential reuse across a session and must never block past ctx.
type Sidecar interface {
	// MemoryFor returns remembered material about a topic, empty when
	// nothing is known.
	MemoryFor(ctx context.Context, topic string, limit int) (string, error)

	// Recent returns the newest records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)

	// Healthy reports whether the backing service is reachable.
	Healthy(ctx context.Context) bool
}

// =============================================================================
// NULL SIDECAR
// =============================================================================

// Null is the disabled sidecar. All queries return empty results.
type Null struct{}

// NewNull returns a disabled sidecar.
func NewNull() *Null { return &Null{} }

func (*Null) MemoryFor(ctx context.Context, topic string, limit int) (string, error) {
	return "", nil
}

func (*Null) Recent(ctx context.Context, limit int) ([]Record, error) {
	return nil, nil
}

func (*Null) Healthy(ctx context.Context) bool { return false }
