// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history holds the neutral, provider-independent record of a
// dialogue: an append-only sequence of authored turns.
package history

import "time"

// =============================================================================
// TURN
// =============================================================================

// Author identifies who produced a turn.
type Author string

const (
	// AuthorHuman is the person who typed the starter.
	AuthorHuman Author = "human"

	// AuthorA and AuthorB are the two dialogue agents.
	AuthorA Author = "a"
	AuthorB Author = "b"

	// AuthorContext marks a synthetic grounding turn. Context turns are
	// pinned: windowing always returns them, ahead of every other turn.
	AuthorContext Author = "context"
)

// Turn is one authored utterance. Turns are immutable once added.
type Turn struct {
	Author Author
	Text   string
	At     time.Time
}

// IsContext reports whether the turn is a pinned context turn.
func (t Turn) IsContext() bool {
	return t.Author == AuthorContext
}

// =============================================================================
// HISTORY
// =============================================================================

// History is the ordered, append-only sequence of turns for one session.
// It is owned exclusively by the scheduler; adapters only ever see windowed
// copies.
type History struct {
	turns []Turn
}

// New creates an empty history.
func New() *History {
	return &History{}
}

// Add appends a turn. Existing turns are never mutated or removed.
func (h *History) Add(author Author, text string) {
	h.turns = append(h.turns, Turn{Author: author, Text: text, At: time.Now()})
}

// AddTurn appends a pre-built turn (used for context injection, where the
// caller controls the timestamp).
func (h *History) AddTurn(t Turn) {
	h.turns = append(h.turns, t)
}

// Len returns the total number of turns, context turns included.
func (h *History) Len() int {
	return len(h.turns)
}

// All returns a copy of every turn in insertion order.
func (h *History) All() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Texts returns the text of every turn in insertion order. The repetition
// detector consumes this flat view.
func (h *History) Texts() []string {
	out := make([]string, 0, len(h.turns))
	for _, t := range h.turns {
		out = append(out, t.Text)
	}
	return out
}

// Window returns all context turns followed by the last n non-context
// turns. The result is a copy; mutating it does not affect the history.
// With n <= 0 only context turns are returned.
func (h *History) Window(n int) []Turn {
	var ctx, rest []Turn
	for _, t := range h.turns {
		if t.IsContext() {
			ctx = append(ctx, t)
		} else {
			rest = append(rest, t)
		}
	}

	if n < 0 {
		n = 0
	}
	if n < len(rest) {
		rest = rest[len(rest)-n:]
	}

	out := make([]Turn, 0, len(ctx)+len(rest))
	out = append(out, ctx...)
	out = append(out, rest...)
	return out
}
