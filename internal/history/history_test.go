// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindow_ContextTurnsAlwaysFirst(t *testing.T) {
	h := New()
	h.Add(AuthorHuman, "starter")
	h.Add(AuthorContext, "ctx-1")
	h.Add(AuthorA, "reply a")
	h.Add(AuthorContext, "ctx-2")
	h.Add(AuthorB, "reply b")

	w := h.Window(2)

	// Both context turns lead the window regardless of insertion order.
	assert.Len(t, w, 4)
	assert.Equal(t, "ctx-1", w[0].Text)
	assert.Equal(t, "ctx-2", w[1].Text)
	assert.Equal(t, "reply a", w[2].Text)
	assert.Equal(t, "reply b", w[3].Text)
}

func TestWindow_Length(t *testing.T) {
	tests := []struct {
		name       string
		nonContext int
		context    int
		n          int
		wantLen    int
	}{
		{"fewer turns than window", 2, 0, 8, 2},
		{"more turns than window", 10, 0, 3, 3},
		{"context preserved past window", 10, 2, 3, 5},
		{"zero window keeps context only", 5, 2, 0, 2},
		{"negative window treated as zero", 5, 1, -1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			for i := 0; i < tt.context; i++ {
				h.Add(AuthorContext, "ctx")
			}
			for i := 0; i < tt.nonContext; i++ {
				h.Add(AuthorA, "turn")
			}
			assert.Len(t, h.Window(tt.n), tt.wantLen)
		})
	}
}

func TestWindow_ReturnsCopy(t *testing.T) {
	h := New()
	h.Add(AuthorA, "original")

	w := h.Window(1)
	w[0].Text = "mutated"

	assert.Equal(t, "original", h.All()[0].Text)
}

func TestTexts_InsertionOrder(t *testing.T) {
	h := New()
	h.Add(AuthorHuman, "one")
	h.Add(AuthorA, "two")
	h.Add(AuthorContext, "three")

	assert.Equal(t, []string{"one", "two", "three"}, h.Texts())
}

func TestWindow_OneSeesPriorTurnOnly(t *testing.T) {
	// mem_rounds = 1 delivers exactly the immediately prior turn.
	h := New()
	h.Add(AuthorContext, "ctx")
	h.Add(AuthorHuman, "starter")
	h.Add(AuthorA, "first")
	h.Add(AuthorB, "second")

	w := h.Window(1)
	assert.Len(t, w, 2)
	assert.Equal(t, AuthorContext, w[0].Author)
	assert.Equal(t, "second", w[1].Text)
}
