// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package grounding

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/duet/internal/history"
	"github.com/jeranaias/duet/internal/store"
)

func writeTranscript(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
}

func TestBuildContextTurns_RanksByOverlap(t *testing.T) {
	dir := t.TempDir()
	writeTranscript(t, dir, "2025-01-01_10-00-00__tides.md",
		"# Tides\n\nThe lunar cycle drives tidal patterns along every coastline worldwide.\n\nUnrelated paragraph about sourdough baking techniques and yeast cultivation.\n")

	p := New(nil, dir)
	turns := p.BuildContextTurns(context.Background(), "explain tidal patterns and the lunar cycle")
	require.NotEmpty(t, turns)
	assert.Equal(t, history.AuthorContext, turns[0].Author)
	assert.Contains(t, turns[0].Text, "lunar cycle")
	assert.True(t, strings.HasPrefix(turns[0].Text, "[transcript:"))
}

func TestBuildContextTurns_DropsZeroOverlap(t *testing.T) {
	dir := t.TempDir()
	writeTranscript(t, dir, "2025-01-01_10-00-00__bread.md",
		"A long paragraph about sourdough baking techniques and yeast cultivation methods.\n")

	p := New(nil, dir)
	turns := p.BuildContextTurns(context.Background(), "quantum chromodynamics lattice simulation")
	assert.Empty(t, turns)
}

func TestBuildContextTurns_CapsAtTopK(t *testing.T) {
	dir := t.TempDir()
	var body strings.Builder
	for i := 0; i < 10; i++ {
		body.WriteString("The ocean tide responds to the moon and the sun together every single day.\n\n")
	}
	writeTranscript(t, dir, "2025-01-01_10-00-00__tides.md", body.String())

	p := New(nil, dir)
	turns := p.BuildContextTurns(context.Background(), "ocean tide moon sun")
	assert.LessOrEqual(t, len(turns), DefaultTopK)
}

func TestBuildContextTurns_SnippetCap(t *testing.T) {
	dir := t.TempDir()
	long := "ocean tide moon " + strings.Repeat("filler words here ", 100)
	writeTranscript(t, dir, "2025-01-01_10-00-00__tides.md", long+"\n")

	p := New(nil, dir)
	turns := p.BuildContextTurns(context.Background(), "ocean tide moon")
	require.Len(t, turns, 1)
	// Prefix plus capped snippet.
	assert.LessOrEqual(t, len([]rune(turns[0].Text)), DefaultSnippetCap+60)
}

func TestBuildContextTurns_UsesPersistedMessages(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "duet.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	id, err := s.CreateConversation(ctx, "a", "b", "tides")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, id, "openai/gpt", "assistant",
		"The gravitational pull of the moon shapes coastal tides in measurable ways.")
	require.NoError(t, err)

	p := New(s, "")
	turns := p.BuildContextTurns(ctx, "how does the moon shape coastal tides")
	require.NotEmpty(t, turns)
	assert.True(t, strings.HasPrefix(turns[0].Text, "[history:"))
}

func TestBuildContextTurns_EmptyQuery(t *testing.T) {
	p := New(nil, t.TempDir())
	assert.Empty(t, p.BuildContextTurns(context.Background(), "  ... "))
}

func TestOverlapScore(t *testing.T) {
	q := tokenize("the moon drives the tides")
	assert.Equal(t, 1.0, overlapScore(q, q))
	assert.Equal(t, 0.0, overlapScore(q, tokenize("unrelated baking yeast")))
	half := overlapScore(tokenize("moon tides"), tokenize("moon only"))
	assert.Equal(t, 0.5, half)
}
