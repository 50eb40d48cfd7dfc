// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Discuss the ethics of AI", "discuss-the-ethics-of-ai"},
		{"  what?!  really??  ", "what-really"},
		{"---", "session"},
		{"", "session"},
		{"already-a-slug", "already-a-slug"},
		{"Ünïcode Works", "ünïcode-works"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), tt.in)
	}
}

func TestSlugify_Idempotent(t *testing.T) {
	inputs := []string{"Hello, World!", "a b c", strings.Repeat("word ", 40)}
	for _, in := range inputs {
		once := Slugify(in)
		assert.Equal(t, once, Slugify(once), in)
	}
}

func TestSlugify_CapsLength(t *testing.T) {
	long := strings.Repeat("abcde ", 50)
	slug := Slugify(long)
	assert.LessOrEqual(t, len([]rune(slug)), 80)
	assert.False(t, strings.HasSuffix(slug, "-"))
}

func testHeader() Header {
	return Header{
		SessionID: "abc-123",
		Starter:   "Discuss the tides",
		StartedAt: time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
		AgentA: AgentInfo{
			Label: "Agent A", Provider: "openai", Model: "gpt-4o-mini", Temperature: 0.7,
			SystemPrompt: "You are a thoughtful conversationalist.",
		},
		AgentB: AgentInfo{
			Label: "Agent B", Provider: "ollama", Model: "llama3.1", Temperature: 0.9,
			Persona: "skeptic", SystemPrompt: "Question every claim.\nStay civil.",
		},
		MaxRounds:        30,
		MemRounds:        8,
		StopWordsEnabled: true,
		StopWords:        []string{"goodbye", "farewell"},
	}
}

func TestFlush_MarkdownFile(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, FormatMarkdown, testHeader())
	w.AddTurn(1, "Agent A", "opening statement", time.Now())
	w.AddTurn(1, "Agent B", "counterpoint", time.Now())
	w.SetOutcome("conversation ended: max_rounds")

	path, err := w.Flush()
	require.NoError(t, err)
	assert.Equal(t, "2025-03-14_09-26-53__discuss-the-tides.md", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "# Discuss the tides")
	assert.Contains(t, content, "opening statement")
	assert.Contains(t, content, "counterpoint")
	assert.Contains(t, content, "persona skeptic")
	assert.Contains(t, content, "You are a thoughtful conversationalist.")
	assert.Contains(t, content, "Question every claim. Stay civil.")
	assert.Contains(t, content, "goodbye, farewell")
	assert.Contains(t, content, "max_rounds")
}

func TestFlush_LogFormat(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, FormatLog, testHeader())
	w.AddTurn(1, "Agent A", "hello", time.Now())

	path, err := w.Flush()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".log"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "session: abc-123")
	assert.Contains(t, string(data), "agent_a_system: You are a thoughtful conversationalist.")
	assert.Contains(t, string(data), "agent_b_system: Question every claim. Stay civil.")
	assert.Contains(t, string(data), "round=1 Agent A:")
}

func TestFlush_NoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, FormatMarkdown, testHeader())
	w.AddTurn(1, "Agent A", "hi", time.Now())

	_, err := w.Flush()
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".transcript-"), e.Name())
	}
}

func TestFlush_EmptySessionStillWritesHeader(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, FormatMarkdown, testHeader())
	path, err := w.Flush()
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Session Information")
}
