// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transcript renders finished dialogue sessions to Markdown or
// plain-log files.
package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// =============================================================================
// TYPES
// =============================================================================

// Format selects the transcript output format.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatLog      Format = "log"
)

// AgentInfo describes one participant in the header.
type AgentInfo struct {
	Label        string
	Provider     string
	Model        string
	Temperature  float64
	Persona      string
	SystemPrompt string
}

// Header carries the session metadata written before the turns.
type Header struct {
	SessionID        string
	Starter          string
	StartedAt        time.Time
	AgentA           AgentInfo
	AgentB           AgentInfo
	MaxRounds        int
	MemRounds        int
	StopWordsEnabled bool
	StopWords        []string
}

// Entry is one recorded turn.
type Entry struct {
	Round int
	Label string
	Text  string
	At    time.Time
}

// Writer accumulates turns in memory and writes the file once at Flush.
// A crash mid-session loses the transcript but never corrupts one; the
// database remains the durable record.
type Writer struct {
	dir     string
	format  Format
	header  Header
	entries []Entry
	outcome string
}

// NewWriter creates a transcript writer targeting dir.
func NewWriter(dir string, format Format, header Header) *Writer {
	if format != FormatLog {
		format = FormatMarkdown
	}
	return &Writer{dir: dir, format: format, header: header}
}

// AddTurn records one completed turn.
func (w *Writer) AddTurn(round int, label, text string, at time.Time) {
	w.entries = append(w.entries, Entry{Round: round, Label: label, Text: text, At: at})
}

// SetOutcome records the termination line written at the end.
func (w *Writer) SetOutcome(outcome string) {
	w.outcome = outcome
}

// =============================================================================
// FLUSH
// =============================================================================

// Render returns the transcript text without writing it, used by replay.
func (w *Writer) Render() string {
	if w.format == FormatLog {
		return w.renderLog()
	}
	return w.renderMarkdown()
}

// Flush writes the transcript file. It writes to a temp file first and
// renames into place so a partial file is never visible.
func (w *Writer) Flush() (string, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create transcript directory: %w", err)
	}

	name := fmt.Sprintf("%s__%s.%s",
		w.header.StartedAt.Format("2006-01-02_15-04-05"),
		Slugify(w.header.Starter),
		w.format)
	path := filepath.Join(w.dir, name)

	content := w.Render()

	tmp, err := os.CreateTemp(w.dir, ".transcript-*")
	if err != nil {
		return "", fmt.Errorf("failed to create transcript: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write transcript: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write transcript: %w", err)
	}
	return path, nil
}

func (w *Writer) renderMarkdown() string {
	var sb strings.Builder
	h := w.header

	sb.WriteString(fmt.Sprintf("# %s\n\n", h.Starter))
	sb.WriteString("## Session Information\n\n")
	sb.WriteString(fmt.Sprintf("- **Session**: %s\n", h.SessionID))
	sb.WriteString(fmt.Sprintf("- **Started**: %s\n", h.StartedAt.Format(time.RFC3339)))
	writeAgentMarkdown(&sb, "Agent A", h.AgentA)
	writeAgentMarkdown(&sb, "Agent B", h.AgentB)
	sb.WriteString(fmt.Sprintf("- **Max Rounds**: %d\n", h.MaxRounds))
	sb.WriteString(fmt.Sprintf("- **Memory Rounds**: %d\n", h.MemRounds))
	if h.StopWordsEnabled {
		sb.WriteString(fmt.Sprintf("- **Stop Words**: %s\n", strings.Join(h.StopWords, ", ")))
	} else {
		sb.WriteString("- **Stop Words**: disabled\n")
	}
	sb.WriteString("\n---\n\n## Conversation\n\n")

	for i, e := range w.entries {
		sb.WriteString(fmt.Sprintf("### %s <sub>round %d, %s</sub>\n\n",
			e.Label, e.Round, e.At.Format("15:04:05")))
		sb.WriteString(e.Text)
		sb.WriteString("\n\n")
		if i < len(w.entries)-1 {
			sb.WriteString("---\n\n")
		}
	}

	if w.outcome != "" {
		sb.WriteString(fmt.Sprintf("\n---\n\n*%s*\n", w.outcome))
	}
	return sb.String()
}

func writeAgentMarkdown(sb *strings.Builder, name string, a AgentInfo) {
	desc := fmt.Sprintf("%s (%s/%s, temp %.2f)", a.Label, a.Provider, a.Model, a.Temperature)
	if a.Persona != "" {
		desc += ", persona " + a.Persona
	}
	sb.WriteString(fmt.Sprintf("- **%s**: %s\n", name, desc))
	if a.SystemPrompt != "" {
		sb.WriteString(fmt.Sprintf("  - **System**: %s\n", oneLine(a.SystemPrompt)))
	}
}

// oneLine collapses newlines so a multi-line system prompt stays a
// single header entry.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (w *Writer) renderLog() string {
	var sb strings.Builder
	h := w.header

	sb.WriteString(fmt.Sprintf("session: %s\n", h.SessionID))
	sb.WriteString(fmt.Sprintf("started: %s\n", h.StartedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("starter: %s\n", h.Starter))
	writeAgentLog(&sb, "agent_a", h.AgentA)
	writeAgentLog(&sb, "agent_b", h.AgentB)
	sb.WriteString(fmt.Sprintf("max_rounds: %d\nmem_rounds: %d\n\n", h.MaxRounds, h.MemRounds))

	for _, e := range w.entries {
		sb.WriteString(fmt.Sprintf("[%s] round=%d %s:\n%s\n\n",
			e.At.Format("15:04:05"), e.Round, e.Label, e.Text))
	}
	if w.outcome != "" {
		sb.WriteString(fmt.Sprintf("outcome: %s\n", w.outcome))
	}
	return sb.String()
}

func writeAgentLog(sb *strings.Builder, key string, a AgentInfo) {
	sb.WriteString(fmt.Sprintf("%s: %s %s/%s temp=%.2f\n", key, a.Label, a.Provider, a.Model, a.Temperature))
	if a.SystemPrompt != "" {
		sb.WriteString(fmt.Sprintf("%s_system: %s\n", key, oneLine(a.SystemPrompt)))
	}
}

// =============================================================================
// SLUG
// =============================================================================

// slugMaxLen caps slug length so filenames stay portable.
const slugMaxLen = 80

// Slugify lowercases the starter, maps runs of non-alphanumerics to
// single dashes, and caps the result. An empty result falls back to
// "session". Slugify is idempotent.
func Slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if r := []rune(slug); len(r) > slugMaxLen {
		slug = strings.Trim(string(r[:slugMaxLen]), "-")
	}
	if slug == "" {
		return "session"
	}
	return slug
}
