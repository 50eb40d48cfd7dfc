// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package grounding builds synthetic context turns from prior transcripts
// and persisted messages, so a new session can pick up earlier threads.
package grounding

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jeranaias/duet/internal/history"
	"github.com/jeranaias/duet/internal/store"
)

// =============================================================================
// PROVIDER
// =============================================================================

const (
	// DefaultTopK is how many context turns are injected at most.
	DefaultTopK = 3

	// DefaultSnippetCap bounds each snippet's character length.
	DefaultSnippetCap = 600

	// recentSampleSize bounds how many persisted messages join the corpus.
	recentSampleSize = 50

	// maxTranscriptFiles bounds how many prior transcripts are scanned.
	maxTranscriptFiles = 20
)

// Provider scores prior material against a session starter and returns
// the best snippets as pinned context turns.
type Provider struct {
	store          *store.Store
	transcriptsDir string
	topK           int
	snippetCap     int
}

// New creates a context provider. store may be nil when persistence is
// unavailable; the provider then scans transcripts only.
func New(s *store.Store, transcriptsDir string) *Provider {
	return &Provider{
		store:          s,
		transcriptsDir: transcriptsDir,
		topK:           DefaultTopK,
		snippetCap:     DefaultSnippetCap,
	}
}

type snippet struct {
	source string
	text   string
	score  float64
}

// BuildContextTurns returns at most topK context turns relevant to the
// query, best first. Each turn's text carries a "[source] " prefix. An
// empty corpus or a query with no token overlap yields no turns.
func (p *Provider) BuildContextTurns(ctx context.Context, query string) []history.Turn {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	corpus := p.transcriptSnippets()
	corpus = append(corpus, p.messageSnippets(ctx)...)

	scored := corpus[:0]
	for _, s := range corpus {
		s.score = overlapScore(queryTokens, tokenize(s.text))
		if s.score <= 0 {
			continue
		}
		scored = append(scored, s)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	if len(scored) > p.topK {
		scored = scored[:p.topK]
	}

	turns := make([]history.Turn, 0, len(scored))
	for _, s := range scored {
		text := truncateRunes(s.text, p.snippetCap)
		turns = append(turns, history.Turn{
			Author: history.AuthorContext,
			Text:   "[" + s.source + "] " + text,
		})
	}
	return turns
}

// =============================================================================
// CORPUS
// =============================================================================

// transcriptSnippets paragraph-splits the most recent transcript files.
func (p *Provider) transcriptSnippets() []snippet {
	if p.transcriptsDir == "" {
		return nil
	}
	entries, err := os.ReadDir(p.transcriptsDir)
	if err != nil {
		return nil
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".md" || ext == ".log" {
			names = append(names, e.Name())
		}
	}
	// Filenames start with a timestamp, so lexical order is time order.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	if len(names) > maxTranscriptFiles {
		names = names[:maxTranscriptFiles]
	}

	var out []snippet
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(p.transcriptsDir, name))
		if err != nil {
			continue
		}
		for _, para := range strings.Split(string(data), "\n\n") {
			para = strings.TrimSpace(para)
			if len(para) < 40 || strings.HasPrefix(para, "#") || strings.HasPrefix(para, "-") {
				continue
			}
			out = append(out, snippet{source: "transcript:" + name, text: para})
		}
	}
	return out
}

// messageSnippets samples recent persisted messages.
func (p *Provider) messageSnippets(ctx context.Context) []snippet {
	if p.store == nil {
		return nil
	}
	msgs, err := p.store.RecentMessages(ctx, recentSampleSize)
	if err != nil {
		return nil
	}
	var out []snippet
	for _, m := range msgs {
		text := strings.TrimSpace(m.Content)
		if len(text) < 40 {
			continue
		}
		out = append(out, snippet{source: "history:" + m.Provider, text: text})
	}
	return out
}

// =============================================================================
// SCORING
// =============================================================================

// overlapScore is bag-of-words overlap normalized by query token count.
func overlapScore(query, candidate []string) float64 {
	if len(query) == 0 {
		return 0
	}
	seen := make(map[string]bool, len(candidate))
	for _, t := range candidate {
		seen[t] = true
	}
	hits := 0
	for _, t := range query {
		if seen[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
