// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package detect implements the conversation termination detectors:
// stop-word matching and repetition scoring over recent replies.
package detect

import "strings"

// =============================================================================
// STOP WORDS
// =============================================================================

// DefaultStopWords are the built-in farewell phrases. Matching is
// case-insensitive substring search.
var DefaultStopWords = []string{
	"goodbye",
	"farewell",
	"[end]",
	"end of conversation",
}

// stopWordMinRounds is the round number a conversation must pass before
// stop-word matching activates. Early rounds often contain pleasantries
// that would otherwise end the session immediately.
const stopWordMinRounds = 10

// StopWordActive reports whether stop-word matching applies at the given
// round number.
func StopWordActive(round int) bool {
	return round > stopWordMinRounds
}

// ContainsStopWord reports whether text contains any of the given stop
// words, case-insensitively. Empty stop words never match.
func ContainsStopWord(text string, stopWords []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, w := range stopWords {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(w)) {
			return w, true
		}
	}
	return "", false
}

// =============================================================================
// REPETITION
// =============================================================================

const (
	// repetitionWindow is how many recent replies are scored.
	repetitionWindow = 6

	// repetitionMinTexts is the minimum number of replies before the
	// detector can fire at all.
	repetitionMinTexts = 4

	// repetitionThreshold is the average pairwise similarity above which
	// the conversation is considered stuck in a loop.
	repetitionThreshold = 0.8

	// lcsMaxRunes caps the text length fed to the quadratic LCS table.
	lcsMaxRunes = 400
)

// Repetitive reports whether the tail of texts has collapsed into
// near-identical replies. It scores the last repetitionWindow entries by
// averaged pairwise longest-common-subsequence ratio.
func Repetitive(texts []string) bool {
	if len(texts) > repetitionWindow {
		texts = texts[len(texts)-repetitionWindow:]
	}
	if len(texts) < repetitionMinTexts {
		return false
	}

	var total float64
	var pairs int
	for i := 0; i < len(texts); i++ {
		for j := i + 1; j < len(texts); j++ {
			total += similarity(texts[i], texts[j])
			pairs++
		}
	}
	if pairs == 0 {
		return false
	}
	return total/float64(pairs) > repetitionThreshold
}

// similarity returns 2*LCS(a,b) / (len(a)+len(b)) over runes. Two empty
// strings are considered identical.
func similarity(a, b string) float64 {
	ra := clipRunes(a)
	rb := clipRunes(b)
	if len(ra) == 0 && len(rb) == 0 {
		return 1.0
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0.0
	}
	l := lcsLength(ra, rb)
	return 2.0 * float64(l) / float64(len(ra)+len(rb))
}

func clipRunes(s string) []rune {
	r := []rune(s)
	if len(r) > lcsMaxRunes {
		r = r[:lcsMaxRunes]
	}
	return r
}

// lcsLength computes the longest common subsequence length with a
// two-row dynamic programming table.
func lcsLength(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
