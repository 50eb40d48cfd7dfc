// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package adapter

import (
	"strings"
)

// =============================================================================
// ROLE MAPPING
// =============================================================================

// ChatMessage is the role/content pair shared by the ChatML and Ollama
// protocols.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// buildMessages converts a request into provider messages. The system
// prompt leads, then each turn maps relative to the requesting agent:
// its own turns become assistant messages, everything else (the partner,
// the human starter, injected context) becomes user messages.
//
// Consecutive same-role messages are merged with a blank line because
// some ChatML servers reject alternation violations.
func buildMessages(req Request) []ChatMessage {
	msgs := make([]ChatMessage, 0, len(req.Turns)+1)
	if strings.TrimSpace(req.System) != "" {
		msgs = append(msgs, ChatMessage{Role: "system", Content: req.System})
	}
	for _, turn := range req.Turns {
		role := "user"
		if turn.Author == req.SelfAuthor {
			role = "assistant"
		}
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content += "\n\n" + turn.Text
			continue
		}
		msgs = append(msgs, ChatMessage{Role: role, Content: turn.Text})
	}
	return msgs
}

// flattenPrompt renders a request as a single labeled prompt for legacy
// text-completion endpoints.
func flattenPrompt(req Request) string {
	var b strings.Builder
	if strings.TrimSpace(req.System) != "" {
		b.WriteString("[System]: ")
		b.WriteString(req.System)
		b.WriteString("\n\n")
	}
	for _, turn := range req.Turns {
		if turn.Author == req.SelfAuthor {
			b.WriteString("[Assistant]: ")
		} else {
			b.WriteString("[User]: ")
		}
		b.WriteString(turn.Text)
		b.WriteString("\n\n")
	}
	b.WriteString("[Assistant]:")
	return b.String()
}
