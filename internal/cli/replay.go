// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/duet/internal/config"
	"github.com/jeranaias/duet/internal/store"
	"github.com/jeranaias/duet/internal/transcript"
)

var replayCmd = &cobra.Command{
	Use:   "replay <conversation-id>",
	Short: "Re-render a stored conversation as a transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		st, err := store.Open(cfg.Paths.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()

		conv, err := st.GetConversation(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		msgs, err := st.Messages(cmd.Context(), conv.ID)
		if err != nil {
			return err
		}

		fmt.Print(RenderReplay(conv, msgs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

// RenderReplay rebuilds a transcript from persisted messages. Replaying
// the message log in order reconstructs the document the session wrote,
// up to timestamp formatting.
func RenderReplay(conv store.Conversation, msgs []store.Message) string {
	w := transcript.NewWriter("", transcript.FormatMarkdown, transcript.Header{
		SessionID: conv.ID,
		Starter:   conv.Starter,
		StartedAt: conv.StartedAt,
		AgentA:    splitIdent("Agent A", conv.ProviderA),
		AgentB:    splitIdent("Agent B", conv.ProviderB),
	})
	// Agent A always speaks first and turns alternate, so replay labels
	// follow reply parity rather than provider idents, which can match
	// when both agents share a provider.
	round := 0
	for _, m := range msgs {
		label := "Human"
		if m.Role == "assistant" {
			round++
			if round%2 == 1 {
				label = "Agent A"
			} else {
				label = "Agent B"
			}
		}
		w.AddTurn(round, label, m.Content, m.CreatedAt)
	}
	w.SetOutcome(fmt.Sprintf("replayed conversation, status %s", conv.Status))
	return w.Render()
}

func splitIdent(label, ident string) transcript.AgentInfo {
	info := transcript.AgentInfo{Label: label, Provider: ident}
	if i := strings.IndexByte(ident, '/'); i > 0 {
		info.Provider = ident[:i]
		info.Model = ident[i+1:]
	}
	return info
}
