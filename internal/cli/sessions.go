// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/duet/internal/config"
	"github.com/jeranaias/duet/internal/store"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List past conversations",
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

		convs, err := st.ListConversations(cmd.Context(), sessionsLimit)
		if err != nil {
			return err
		}
		if len(convs) == 0 {
			fmt.Println("No conversations yet.")
			return nil
		}

		fmt.Printf("%-36s  %-16s  %-9s  %s\n", "ID", "STARTED", "STATUS", "STARTER")
		for _, c := range convs {
			fmt.Printf("%-36s  %-16s  %-9s  %s\n",
				c.ID,
				c.StartedAt.Local().Format("2006-01-02 15:04"),
				c.Status,
				truncate(c.Starter, 48))
		}
		return nil
	},
}

func init() {
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum conversations to list (0 for all)")
	rootCmd.AddCommand(sessionsCmd)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
