// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/duet/internal/provider"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show the provider catalog and credential status",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%-12s  %-14s  %-28s  %s\n", "KEY", "LABEL", "DEFAULT MODEL", "CREDENTIAL")
		for _, spec := range provider.NewRegistry().List() {
			cred := "not required"
			if spec.NeedsKey {
				if os.Getenv(spec.KeyEnv) != "" {
					cred = spec.KeyEnv + " (set)"
				} else {
					cred = spec.KeyEnv + " (missing)"
				}
			}
			fmt.Printf("%-12s  %-14s  %-28s  %s\n", spec.Key, spec.Label, spec.DefaultModel, cred)
		}
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}
