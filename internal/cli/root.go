// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli wires the duet command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	version    = "dev"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "duet",
	Short: "Run a streamed conversation between two LLM agents",
	Long: `duet pairs two language-model agents and lets them talk.

Each agent binds a provider (OpenAI, OpenRouter, DeepSeek, LM Studio,
Anthropic, Gemini, or a local Ollama server), a model, a temperature,
and an optional persona. duet alternates turns, streams every reply to
the console as it arrives, persists the conversation to SQLite, and
writes a Markdown transcript when the session ends.

Quick Start:
  duet run --provider-a openai --provider-b anthropic --starter "Discuss the tides"
  duet sessions                  # List past conversations
  duet replay <conversation-id>  # Re-render a stored conversation
  duet providers                 # Show the provider catalog`,
	Version: version,
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ~/.duet/config.toml)")
}
