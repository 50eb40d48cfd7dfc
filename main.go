// duet - two LLM agents in conversation.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import "github.com/jeranaias/duet/internal/cli"

func main() {
	cli.Execute()
}
