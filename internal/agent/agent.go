// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package agent binds one dialogue participant: provider, model,
// temperature, system prompt, and wire client.
package agent

import (
	"context"

	"github.com/jeranaias/duet/internal/adapter"
	"github.com/jeranaias/duet/internal/history"
	"github.com/jeranaias/duet/internal/provider"
)

// Runtime is a fully bound agent. Fields are set during startup (flags,
// role file, persona overlay) and frozen once the scheduler starts.
type Runtime struct {
	ID           string // "a" or "b"
	Label        string
	Provider     provider.Spec
	Model        string
	Temperature  float64
	SystemPrompt string
	MaxTokens    int
	Persona      string
	Client       adapter.Client
}

// Author returns the history author this agent writes as.
func (r *Runtime) Author() history.Author {
	if r.ID == "b" {
		return history.AuthorB
	}
	return history.AuthorA
}

// Ident returns the provider/model identifier recorded with each message.
func (r *Runtime) Ident() string {
	return r.Provider.Ident(r.Model)
}

// StreamReply sends the windowed history to the agent's provider and
// emits reply fragments. The window holds the last memRounds non-context
// turns plus every context turn.
func (r *Runtime) StreamReply(ctx context.Context, hist *history.History, memRounds int, emit adapter.EmitFunc) error {
	req := adapter.Request{
		Model:       r.Model,
		System:      r.SystemPrompt,
		Turns:       hist.Window(memRounds),
		SelfAuthor:  r.Author(),
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	}
	return r.Client.Stream(ctx, req, emit)
}
