// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider holds the static catalog of LLM providers: their wire
// kind, default models, credential environment variables, and default
// system prompts. The catalog is built once at startup and never mutated.
package provider

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// =============================================================================
// PROVIDER KIND
// =============================================================================

// Kind is the wire protocol family a provider speaks. Dispatch on Kind is
// a switch, never a string comparison chain.
type Kind int

const (
	// KindChatML is the OpenAI-compatible chat-completions protocol,
	// shared by OpenAI, OpenRouter, DeepSeek, and LM-Studio-style local
	// servers. Variants differ only in base URL and auth header.
	KindChatML Kind = iota

	// KindAnthropic is the Anthropic messages protocol, with a legacy
	// text-completion fallback for older endpoints.
	KindAnthropic

	// KindGemini is the Google Gemini generateContent protocol.
	KindGemini

	// KindOllama is the local Ollama chat protocol (newline-delimited
	// JSON stream).
	KindOllama
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindChatML:
		return "chatml"
	case KindAnthropic:
		return "anthropic"
	case KindGemini:
		return "gemini"
	case KindOllama:
		return "ollama"
	default:
		return "unknown"
	}
}

// =============================================================================
// PROVIDER SPEC
// =============================================================================

// Spec describes one provider entry in the catalog.
type Spec struct {
	// Key is the catalog key used on the command line (--provider-a).
	Key string

	// Label is the human-readable name used in messages and transcripts.
	Label string

	// Kind selects the wire protocol.
	Kind Kind

	// BaseURL is the API endpoint root.
	BaseURL string

	// DefaultModel is used when no override is present.
	DefaultModel string

	// DefaultSystem is the system prompt used when no persona is applied.
	DefaultSystem string

	// NeedsKey indicates whether KeyEnv must be set and non-empty.
	NeedsKey bool

	// KeyEnv names the environment variable holding the API key.
	KeyEnv string

	// ModelEnv names the provider-scoped model override variable.
	ModelEnv string

	// Description is a one-line summary for listings.
	Description string
}

// Ident returns the "key/model" identifier recorded in the store and the
// transcript header.
func (s Spec) Ident(model string) string {
	return s.Key + "/" + model
}

// =============================================================================
// REGISTRY
// =============================================================================

// ErrUnknownProvider is returned by Lookup for keys not in the catalog.
var ErrUnknownProvider = errors.New("unknown provider")

const defaultSystemPrompt = "You are a thoughtful conversationalist. " +
	"Engage with your partner's points directly and keep replies concise."

// Registry is the immutable provider catalog.
type Registry struct {
	specs map[string]Spec
	order []string
}

// NewRegistry builds the built-in catalog.
func NewRegistry() *Registry {
	r := &Registry{specs: make(map[string]Spec)}

	r.add(Spec{
		Key:           "openai",
		Label:         "OpenAI",
		Kind:          KindChatML,
		BaseURL:       "https://api.openai.com/v1",
		DefaultModel:  "gpt-4o-mini",
		DefaultSystem: defaultSystemPrompt,
		NeedsKey:      true,
		KeyEnv:        "OPENAI_API_KEY",
		ModelEnv:      "OPENAI_MODEL",
		Description:   "OpenAI chat completions",
	})
	r.add(Spec{
		Key:           "openrouter",
		Label:         "OpenRouter",
		Kind:          KindChatML,
		BaseURL:       "https://openrouter.ai/api/v1",
		DefaultModel:  "openrouter/auto",
		DefaultSystem: defaultSystemPrompt,
		NeedsKey:      true,
		KeyEnv:        "OPENROUTER_API_KEY",
		ModelEnv:      "OPENROUTER_MODEL",
		Description:   "OpenRouter multi-provider gateway",
	})
	r.add(Spec{
		Key:           "deepseek",
		Label:         "DeepSeek",
		Kind:          KindChatML,
		BaseURL:       "https://api.deepseek.com/v1",
		DefaultModel:  "deepseek-chat",
		DefaultSystem: defaultSystemPrompt,
		NeedsKey:      true,
		KeyEnv:        "DEEPSEEK_API_KEY",
		ModelEnv:      "DEEPSEEK_MODEL",
		Description:   "DeepSeek chat completions",
	})
	r.add(Spec{
		Key:           "lmstudio",
		Label:         "LM Studio",
		Kind:          KindChatML,
		BaseURL:       "http://127.0.0.1:1234/v1",
		DefaultModel:  "local-model",
		DefaultSystem: defaultSystemPrompt,
		NeedsKey:      false,
		KeyEnv:        "",
		ModelEnv:      "LMSTUDIO_MODEL",
		Description:   "Local OpenAI-compatible server",
	})
	r.add(Spec{
		Key:           "anthropic",
		Label:         "Anthropic",
		Kind:          KindAnthropic,
		BaseURL:       "https://api.anthropic.com",
		DefaultModel:  "claude-3-5-sonnet-20241022",
		DefaultSystem: defaultSystemPrompt,
		NeedsKey:      true,
		KeyEnv:        "ANTHROPIC_API_KEY",
		ModelEnv:      "ANTHROPIC_MODEL",
		Description:   "Anthropic messages API",
	})
	r.add(Spec{
		Key:           "gemini",
		Label:         "Google Gemini",
		Kind:          KindGemini,
		BaseURL:       "https://generativelanguage.googleapis.com/v1beta",
		DefaultModel:  "gemini-1.5-flash",
		DefaultSystem: defaultSystemPrompt,
		NeedsKey:      true,
		KeyEnv:        "GEMINI_API_KEY",
		ModelEnv:      "GEMINI_MODEL",
		Description:   "Google Gemini generateContent",
	})
	r.add(Spec{
		Key:           "ollama",
		Label:         "Ollama",
		Kind:          KindOllama,
		BaseURL:       "http://127.0.0.1:11434",
		DefaultModel:  "llama3.1",
		DefaultSystem: defaultSystemPrompt,
		NeedsKey:      false,
		KeyEnv:        "",
		ModelEnv:      "OLLAMA_MODEL",
		Description:   "Local Ollama server",
	})

	return r
}

func (r *Registry) add(s Spec) {
	r.specs[s.Key] = s
	r.order = append(r.order, s.Key)
}

// Lookup returns the spec for key, or ErrUnknownProvider.
func (r *Registry) Lookup(key string) (Spec, error) {
	s, ok := r.specs[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownProvider, key)
	}
	return s, nil
}

// List returns all specs in catalog order, for listings and UIs.
func (r *Registry) List() []Spec {
	out := make([]Spec, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.specs[k])
	}
	return out
}

// =============================================================================
// MODEL RESOLUTION AND CREDENTIALS
// =============================================================================

// ResolveModel applies the model resolution chain: explicit override, then
// the agent-scoped environment variable, then the provider-scoped one,
// then the spec default.
func ResolveModel(spec Spec, override, agentEnv string) string {
	if override != "" {
		return override
	}
	if agentEnv != "" {
		if m := strings.TrimSpace(os.Getenv(agentEnv)); m != "" {
			return m
		}
	}
	if spec.ModelEnv != "" {
		if m := strings.TrimSpace(os.Getenv(spec.ModelEnv)); m != "" {
			return m
		}
	}
	return spec.DefaultModel
}

// CheckCredential verifies that a provider's API key is present when one
// is required. The returned error names the expected variable.
func CheckCredential(spec Spec) error {
	if !spec.NeedsKey {
		return nil
	}
	if strings.TrimSpace(os.Getenv(spec.KeyEnv)) == "" {
		return fmt.Errorf("missing API key for %s (set %s)", spec.Label, spec.KeyEnv)
	}
	return nil
}

// Credential returns the trimmed API key for a spec, which may be empty
// for providers that do not need one.
func Credential(spec Spec) string {
	if spec.KeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(spec.KeyEnv))
}
