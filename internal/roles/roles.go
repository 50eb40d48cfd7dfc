// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package roles loads the role/persona JSON document and applies persona
// overlays to agent configuration.
package roles

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// =============================================================================
// TYPES
// =============================================================================

// AgentSettings is the per-agent block of a role file. All fields are
// optional; absent fields fall back to CLI flags and provider defaults.
type AgentSettings struct {
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model,omitempty"`
	System      string   `json:"system,omitempty"`
	Persona     string   `json:"persona,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// Persona is one entry of the persona library.
type Persona struct {
	Name        string   `json:"name"`
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model,omitempty"`
	System      string   `json:"system"`
	Guidelines  []string `json:"guidelines,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// RoleFile is the parsed role document.
type RoleFile struct {
	AgentA            *AgentSettings     `json:"agent_a,omitempty"`
	AgentB            *AgentSettings     `json:"agent_b,omitempty"`
	PersonaLibrary    map[string]Persona `json:"persona_library,omitempty"`
	StopWords         []string           `json:"stop_words,omitempty"`
	StopWordDetection *bool              `json:"stop_word_detection_enabled,omitempty"`
	TempA             *float64           `json:"temp_a,omitempty"`
	TempB             *float64           `json:"temp_b,omitempty"`
}

// legacyRoleFile recognizes the old schema with provider-named blocks.
type legacyRoleFile struct {
	OpenAI    *AgentSettings `json:"openai,omitempty"`
	Anthropic *AgentSettings `json:"anthropic,omitempty"`
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads and validates a role file. Structural problems in individual
// personas produce warnings and remove the entry; invalid top-level
// temperatures are errors because they would silently change both agents.
// A nil path returns an empty file with no error.
func Load(path string) (*RoleFile, []string, error) {
	if path == "" {
		return &RoleFile{}, nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read role file: %w", err)
	}
	return Parse(data)
}

// Parse validates a role document from raw JSON.
func Parse(data []byte) (*RoleFile, []string, error) {
	var rf RoleFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, nil, fmt.Errorf("malformed role JSON: %w", err)
	}

	// Old documents keyed agents by provider name. Convert them, with
	// the providers fixed accordingly.
	if rf.AgentA == nil && rf.AgentB == nil {
		var legacy legacyRoleFile
		if err := json.Unmarshal(data, &legacy); err == nil {
			if legacy.OpenAI != nil {
				a := *legacy.OpenAI
				a.Provider = "openai"
				rf.AgentA = &a
			}
			if legacy.Anthropic != nil {
				b := *legacy.Anthropic
				b.Provider = "anthropic"
				rf.AgentB = &b
			}
		}
	}

	warnings, err := rf.validate()
	if err != nil {
		return nil, warnings, err
	}
	return &rf, warnings, nil
}

func validTemp(t float64) bool {
	return t >= 0 && t <= 2
}

func (rf *RoleFile) validate() ([]string, error) {
	var warnings []string

	if rf.TempA != nil && !validTemp(*rf.TempA) {
		return warnings, fmt.Errorf("temp_a %.2f out of range [0,2]", *rf.TempA)
	}
	if rf.TempB != nil && !validTemp(*rf.TempB) {
		return warnings, fmt.Errorf("temp_b %.2f out of range [0,2]", *rf.TempB)
	}
	for _, a := range []*AgentSettings{rf.AgentA, rf.AgentB} {
		if a != nil && a.Temperature != nil && !validTemp(*a.Temperature) {
			return warnings, fmt.Errorf("agent temperature %.2f out of range [0,2]", *a.Temperature)
		}
	}

	kept := make([]string, 0, len(rf.StopWords))
	for _, w := range rf.StopWords {
		if strings.TrimSpace(w) == "" {
			warnings = append(warnings, "dropping empty stop word")
			continue
		}
		kept = append(kept, w)
	}
	rf.StopWords = kept

	for key, p := range rf.PersonaLibrary {
		switch {
		case strings.TrimSpace(p.Name) == "":
			warnings = append(warnings, fmt.Sprintf("persona %q removed: empty name", key))
			delete(rf.PersonaLibrary, key)
		case p.Name != key:
			warnings = append(warnings, fmt.Sprintf("persona %q removed: name %q does not match key", key, p.Name))
			delete(rf.PersonaLibrary, key)
		case strings.TrimSpace(p.System) == "":
			warnings = append(warnings, fmt.Sprintf("persona %q removed: empty system prompt", key))
			delete(rf.PersonaLibrary, key)
		case p.Temperature != nil && !validTemp(*p.Temperature):
			// Keep the persona, drop only the bad override. The agent
			// proceeds with its prior temperature.
			warnings = append(warnings, fmt.Sprintf(
				"persona %q: temperature %.2f out of range [0,2], ignoring override", key, *p.Temperature))
			p.Temperature = nil
			rf.PersonaLibrary[key] = p
		}
	}

	return warnings, nil
}

// Save writes the role file back as indented JSON. Unknown fields from
// the loaded document are not preserved.
func (rf *RoleFile) Save(path string) error {
	data, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode role file: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write role file: %w", err)
	}
	return nil
}

// =============================================================================
// OVERLAY
// =============================================================================

// Overlay resolves a persona into the system prompt an agent should run
// with, plus an optional temperature override. Guidelines become bullet
// lines under a "Guidelines:" heading.
func (rf *RoleFile) Overlay(personaKey string) (system string, temp *float64, err error) {
	p, ok := rf.PersonaLibrary[personaKey]
	if !ok {
		return "", nil, fmt.Errorf("persona %q not found", personaKey)
	}
	var b strings.Builder
	b.WriteString(p.System)
	if len(p.Guidelines) > 0 {
		b.WriteString("\n\nGuidelines:")
		for _, g := range p.Guidelines {
			b.WriteString("\n- ")
			b.WriteString(g)
		}
	}
	return b.String(), p.Temperature, nil
}
