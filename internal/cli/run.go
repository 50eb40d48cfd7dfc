// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/duet/internal/adapter"
	"github.com/jeranaias/duet/internal/agent"
	"github.com/jeranaias/duet/internal/config"
	"github.com/jeranaias/duet/internal/detect"
	"github.com/jeranaias/duet/internal/grounding"
	"github.com/jeranaias/duet/internal/history"
	"github.com/jeranaias/duet/internal/logging"
	"github.com/jeranaias/duet/internal/memory"
	"github.com/jeranaias/duet/internal/provider"
	"github.com/jeranaias/duet/internal/roles"
	"github.com/jeranaias/duet/internal/scheduler"
	"github.com/jeranaias/duet/internal/store"
	"github.com/jeranaias/duet/internal/transcript"
)

// =============================================================================
// RUN COMMAND
// =============================================================================

var runFlags struct {
	providerA string
	providerB string
	modelA    string
	modelB    string
	tempA     float64
	tempB     float64
	maxRounds int
	memRounds int
	maxTokens int
	rolesPath string
	starter   string
	personaA  string
	personaB  string
	useCtx    bool
	format    string
	memMode   string
	memURL    string
	memCmd    string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a two-agent conversation",
}

func init() {
	runCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runSession()
	}
	f := runCmd.Flags()
	f.StringVar(&runFlags.providerA, "provider-a", "openai", "Provider key for agent A")
	f.StringVar(&runFlags.providerB, "provider-b", "anthropic", "Provider key for agent B")
	f.StringVar(&runFlags.modelA, "model-a", "", "Model override for agent A")
	f.StringVar(&runFlags.modelB, "model-b", "", "Model override for agent B")
	f.Float64Var(&runFlags.tempA, "temp-a", -1, "Temperature override for agent A")
	f.Float64Var(&runFlags.tempB, "temp-b", -1, "Temperature override for agent B")
	f.IntVar(&runFlags.maxRounds, "max-rounds", -1, "Maximum total rounds (default 30)")
	f.IntVar(&runFlags.memRounds, "mem-rounds", -1, "History window per turn (default 8)")
	f.IntVar(&runFlags.maxTokens, "max-tokens", -1, "Per-reply token cap (default 1024)")
	f.StringVar(&runFlags.rolesPath, "roles", "", "Path to the role JSON document")
	f.StringVar(&runFlags.starter, "starter", "", "Conversation starter (skips the interactive prompt)")
	f.StringVar(&runFlags.personaA, "persona-a", "", "Persona key for agent A")
	f.StringVar(&runFlags.personaB, "persona-b", "", "Persona key for agent B")
	f.BoolVar(&runFlags.useCtx, "context", false, "Inject context from prior sessions")
	f.StringVar(&runFlags.format, "transcript-format", "md", "Transcript format: md or log")
	f.StringVar(&runFlags.memMode, "memory", "", "Memory sidecar: none, http or rpc")
	f.StringVar(&runFlags.memURL, "memory-endpoint", "", "HTTP memory sidecar base URL")
	f.StringVar(&runFlags.memCmd, "memory-cmd", "", "Command for the JSON-RPC memory sidecar")
	rootCmd.AddCommand(runCmd)
}

// runSession performs startup validation, then hands off to the
// scheduler. Every configuration problem fails here, before the first
// turn.
func runSession() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	roleFile, warnings, err := roles.Load(runFlags.rolesPath)
	if err != nil {
		return err
	}

	starter := strings.TrimSpace(runFlags.starter)
	if starter == "" {
		starter, err = promptStarter()
		if err != nil {
			return err
		}
	}
	if starter == "" {
		return fmt.Errorf("no starter provided")
	}

	sessionLog, closeLog, err := logging.Setup(cfg.Paths.LogsDir, transcript.Slugify(starter), cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer closeLog()
	for _, w := range warnings {
		sessionLog.Warn().Msg(w)
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	registry := provider.NewRegistry()
	agentA, err := buildAgent(registry, cfg, roleFile, "a")
	if err != nil {
		return err
	}
	agentB, err := buildAgent(registry, cfg, roleFile, "b")
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Paths.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	hist := history.New()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runFlags.useCtx {
		gp := grounding.New(st, cfg.Paths.TranscriptsDir)
		for _, turn := range gp.BuildContextTurns(ctx, starter) {
			hist.AddTurn(turn)
		}
	}
	if turn, ok := memoryContext(ctx, cfg, starter); ok {
		hist.AddTurn(turn)
	}

	stopWords := detect.DefaultStopWords
	stopWords = append(stopWords, cfg.Session.StopWords...)
	stopWords = append(stopWords, roleFile.StopWords...)
	stopEnabled := cfg.Session.StopWordDetection
	if roleFile.StopWordDetection != nil {
		stopEnabled = *roleFile.StopWordDetection
	}

	sessionID := uuid.NewString()
	tw := transcript.NewWriter(cfg.Paths.TranscriptsDir, transcript.Format(runFlags.format), transcript.Header{
		SessionID:        sessionID,
		Starter:          starter,
		StartedAt:        time.Now(),
		AgentA:           agentInfo(agentA),
		AgentB:           agentInfo(agentB),
		MaxRounds:        cfg.Session.MaxRounds,
		MemRounds:        cfg.Session.MemRounds,
		StopWordsEnabled: stopEnabled,
		StopWords:        stopWords,
	})

	var lastLabel string
	sched := scheduler.New(agentA, agentB, hist, st, tw, scheduler.Options{
		MaxRounds:        cfg.Session.MaxRounds,
		MemRounds:        cfg.Session.MemRounds,
		TurnTimeout:      time.Duration(cfg.Session.TurnTimeoutSecs) * time.Second,
		StopWords:        stopWords,
		StopWordsEnabled: stopEnabled,
		Echo: func(label, chunk string) {
			if label != lastLabel {
				if lastLabel != "" {
					fmt.Println()
				}
				fmt.Printf("\n── %s ──\n", label)
				lastLabel = label
			}
			fmt.Print(chunk)
		},
	}, sessionLog)

	fmt.Printf("── Starter ──\n%s\n", starter)
	res := sched.Run(ctx, starter)
	fmt.Println()

	fmt.Printf("\nconversation ended: %s (%d rounds)\n", res.Reason, res.Rounds)
	if res.TranscriptPath != "" {
		fmt.Printf("transcript: %s\n", res.TranscriptPath)
	}
	if res.Err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", res.Err)
		// The session failed mid-flight, not at startup; artifacts are
		// already written. Exit non-zero without cobra usage noise.
		os.Exit(1)
	}
	return nil
}

// applyFlagOverrides layers explicit CLI flags over the loaded config.
func applyFlagOverrides(cfg *config.Config) {
	if runFlags.maxRounds >= 0 {
		cfg.Session.MaxRounds = runFlags.maxRounds
	}
	if runFlags.memRounds >= 0 {
		cfg.Session.MemRounds = runFlags.memRounds
	}
	if runFlags.maxTokens > 0 {
		cfg.Session.MaxTokens = runFlags.maxTokens
	}
	switch runFlags.memMode {
	case "none":
		cfg.Memory.Mode = "off"
	case "http", "rpc":
		cfg.Memory.Mode = runFlags.memMode
	}
	if runFlags.memURL != "" {
		cfg.Memory.URL = runFlags.memURL
	}
	if runFlags.memCmd != "" {
		cfg.Memory.Command = runFlags.memCmd
	}
}

// buildAgent resolves one agent: provider, credential, model,
// temperature, persona overlay, and wire client.
func buildAgent(registry *provider.Registry, cfg *config.Config, roleFile *roles.RoleFile, id string) (*agent.Runtime, error) {
	providerKey := runFlags.providerA
	modelFlag := runFlags.modelA
	tempFlag := runFlags.tempA
	personaFlag := runFlags.personaA
	settings := roleFile.AgentA
	fileTemp := roleFile.TempA
	agentEnv := "DUET_MODEL_A"
	label := "Agent A"
	if id == "b" {
		providerKey = runFlags.providerB
		modelFlag = runFlags.modelB
		tempFlag = runFlags.tempB
		personaFlag = runFlags.personaB
		settings = roleFile.AgentB
		fileTemp = roleFile.TempB
		agentEnv = "DUET_MODEL_B"
		label = "Agent B"
	}

	if settings != nil && settings.Provider != "" && !flagChanged("provider-"+id) {
		providerKey = settings.Provider
	}
	spec, err := registry.Lookup(providerKey)
	if err != nil {
		return nil, err
	}
	if err := provider.CheckCredential(spec); err != nil {
		return nil, err
	}

	if modelFlag == "" && settings != nil {
		modelFlag = settings.Model
	}
	model := provider.ResolveModel(spec, modelFlag, agentEnv)

	// Temperature precedence, lowest to highest: config default, role
	// file temp, persona override, CLI flag.
	temp := cfg.Session.DefaultTemperature
	if fileTemp != nil {
		temp = *fileTemp
	}
	if settings != nil && settings.Temperature != nil {
		temp = *settings.Temperature
	}

	system := spec.DefaultSystem
	if settings != nil && settings.System != "" {
		system = settings.System
	}
	personaKey := personaFlag
	if personaKey == "" && settings != nil {
		personaKey = settings.Persona
	}
	if personaKey != "" {
		overlaid, personaTemp, err := roleFile.Overlay(personaKey)
		if err != nil {
			return nil, err
		}
		system = overlaid
		if personaTemp != nil {
			temp = *personaTemp
		}
	}

	if tempFlag >= 0 {
		temp = tempFlag
	}
	if temp < 0 || temp > 2 {
		return nil, fmt.Errorf("%s temperature %.2f out of range [0,2]", label, temp)
	}

	client, err := adapter.New(spec, "")
	if err != nil {
		return nil, err
	}
	return &agent.Runtime{
		ID:           id,
		Label:        label,
		Provider:     spec,
		Model:        model,
		Temperature:  temp,
		SystemPrompt: system,
		MaxTokens:    cfg.Session.MaxTokens,
		Persona:      personaKey,
		Client:       client,
	}, nil
}

func flagChanged(name string) bool {
	f := runCmd.Flags().Lookup(name)
	return f != nil && f.Changed
}

// memoryContext asks the configured sidecar for material about the
// starter topic. Unhealthy or disabled sidecars contribute nothing.
func memoryContext(ctx context.Context, cfg *config.Config, starter string) (history.Turn, bool) {
	var sidecar memory.Sidecar
	switch cfg.Memory.Mode {
	case "http":
		sidecar = memory.NewHTTP(cfg.Memory.URL)
	case "rpc":
		parts := strings.Fields(cfg.Memory.Command)
		if len(parts) == 0 {
			return history.Turn{}, false
		}
		rpc, err := memory.NewRPC(parts[0], parts[1:]...)
		if err != nil {
			return history.Turn{}, false
		}
		// The sidecar is only consulted at startup; release the
		// subprocess once the query returns.
		defer rpc.Close()
		sidecar = rpc
	default:
		return history.Turn{}, false
	}

	if !sidecar.Healthy(ctx) {
		return history.Turn{}, false
	}
	content, err := sidecar.MemoryFor(ctx, starter, 5)
	if err != nil || strings.TrimSpace(content) == "" {
		return history.Turn{}, false
	}
	return history.Turn{Author: history.AuthorContext, Text: "[memory] " + content}, true
}

func agentInfo(rt *agent.Runtime) transcript.AgentInfo {
	return transcript.AgentInfo{
		Label:        rt.Label,
		Provider:     rt.Provider.Key,
		Model:        rt.Model,
		Temperature:  rt.Temperature,
		Persona:      rt.Persona,
		SystemPrompt: rt.SystemPrompt,
	}
}

// promptStarter reads the opening line interactively.
func promptStarter() (string, error) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	text, err := line.Prompt("Starter> ")
	if err != nil {
		if err == liner.ErrPromptAborted {
			return "", fmt.Errorf("aborted")
		}
		return "", err
	}
	return strings.TrimSpace(text), nil
}
