// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package scheduler drives the alternating turn loop between two agents:
// streaming replies, persisting messages, recording the transcript, and
// deciding when the conversation ends.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/duet/internal/agent"
	"github.com/jeranaias/duet/internal/detect"
	"github.com/jeranaias/duet/internal/history"
	"github.com/jeranaias/duet/internal/store"
	"github.com/jeranaias/duet/internal/transcript"
)

// =============================================================================
// TERMINATION REASONS
// =============================================================================

// Reason names why a session ended.
type Reason string

const (
	ReasonMaxRounds  Reason = "max_rounds"
	ReasonStopWord   Reason = "stop_word"
	ReasonRepetition Reason = "repetition"
	ReasonStall      Reason = "stall"
	ReasonInterrupt  Reason = "interrupt"
	ReasonError      Reason = "error"
	ReasonEmpty      Reason = "empty"
)

// graceful reasons end the conversation with status "completed"; the
// rest mark it "error".
func (r Reason) graceful() bool {
	switch r {
	case ReasonMaxRounds, ReasonStopWord, ReasonRepetition, ReasonInterrupt, ReasonEmpty:
		return true
	}
	return false
}

// =============================================================================
// OPTIONS AND RESULT
// =============================================================================

// DefaultTurnTimeout is the stall deadline: one non-resetting deadline
// per turn, covering time to first chunk through full-reply completion.
const DefaultTurnTimeout = 90 * time.Second

// logExcerptLen bounds reply copies written to the session log.
const logExcerptLen = 200

// Options configures a session run.
type Options struct {
	MaxRounds        int
	MemRounds        int
	TurnTimeout      time.Duration
	StopWords        []string
	StopWordsEnabled bool

	// Echo receives each chunk as it streams, for console display. May
	// be nil.
	Echo func(agentLabel, chunk string)
}

// Result summarizes a finished session.
type Result struct {
	ConversationID string
	Reason         Reason
	Rounds         int
	TranscriptPath string
	Err            error
}

// Scheduler owns the history, the store handle, and the transcript
// buffer for one session.
type Scheduler struct {
	agentA *agent.Runtime
	agentB *agent.Runtime
	hist   *history.History
	store  *store.Store
	trans  *transcript.Writer
	opts   Options
	log    zerolog.Logger
}

// New creates a scheduler. hist may already hold pinned context turns.
func New(a, b *agent.Runtime, hist *history.History, st *store.Store, tw *transcript.Writer, opts Options, log zerolog.Logger) *Scheduler {
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = DefaultTurnTimeout
	}
	if opts.MemRounds < 1 {
		// A zero window would hide even the turn being answered, so the
		// floor is the immediately prior turn.
		opts.MemRounds = 1
	}
	return &Scheduler{
		agentA: a,
		agentB: b,
		hist:   hist,
		store:  st,
		trans:  tw,
		opts:   opts,
		log:    log,
	}
}

// =============================================================================
// RUN LOOP
// =============================================================================

// Run executes the session until a termination reason fires. The starter
// is persisted as the first message before any agent speaks. Run always
// flushes the transcript and marks the conversation status before
// returning, including on failure paths.
func (s *Scheduler) Run(ctx context.Context, starter string) Result {
	convID, err := s.store.CreateConversation(ctx, s.agentA.Ident(), s.agentB.Ident(), starter)
	if err != nil {
		return Result{Reason: ReasonError, Err: fmt.Errorf("failed to create conversation: %w", err)}
	}
	res := Result{ConversationID: convID}
	seeded := s.hist.Texts()

	// The starter is authored "human" and persisted as role user under
	// agent A's provider tag.
	if _, err := s.store.AppendMessage(ctx, convID, s.agentA.Ident(), "user", starter); err != nil {
		s.log.Error().Err(err).Msg("failed to persist starter")
	}
	s.hist.Add(history.AuthorHuman, starter)
	s.trans.AddTurn(0, "Human", starter, time.Now())

	// A seeded history can already be degenerate. Judge it as it stood
	// at hand-off, before the starter dilutes the window.
	if detect.Repetitive(seeded) {
		return s.finish(res, ReasonRepetition, nil)
	}

	current := s.agentA
	round := 0
	for {
		round++
		res.Rounds = round - 1
		if round > s.opts.MaxRounds {
			return s.finish(res, ReasonMaxRounds, nil)
		}
		if detect.Repetitive(s.hist.Texts()) {
			return s.finish(res, ReasonRepetition, nil)
		}

		reply, err := s.streamTurn(ctx, current)
		if err != nil {
			reason := classifyTurnFailure(ctx, err)
			s.log.Error().Err(err).Str("agent", current.Label).Str("reason", string(reason)).
				Msg("turn aborted")
			res.Err = fmt.Errorf("%s: %w", current.Label, err)
			return s.finish(res, reason, res.Err)
		}

		res.Rounds = round
		if reply == "" {
			return s.finish(res, ReasonEmpty, nil)
		}

		// Persist before transcript so the database never trails the
		// file on a crash between the two writes.
		if _, err := s.store.AppendMessage(ctx, convID, current.Ident(), "assistant", reply); err != nil {
			s.log.Error().Err(err).Str("agent", current.Label).Msg("failed to persist message")
		}
		s.hist.Add(current.Author(), reply)
		s.trans.AddTurn(round, current.Label, reply, time.Now())
		s.log.Info().
			Str("agent", current.Label).
			Int("round", round).
			Int("chars", len(reply)).
			Str("excerpt", excerpt(reply)).
			Msg("turn completed")

		if s.opts.StopWordsEnabled && detect.StopWordActive(round) {
			if word, ok := detect.ContainsStopWord(reply, s.opts.StopWords); ok {
				s.log.Info().Str("stop_word", word).Int("round", round).Msg("stop word matched")
				return s.finish(res, ReasonStopWord, nil)
			}
		}
		if detect.Repetitive(s.hist.Texts()) {
			return s.finish(res, ReasonRepetition, nil)
		}

		if current == s.agentA {
			current = s.agentB
		} else {
			current = s.agentA
		}
	}
}

// streamTurn runs one agent reply under the stall deadline. The partial
// reply is discarded on failure; only completed replies are persisted.
func (s *Scheduler) streamTurn(ctx context.Context, rt *agent.Runtime) (string, error) {
	turnCtx, cancel := context.WithTimeout(ctx, s.opts.TurnTimeout)
	defer cancel()

	var b strings.Builder
	err := rt.StreamReply(turnCtx, s.hist, s.opts.MemRounds, func(chunk string) {
		b.WriteString(chunk)
		if s.opts.Echo != nil {
			s.opts.Echo(rt.Label, chunk)
		}
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}

// classifyTurnFailure separates stall, interrupt, and adapter error.
func classifyTurnFailure(parent context.Context, err error) Reason {
	if parent.Err() != nil {
		return ReasonInterrupt
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonStall
	}
	return ReasonError
}

// finish flushes artifacts and marks the conversation. Flush failures
// are logged, never returned: termination must not be masked by
// bookkeeping errors.
func (s *Scheduler) finish(res Result, reason Reason, cause error) Result {
	res.Reason = reason

	outcome := fmt.Sprintf("conversation ended: %s", reason)
	if cause != nil {
		outcome += " (" + cause.Error() + ")"
	}
	s.trans.SetOutcome(outcome)
	if path, err := s.trans.Flush(); err != nil {
		s.log.Error().Err(err).Msg("failed to write transcript")
	} else {
		res.TranscriptPath = path
	}

	status := store.StatusError
	if reason.graceful() {
		status = store.StatusCompleted
	}
	// Status write uses a fresh context: the session context may
	// already be cancelled on interrupt.
	statusCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.SetStatus(statusCtx, res.ConversationID, status); err != nil {
		s.log.Error().Err(err).Msg("failed to update conversation status")
	}

	s.log.Info().
		Str("conversation", res.ConversationID).
		Str("reason", string(reason)).
		Int("rounds", res.Rounds).
		Msg("session ended")
	return res
}

func excerpt(s string) string {
	r := []rune(s)
	if len(r) <= logExcerptLen {
		return s
	}
	return string(r[:logExcerptLen]) + "…"
}
