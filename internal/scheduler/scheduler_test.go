// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/duet/internal/adapter"
	"github.com/jeranaias/duet/internal/agent"
	"github.com/jeranaias/duet/internal/detect"
	"github.com/jeranaias/duet/internal/history"
	"github.com/jeranaias/duet/internal/provider"
	"github.com/jeranaias/duet/internal/store"
	"github.com/jeranaias/duet/internal/transcript"
)

// =============================================================================
// FAKES
// =============================================================================

// scriptedClient replays canned replies, one per Stream call. Each reply
// is emitted as word-sized chunks. A nil script entry blocks until the
// context expires, simulating a stall after the first chunk.
type scriptedClient struct {
	replies  []*string
	calls    int
	requests []adapter.Request
}

func reply(s string) *string { return &s }

func (c *scriptedClient) Stream(ctx context.Context, req adapter.Request, emit adapter.EmitFunc) error {
	c.requests = append(c.requests, req)
	if c.calls >= len(c.replies) {
		emit("default reply")
		c.calls++
		return nil
	}
	r := c.replies[c.calls]
	c.calls++
	if r == nil {
		emit("partial ")
		<-ctx.Done()
		return ctx.Err()
	}
	for _, word := range strings.SplitAfter(*r, " ") {
		if word != "" {
			emit(word)
		}
	}
	return nil
}

func (c *scriptedClient) Name() string { return "scripted" }

func testAgent(t *testing.T, id, providerKey, model string, client adapter.Client) *agent.Runtime {
	t.Helper()
	spec, err := provider.NewRegistry().Lookup(providerKey)
	require.NoError(t, err)
	label := "Agent A"
	if id == "b" {
		label = "Agent B"
	}
	return &agent.Runtime{
		ID:           id,
		Label:        label,
		Provider:     spec,
		Model:        model,
		Temperature:  0.7,
		SystemPrompt: "test prompt",
		Client:       client,
	}
}

type fixture struct {
	sched *Scheduler
	store *store.Store
	dir   string
	a, b  *scriptedClient
}

func newFixture(t *testing.T, opts Options, aReplies, bReplies []*string) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "duet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ca := &scriptedClient{replies: aReplies}
	cb := &scriptedClient{replies: bReplies}
	a := testAgent(t, "a", "openai", "gpt-4o-mini", ca)
	b := testAgent(t, "b", "anthropic", "claude-3-5-sonnet-20241022", cb)

	tw := transcript.NewWriter(filepath.Join(dir, "transcripts"), transcript.FormatMarkdown, transcript.Header{
		SessionID: "test",
		Starter:   "Hello",
		StartedAt: time.Now(),
		AgentA:    transcript.AgentInfo{Label: a.Label, Provider: "openai", Model: a.Model},
		AgentB:    transcript.AgentInfo{Label: b.Label, Provider: "anthropic", Model: b.Model},
	})

	sched := New(a, b, history.New(), st, tw, opts, zerolog.Nop())
	return &fixture{sched: sched, store: st, dir: dir, a: ca, b: cb}
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestRun_HappyPathThreeRounds(t *testing.T) {
	f := newFixture(t, Options{MaxRounds: 3, MemRounds: 8},
		[]*string{reply("Hi there."), reply("Goodbye.")},
		[]*string{reply("Greetings.")})

	res := f.sched.Run(context.Background(), "Hello")
	assert.Equal(t, ReasonMaxRounds, res.Reason)
	assert.Equal(t, 3, res.Rounds)
	require.NoError(t, res.Err)

	msgs, err := f.store.Messages(context.Background(), res.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 4, "starter plus three replies")
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, "Hi there.", msgs[1].Content)
	assert.Equal(t, "Greetings.", msgs[2].Content)
	assert.Equal(t, "Goodbye.", msgs[3].Content)

	conv, err := f.store.GetConversation(context.Background(), res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, conv.Status)

	data, err := os.ReadFile(res.TranscriptPath)
	require.NoError(t, err)
	content := string(data)
	for _, want := range []string{"Hello", "Hi there.", "Greetings.", "Goodbye.", "max_rounds"} {
		assert.Contains(t, content, want)
	}
}

func TestRun_MaxRoundsZeroEndsImmediately(t *testing.T) {
	f := newFixture(t, Options{MaxRounds: 0, MemRounds: 8}, nil, nil)

	res := f.sched.Run(context.Background(), "Hello")
	assert.Equal(t, ReasonMaxRounds, res.Reason)
	assert.Equal(t, 0, res.Rounds)
	assert.Zero(t, f.a.calls)
	assert.Zero(t, f.b.calls)

	msgs, err := f.store.Messages(context.Background(), res.ConversationID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "only the starter")
}

func TestRun_RepetitionTerminatesBeforeAdapterCall(t *testing.T) {
	f := newFixture(t, Options{MaxRounds: 30, MemRounds: 8}, nil, nil)

	// Seed a looping history: the pre-turn check must fire before either
	// adapter is invoked.
	same := "We keep circling back to the exact same point again."
	for i := 0; i < 6; i++ {
		author := history.AuthorA
		if i%2 == 1 {
			author = history.AuthorB
		}
		f.sched.hist.Add(author, same)
	}
	require.True(t, detect.Repetitive(f.sched.hist.Texts()))

	res := f.sched.Run(context.Background(), "Hello")
	assert.Equal(t, ReasonRepetition, res.Reason)
	assert.Zero(t, f.a.calls)
	assert.Zero(t, f.b.calls)

	// The starter was still accepted and persisted before termination.
	msgs, err := f.store.Messages(context.Background(), res.ConversationID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	conv, err := f.store.GetConversation(context.Background(), res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, conv.Status)
}

func TestRun_StallDiscardsPartialReply(t *testing.T) {
	f := newFixture(t, Options{MaxRounds: 10, MemRounds: 8, TurnTimeout: 50 * time.Millisecond},
		[]*string{reply("First full reply from A.")},
		[]*string{nil}) // B stalls after one chunk

	res := f.sched.Run(context.Background(), "Hello")
	assert.Equal(t, ReasonStall, res.Reason)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "Agent B")

	msgs, err := f.store.Messages(context.Background(), res.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "starter and A's reply only; partial not persisted")
	assert.Equal(t, "First full reply from A.", msgs[1].Content)

	conv, err := f.store.GetConversation(context.Background(), res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, conv.Status)

	// Transcript is still flushed on the failure path.
	assert.NotEmpty(t, res.TranscriptPath)
	data, err := os.ReadFile(res.TranscriptPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "stall")
	assert.NotContains(t, string(data), "partial")
}

func TestRun_EmptyReplyTerminates(t *testing.T) {
	f := newFixture(t, Options{MaxRounds: 10, MemRounds: 8},
		[]*string{reply("   ")}, nil)

	res := f.sched.Run(context.Background(), "Hello")
	assert.Equal(t, ReasonEmpty, res.Reason)

	conv, err := f.store.GetConversation(context.Background(), res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, conv.Status)
}

func TestRun_StopWordIgnoredInEarlyRounds(t *testing.T) {
	replies := make([]*string, 0, 6)
	for i := 0; i < 3; i++ {
		replies = append(replies, reply("Well, goodbye for now, but let me continue this thought further."))
	}
	f := newFixture(t, Options{
		MaxRounds:        4,
		MemRounds:        8,
		StopWords:        detect.DefaultStopWords,
		StopWordsEnabled: true,
	}, replies, replies)

	res := f.sched.Run(context.Background(), "Hello")
	// Stop word appears from round 1 but only activates after round 10,
	// so the cap fires first.
	assert.Equal(t, ReasonMaxRounds, res.Reason)
	assert.Equal(t, 4, res.Rounds)
}

func TestRun_StopWordTerminatesAfterThreshold(t *testing.T) {
	varied := []*string{
		reply("The harbor lights flicker over a restless tide tonight on the bay."),
		reply("Quantum error correction demands redundancy across many physical qubits."),
		reply("A sourdough starter needs feeding on a steady schedule every day."),
		reply("Mountain weather can turn within the span of a single hour."),
		reply("Volcanic soil grows some of the best coffee in the world."),
		reply("Good talk. Farewell, and thank you for the conversation."),
	}
	// Alternate distinct replies so repetition never fires; the farewell
	// lands on round 11.
	aReplies := []*string{varied[0], varied[1], varied[2], varied[3], varied[4], varied[5]}
	bReplies := []*string{
		reply("Glaciers carve valleys over tens of thousands of years slowly."),
		reply("The printing press reshaped literacy across entire continents quickly."),
		reply("Deep ocean trenches host life found nowhere else on the planet."),
		reply("Typography choices quietly steer how readers absorb long documents."),
		reply("Urban birdsong shifts pitch to cut through city noise levels."),
	}

	f := newFixture(t, Options{
		MaxRounds:        30,
		MemRounds:        8,
		StopWords:        detect.DefaultStopWords,
		StopWordsEnabled: true,
	}, aReplies, bReplies)

	res := f.sched.Run(context.Background(), "Hello")
	assert.Equal(t, ReasonStopWord, res.Reason)
	assert.Equal(t, 11, res.Rounds)
}

func TestRun_InterruptIsGraceful(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, Options{MaxRounds: 30, MemRounds: 8},
		[]*string{reply("First reply."), nil}, // A's second turn blocks
		[]*string{reply("Second reply.")})

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	res := f.sched.Run(ctx, "Hello")
	assert.Equal(t, ReasonInterrupt, res.Reason)

	conv, err := f.store.GetConversation(context.Background(), res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, conv.Status, "interrupt is graceful")
	assert.NotEmpty(t, res.TranscriptPath)
}

func TestRun_ContextTurnsPinnedForBothAgents(t *testing.T) {
	f := newFixture(t, Options{MaxRounds: 2, MemRounds: 1},
		[]*string{reply("Reply from A about the topic at hand.")},
		[]*string{reply("Reply from B continuing the discussion.")})

	f.sched.hist.Add(history.AuthorContext, "[transcript:old.md] earlier finding one")
	f.sched.hist.Add(history.AuthorContext, "[history:openai/gpt] earlier finding two")

	res := f.sched.Run(context.Background(), "Hello")
	require.Equal(t, ReasonMaxRounds, res.Reason)

	for _, c := range []*scriptedClient{f.a, f.b} {
		require.NotEmpty(t, c.requests)
		for _, req := range c.requests {
			require.GreaterOrEqual(t, len(req.Turns), 3)
			assert.Equal(t, history.AuthorContext, req.Turns[0].Author)
			assert.Equal(t, history.AuthorContext, req.Turns[1].Author)
			assert.Contains(t, req.Turns[0].Text, "earlier finding one")
		}
	}
}

func TestRun_MemRoundsFloorsAtOne(t *testing.T) {
	f := newFixture(t, Options{MaxRounds: 2, MemRounds: 0},
		[]*string{reply("A speaks first.")},
		[]*string{reply("B answers.")})

	res := f.sched.Run(context.Background(), "Hello")
	require.Equal(t, ReasonMaxRounds, res.Reason)

	// With the floor of one, B still sees A's reply.
	require.Len(t, f.b.requests, 1)
	turns := f.b.requests[0].Turns
	require.Len(t, turns, 1)
	assert.Equal(t, "A speaks first.", turns[0].Text)
}

func TestRun_EchoReceivesChunksInOrder(t *testing.T) {
	var got []string
	f := newFixture(t, Options{
		MaxRounds: 1,
		MemRounds: 8,
		Echo: func(label, chunk string) {
			got = append(got, chunk)
		},
	}, []*string{reply("one two three")}, nil)

	res := f.sched.Run(context.Background(), "Hello")
	require.Equal(t, ReasonMaxRounds, res.Reason)
	assert.Equal(t, "one two three", strings.Join(got, ""))
}
