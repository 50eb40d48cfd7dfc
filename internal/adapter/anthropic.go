// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// =============================================================================
// ANTHROPIC CLIENT
// =============================================================================

const anthropicVersion = "2023-06-01"

// AnthropicClient speaks the Anthropic messages protocol with SSE
// streaming. Older proxy endpoints that lack /v1/messages get one retry
// against the legacy text-completion route.
type AnthropicClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewAnthropicClient creates an Anthropic adapter for the given endpoint.
func NewAnthropicClient(baseURL, apiKey string) *AnthropicClient {
	return &AnthropicClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    streamingClient,
	}
}

// Name implements Client.
func (c *AnthropicClient) Name() string { return "anthropic" }

// anthropicTextBlock is one entry of the typed content list the
// messages API expects.
type anthropicTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicMessage struct {
	Role    string               `json:"role"`
	Content []anthropicTextBlock `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens"`
	Stream      bool               `json:"stream"`
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Stream implements Client.
func (c *AnthropicClient) Stream(ctx context.Context, req Request, emit EmitFunc) error {
	if c.apiKey == "" {
		return ErrNotConfigured
	}
	if err := waitTurn(ctx); err != nil {
		return err
	}

	msgs := buildMessages(req)
	var system string
	if len(msgs) > 0 && msgs[0].Role == "system" {
		system = msgs[0].Content
		msgs = msgs[1:]
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	wire := make([]anthropicMessage, 0, len(msgs))
	for _, m := range msgs {
		wire = append(wire, anthropicMessage{
			Role:    m.Role,
			Content: []anthropicTextBlock{{Type: "text", Text: m.Content}},
		})
	}

	body := anthropicRequest{
		Model:       req.Model,
		System:      system,
		Messages:    wire,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
		Stream:      true,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		terr := classifyTransportError(err, c.baseURL)
		if errors.Is(terr, context.Canceled) || errors.Is(terr, context.DeadlineExceeded) {
			return terr
		}
		// Transient request failures get the same one-shot retry against
		// the legacy route as a missing endpoint.
		log.Warn().Err(terr).Str("adapter", c.Name()).
			Msg("messages endpoint failed, falling back to legacy completion")
		return c.legacyComplete(ctx, req, emit)
	}
	defer resp.Body.Close()

	// Endpoints predating the messages API answer 404 or 405 here.
	// Retry once against the legacy completion route, non-streaming.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		log.Warn().Int("status", resp.StatusCode).Str("adapter", c.Name()).
			Msg("messages endpoint missing, falling back to legacy completion")
		return c.legacyComplete(ctx, req, emit)
	}

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError(resp.StatusCode, errBody)
	}

	return c.processStream(ctx, resp.Body, emit)
}

func (c *AnthropicClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
}

func (c *AnthropicClient) processStream(ctx context.Context, body io.Reader, emit EmitFunc) error {
	reader := NewSSEReader(body)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return classifyTransportError(err, c.baseURL)
		}

		var ev anthropicEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Text != "" {
				emit(ev.Delta.Text)
			}
		case "message_stop":
			return nil
		case "error":
			return wrapError(ErrTypeServer, "stream error from provider",
				fmt.Errorf("%s: %s", ev.Error.Type, ev.Error.Message))
		}
	}
}

// =============================================================================
// LEGACY COMPLETION FALLBACK
// =============================================================================

type anthropicLegacyRequest struct {
	Model             string  `json:"model"`
	Prompt            string  `json:"prompt"`
	Temperature       float64 `json:"temperature"`
	MaxTokensToSample int     `json:"max_tokens_to_sample"`
}

type anthropicLegacyResponse struct {
	Completion string `json:"completion"`
}

// legacyComplete flattens the conversation into a single labeled prompt
// and emits the whole completion at once.
func (c *AnthropicClient) legacyComplete(ctx context.Context, req Request, emit EmitFunc) error {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	body := anthropicLegacyRequest{
		Model:             req.Model,
		Prompt:            flattenPrompt(req),
		Temperature:       req.Temperature,
		MaxTokensToSample: maxTokens,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/complete", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return classifyTransportError(err, c.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError(resp.StatusCode, errBody)
	}

	var out anthropicLegacyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return wrapError(ErrTypeInvalidResponse, "failed to decode completion", err)
	}
	if text := strings.TrimSpace(out.Completion); text != "" {
		emit(text)
	}
	return nil
}
