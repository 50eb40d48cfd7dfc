// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// =============================================================================
// CHATML CLIENT
// =============================================================================

// ChatMLClient speaks the OpenAI-compatible chat-completions protocol
// with SSE streaming. It covers OpenAI, OpenRouter, DeepSeek, and local
// LM-Studio-style servers; they differ only in base URL and headers.
type ChatMLClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewChatMLClient creates a ChatML adapter for the given endpoint. The
// key may be empty for local servers.
func NewChatMLClient(baseURL, apiKey string) *ChatMLClient {
	return &ChatMLClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    streamingClient,
	}
}

// Name implements Client.
func (c *ChatMLClient) Name() string { return "chatml" }

type chatMLRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatMLChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Stream implements Client.
func (c *ChatMLClient) Stream(ctx context.Context, req Request, emit EmitFunc) error {
	if err := waitTurn(ctx); err != nil {
		return err
	}

	body := chatMLRequest{
		Model:       req.Model,
		Messages:    buildMessages(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
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

	return c.processStream(ctx, resp.Body, emit)
}

func (c *ChatMLClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	// OpenRouter uses these for app attribution and ranks keyless
	// requests lower without them.
	if strings.Contains(c.baseURL, "openrouter.ai") {
		req.Header.Set("HTTP-Referer", "https://github.com/jeranaias/duet")
		req.Header.Set("X-Title", "duet")
	}
}

func (c *ChatMLClient) processStream(ctx context.Context, body io.Reader, emit EmitFunc) error {
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

		if bytes.Equal(data, []byte("[DONE]")) {
			return nil
		}

		var chunk chatMLChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			// Skip malformed chunks rather than aborting the stream.
			continue
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			emit(chunk.Choices[0].Delta.Content)
		}
	}
}
