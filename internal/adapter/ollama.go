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
)

// =============================================================================
// OLLAMA CLIENT
// =============================================================================

// OllamaClient speaks the local Ollama chat protocol, a stream of
// newline-delimited JSON frames. No authentication is required.
type OllamaClient struct {
	baseURL string
	http    *http.Client
}

// NewOllamaClient creates an Ollama adapter for the given host.
func NewOllamaClient(baseURL string) *OllamaClient {
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    streamingClient,
	}
}

// Name implements Client.
func (c *OllamaClient) Name() string { return "ollama" }

type ollamaRequest struct {
	Model    string        `json:"model"`
	System   string        `json:"system,omitempty"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  struct {
		Temperature float64 `json:"temperature"`
		NumPredict  int     `json:"num_predict,omitempty"`
	} `json:"options"`
}

type ollamaFrame struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// Stream implements Client.
func (c *OllamaClient) Stream(ctx context.Context, req Request, emit EmitFunc) error {
	// The system prompt travels in its own field, not as a message.
	msgs := buildMessages(req)
	var system string
	if len(msgs) > 0 && msgs[0].Role == "system" {
		system = msgs[0].Content
		msgs = msgs[1:]
	}

	body := ollamaRequest{
		Model:    req.Model,
		System:   system,
		Messages: msgs,
		Stream:   true,
	}
	body.Options.Temperature = req.Temperature
	body.Options.NumPredict = req.MaxTokens

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		classified := classifyTransportError(err, c.baseURL)
		var ce *ClientError
		if errors.As(classified, &ce) && ce.Type == ErrTypeUnreachable {
			return wrapError(ErrTypeUnreachable,
				fmt.Sprintf("Ollama server unreachable at %s (is it running?)", c.baseURL), err)
		}
		return classified
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if bytes.Contains(errBody, []byte("model")) {
			return wrapError(ErrTypeModelNotFound,
				fmt.Sprintf("model %q not found (try: ollama pull %s)", req.Model, req.Model), nil)
		}
		return statusError(resp.StatusCode, errBody)
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError(resp.StatusCode, errBody)
	}

	return c.processStream(ctx, resp.Body, emit)
}

func (c *OllamaClient) processStream(ctx context.Context, body io.Reader, emit EmitFunc) error {
	reader := NewLineReader(body)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadFrame()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return classifyTransportError(err, c.baseURL)
		}

		var frame ollamaFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			continue
		}
		if frame.Error != "" {
			return wrapError(ErrTypeServer, "stream error from Ollama", fmt.Errorf("%s", frame.Error))
		}
		if frame.Message.Content != "" {
			emit(frame.Message.Content)
		}
		if frame.Done {
			return nil
		}
	}
}
