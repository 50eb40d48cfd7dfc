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
	"unicode/utf8"
)

// =============================================================================
// GEMINI CLIENT
// =============================================================================

// geminiChunkRunes sizes the synthetic chunks emitted for Gemini replies.
// The generateContent endpoint is non-streaming, so the full reply is
// split into pieces to keep the caller's chunk handling uniform.
const geminiChunkRunes = 80

// GeminiClient speaks the Google Gemini generateContent protocol.
type GeminiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewGeminiClient creates a Gemini adapter for the given endpoint.
func NewGeminiClient(baseURL, apiKey string) *GeminiClient {
	return &GeminiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    streamingClient,
	}
}

// Name implements Client.
func (c *GeminiClient) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Stream implements Client. Gemini replies arrive in one response; the
// text is re-emitted in fixed-size chunks.
func (c *GeminiClient) Stream(ctx context.Context, req Request, emit EmitFunc) error {
	if c.apiKey == "" {
		return ErrNotConfigured
	}
	if err := waitTurn(ctx); err != nil {
		return err
	}

	body := geminiRequest{
		Contents: buildGeminiContents(req),
	}
	if strings.TrimSpace(req.System) != "" {
		body.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: req.System}},
		}
	}
	body.GenerationConfig.Temperature = req.Temperature
	body.GenerationConfig.MaxOutputTokens = req.MaxTokens

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return classifyTransportError(err, c.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError(resp.StatusCode, errBody)
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return wrapError(ErrTypeInvalidResponse, "failed to decode response", err)
	}

	text, blocked := extractGeminiText(out)
	if blocked != "" {
		// A safety block ends the reply, not the conversation. Emit a
		// visible notice so the transcript records what happened.
		emit(fmt.Sprintf("[reply blocked by provider: %s]", blocked))
		return nil
	}

	emitChunks(ctx, text, emit)
	return ctx.Err()
}

// buildGeminiContents maps turns to Gemini's user/model roles.
func buildGeminiContents(req Request) []geminiContent {
	var contents []geminiContent
	for _, turn := range req.Turns {
		role := "user"
		if turn.Author == req.SelfAuthor {
			role = "model"
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, geminiPart{Text: turn.Text})
			continue
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: turn.Text}},
		})
	}
	return contents
}

// extractGeminiText pulls the reply text, or a block reason when the
// provider refused to answer.
func extractGeminiText(out geminiResponse) (text, blocked string) {
	if out.PromptFeedback.BlockReason != "" {
		return "", out.PromptFeedback.BlockReason
	}
	if len(out.Candidates) == 0 {
		return "", "no candidates"
	}
	cand := out.Candidates[0]
	switch cand.FinishReason {
	case "SAFETY", "RECITATION", "PROHIBITED_CONTENT", "BLOCKLIST":
		return "", cand.FinishReason
	}
	var b strings.Builder
	for _, p := range cand.Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), ""
}

// emitChunks splits text into rune-bounded pieces and emits each one,
// stopping early if ctx is cancelled.
func emitChunks(ctx context.Context, text string, emit EmitFunc) {
	for len(text) > 0 {
		if ctx.Err() != nil {
			return
		}
		n := 0
		runes := 0
		for n < len(text) && runes < geminiChunkRunes {
			_, size := utf8.DecodeRuneInString(text[n:])
			n += size
			runes++
		}
		emit(text[:n])
		text = text[n:]
	}
}
