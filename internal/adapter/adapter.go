// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package adapter implements the provider wire clients. Each adapter
// translates a neutral chat request into one provider protocol and
// streams reply text back through a callback.
package adapter

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/duet/internal/history"
	"github.com/jeranaias/duet/internal/provider"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorType categorizes adapter errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotConfigured
	ErrTypeUnreachable
	ErrTypeTimeout
	ErrTypeRateLimited
	ErrTypeAuth
	ErrTypeModelNotFound
	ErrTypeBlocked
	ErrTypeInvalidResponse
	ErrTypeServer
)

// ClientError represents an error from a provider adapter.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches sentinel errors by Type so errors.Is works across wrapped
// instances carrying different messages.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// Sentinel errors for easy checking.
var (
	ErrNotConfigured   = &ClientError{Type: ErrTypeNotConfigured, Message: "provider is not configured"}
	ErrUnreachable     = &ClientError{Type: ErrTypeUnreachable, Message: "server unreachable"}
	ErrTimeout         = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrRateLimited     = &ClientError{Type: ErrTypeRateLimited, Message: "rate limited"}
	ErrAuth            = &ClientError{Type: ErrTypeAuth, Message: "authentication failed"}
	ErrModelNotFound   = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
	ErrBlocked         = &ClientError{Type: ErrTypeBlocked, Message: "reply blocked by provider"}
	ErrInvalidResponse = &ClientError{Type: ErrTypeInvalidResponse, Message: "invalid response from provider"}
)

// wrapError builds a typed error with a cause.
func wrapError(t ErrorType, msg string, cause error) *ClientError {
	return &ClientError{Type: t, Message: msg, Cause: cause}
}

// statusError maps an HTTP status code and body excerpt to a typed error.
func statusError(status int, body []byte) *ClientError {
	excerpt := string(body)
	if len(excerpt) > 200 {
		excerpt = excerpt[:200]
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return wrapError(ErrTypeAuth, fmt.Sprintf("authentication failed (HTTP %d)", status), fmt.Errorf("%s", excerpt))
	case status == http.StatusNotFound:
		return wrapError(ErrTypeModelNotFound, "model or endpoint not found (HTTP 404)", fmt.Errorf("%s", excerpt))
	case status == http.StatusTooManyRequests:
		return wrapError(ErrTypeRateLimited, "rate limited (HTTP 429)", fmt.Errorf("%s", excerpt))
	case status >= 500:
		return wrapError(ErrTypeServer, fmt.Sprintf("server error (HTTP %d)", status), fmt.Errorf("%s", excerpt))
	default:
		return wrapError(ErrTypeUnknown, fmt.Sprintf("unexpected status (HTTP %d)", status), fmt.Errorf("%s", excerpt))
	}
}

// classifyTransportError maps network-level failures to typed errors.
// Context cancellation and deadline expiry pass through untouched so the
// scheduler can tell a stall from a connection failure.
func classifyTransportError(err error, baseURL string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return wrapError(ErrTypeTimeout, "request timed out", err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return wrapError(ErrTypeUnreachable, fmt.Sprintf("server unreachable at %s", baseURL), err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return classifyTransportError(urlErr.Err, baseURL)
	}
	return wrapError(ErrTypeUnknown, "request failed", err)
}

// =============================================================================
// REQUEST AND CLIENT INTERFACE
// =============================================================================

// Request is the neutral chat request every adapter consumes. Turn
// authorship is relative: the requesting agent's own turns become
// assistant messages, everything else becomes user messages.
type Request struct {
	Model       string
	System      string
	Turns       []history.Turn
	SelfAuthor  history.Author
	Temperature float64
	MaxTokens   int
}

// EmitFunc receives each streamed text fragment as it arrives. Fragments
// concatenate to the full reply.
type EmitFunc func(text string)

// Client streams a single chat completion. Implementations honor ctx
// cancellation and deadlines; the caller owns the turn deadline.
type Client interface {
	// Stream sends req and invokes emit for each text fragment. It
	// returns after the stream ends or fails. Partial text may have
	// been emitted before an error.
	Stream(ctx context.Context, req Request, emit EmitFunc) error

	// Name identifies the adapter for logs.
	Name() string
}

// =============================================================================
// SHARED HTTP CLIENTS
// =============================================================================

// streamingClient has no overall timeout. Turn deadlines are enforced by
// the caller's context so a healthy long stream is never cut off.
var streamingClient = &http.Client{
	Transport: &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
	},
}

// requestLimiter smooths request bursts against cloud APIs. Two requests
// per second with a small burst is well under every provider's limit
// while keeping alternating-turn latency negligible.
var requestLimiter = rate.NewLimiter(rate.Limit(2), 4)

// waitTurn blocks until the shared limiter admits a request.
func waitTurn(ctx context.Context) error {
	if err := requestLimiter.Wait(ctx); err != nil {
		return wrapError(ErrTypeTimeout, "cancelled waiting for rate limiter", err)
	}
	return nil
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

// New returns the adapter for a provider spec. The API key is read from
// the spec's environment variable at construction time.
func New(spec provider.Spec, baseURL string) (Client, error) {
	if baseURL == "" && spec.Kind == provider.KindOllama {
		baseURL = os.Getenv("OLLAMA_HOST")
	}
	if baseURL == "" {
		baseURL = spec.BaseURL
	}
	apiKey := provider.Credential(spec)
	switch spec.Kind {
	case provider.KindChatML:
		return NewChatMLClient(baseURL, apiKey), nil
	case provider.KindAnthropic:
		return NewAnthropicClient(baseURL, apiKey), nil
	case provider.KindGemini:
		return NewGeminiClient(baseURL, apiKey), nil
	case provider.KindOllama:
		return NewOllamaClient(baseURL), nil
	default:
		return nil, fmt.Errorf("no adapter for provider kind %s", spec.Kind)
	}
}
