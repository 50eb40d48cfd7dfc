// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// HTTP SIDECAR
// =============================================================================

// HTTPSidecar fronts a local memory service over HTTP:
//
//	GET /memory?topic=...&limit=N  -> {"content": "..."}
//	GET /recent?limit=N            -> {"records": [...]}
//	GET /health                    -> 200
type HTTPSidecar struct {
	baseURL string
	http    *http.Client
}

// NewHTTP creates an HTTP sidecar client.
func NewHTTP(baseURL string) *HTTPSidecar {
	return &HTTPSidecar{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *HTTPSidecar) get(ctx context.Context, path string, query url.Values, out any) error {
	u := s.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("memory service returned HTTP %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// MemoryFor implements Sidecar. Failures degrade to empty results.
func (s *HTTPSidecar) MemoryFor(ctx context.Context, topic string, limit int) (string, error) {
	q := url.Values{}
	q.Set("topic", topic)
	q.Set("limit", strconv.Itoa(limit))
	var out struct {
		Content string `json:"content"`
	}
	if err := s.get(ctx, "/memory", q, &out); err != nil {
		return "", nil
	}
	return out.Content, nil
}

// Recent implements Sidecar.
func (s *HTTPSidecar) Recent(ctx context.Context, limit int) ([]Record, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	var out struct {
		Records []Record `json:"records"`
	}
	if err := s.get(ctx, "/recent", q, &out); err != nil {
		return nil, nil
	}
	return out.Records, nil
}

// Healthy implements Sidecar.
func (s *HTTPSidecar) Healthy(ctx context.Context) bool {
	return s.get(ctx, "/health", nil, nil) == nil
}
