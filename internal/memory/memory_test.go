// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNull_AlwaysEmpty(t *testing.T) {
	s := NewNull()
	ctx := context.Background()

	content, err := s.MemoryFor(ctx, "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, content)

	records, err := s.Recent(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, records)

	assert.False(t, s.Healthy(ctx))
}

func TestHTTPSidecar_Queries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/memory":
			assert.Equal(t, "tides", r.URL.Query().Get("topic"))
			json.NewEncoder(w).Encode(map[string]string{"content": "moon pulls water"})
		case "/recent":
			json.NewEncoder(w).Encode(map[string]any{
				"records": []Record{{Topic: "tides", Content: "moon pulls water"}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := NewHTTP(srv.URL)
	ctx := context.Background()

	assert.True(t, s.Healthy(ctx))

	content, err := s.MemoryFor(ctx, "tides", 3)
	require.NoError(t, err)
	assert.Equal(t, "moon pulls water", content)

	records, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "tides", records[0].Topic)
}

func TestHTTPSidecar_UnreachableDegradesToEmpty(t *testing.T) {
	s := NewHTTP("http://127.0.0.1:1")
	ctx := context.Background()

	assert.False(t, s.Healthy(ctx))

	content, err := s.MemoryFor(ctx, "tides", 3)
	require.NoError(t, err, "failures degrade silently")
	assert.Empty(t, content)

	records, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestHTTPSidecar_ServerErrorDegradesToEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewHTTP(srv.URL)
	content, err := s.MemoryFor(context.Background(), "x", 1)
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestRPCSidecar_CloseTerminatesProcess(t *testing.T) {
	s, err := NewRPC("cat")
	require.NoError(t, err)

	s.Close()
	// Wait has reaped the subprocess; a lingering process would leave
	// ProcessState nil.
	assert.NotNil(t, s.cmd.ProcessState)
}
