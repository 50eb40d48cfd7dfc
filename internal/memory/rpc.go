// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// =============================================================================
// SUBPROCESS SIDECAR
// =============================================================================

// RPCSidecar speaks line-delimited JSON-RPC 2.0 to a subprocess over
// stdin/stdout. One request is in flight at a time.
type RPCSidecar struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	nextID int64
	broken bool
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewRPC starts command as the memory subprocess.
func NewRPC(command string, args ...string) (*RPCSidecar, error) {
	cmd := exec.Command(command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to start memory process: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to start memory process: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start memory process: %w", err)
	}
	return &RPCSidecar{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
	}, nil
}

// call sends one request and reads one response line. A transport error
// marks the sidecar broken; later calls return empty results.
func (s *RPCSidecar) call(ctx context.Context, method string, params any, result any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken {
		return fmt.Errorf("memory process unavailable")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.nextID++
	req := rpcRequest{JSONRPC: "2.0", ID: s.nextID, Method: method, Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if _, err := s.stdin.Write(append(payload, '\n')); err != nil {
		s.broken = true
		return err
	}

	line, err := s.stdout.ReadBytes('\n')
	if err != nil {
		s.broken = true
		return err
	}
	var resp rpcResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		s.broken = true
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("memory process error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if result != nil && len(resp.Result) > 0 {
		return json.Unmarshal(resp.Result, result)
	}
	return nil
}

// MemoryFor implements Sidecar. Failures degrade to empty results.
func (s *RPCSidecar) MemoryFor(ctx context.Context, topic string, limit int) (string, error) {
	var out struct {
		Content string `json:"content"`
	}
	params := map[string]any{"topic": topic, "limit": limit}
	if err := s.call(ctx, "memory_for", params, &out); err != nil {
		return "", nil
	}
	return out.Content, nil
}

// Recent implements Sidecar.
func (s *RPCSidecar) Recent(ctx context.Context, limit int) ([]Record, error) {
	var out struct {
		Records []Record `json:"records"`
	}
	if err := s.call(ctx, "recent", map[string]any{"limit": limit}, &out); err != nil {
		return nil, nil
	}
	return out.Records, nil
}

// Healthy implements Sidecar.
func (s *RPCSidecar) Healthy(ctx context.Context) bool {
	return s.call(ctx, "health", nil, nil) == nil
}

// Close terminates the subprocess.
func (s *RPCSidecar) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stdin.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}
