// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package adapter

import (
	"bufio"
	"bytes"
	"io"
)

// =============================================================================
// STREAM FRAMING
// =============================================================================

// maxFrameSize is the maximum allowed size for a single stream frame (64KB).
const maxFrameSize = 64 * 1024

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{
		reader: bufio.NewReader(r),
	}
}

// ReadEvent reads the next SSE event from the stream and returns its
// event type and data payload. The event type is empty for providers
// that only send data lines. Returns io.EOF when the stream ends.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				// Flush a trailing event that lacked its blank line.
				if len(dataLines) > 0 {
					return eventType, bytes.Join(dataLines, []byte("\n")), nil
				}
				return "", nil, io.EOF
			}
			return "", nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Empty line signals end of event.
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		if bytes.HasPrefix(line, []byte("event:")) {
			eventType = string(bytes.TrimSpace(line[6:]))
		} else if bytes.HasPrefix(line, []byte("data:")) {
			dataLines = append(dataLines, bytes.TrimSpace(line[5:]))
		}
		// Ignore other fields (id:, retry:, comments starting with :).
	}
}

// LineReader reads newline-delimited JSON frames, used by the Ollama
// chat stream. Blank lines are skipped; oversized frames are rejected.
type LineReader struct {
	reader *bufio.Reader
}

// NewLineReader creates a new line reader from an io.Reader.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{
		reader: bufio.NewReaderSize(r, 16*1024),
	}
}

// ReadFrame returns the next non-empty line without its terminator.
// Returns io.EOF when the stream ends.
func (l *LineReader) ReadFrame() ([]byte, error) {
	for {
		line, err := l.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				line = bytes.TrimSpace(line)
				if len(line) > 0 {
					return line, nil
				}
				return nil, io.EOF
			}
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if len(line) > maxFrameSize {
			return nil, ErrInvalidResponse
		}
		return line, nil
	}
}
