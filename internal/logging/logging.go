// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging configures the session logger: structured JSON to a
// per-session file, warnings and errors mirrored to stderr so they are
// visible without muddying the streamed conversation.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup opens the session log file under dir using the transcript naming
// scheme and returns the configured logger plus a close function. When
// the file cannot be created, logging degrades to stderr only.
func Setup(dir, sessionName, level string) (zerolog.Logger, func(), error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	consoleFiltered := &levelWriter{w: console, min: zerolog.WarnLevel}

	var writers []io.Writer
	var closeFn func()

	if err := os.MkdirAll(dir, 0755); err == nil {
		name := fmt.Sprintf("%s__%s.log", time.Now().Format("2006-01-02_15-04-05"), sessionName)
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			writers = append(writers, f)
			closeFn = func() { f.Close() }
		}
	}
	writers = append(writers, consoleFiltered)
	if closeFn == nil {
		closeFn = func() {}
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().
		Timestamp().
		Logger()
	// Packages without an injected logger report through the global one.
	log.Logger = logger
	return logger, closeFn, nil
}

// levelWriter drops events below min. Used to keep the console quiet
// while the file gets everything.
type levelWriter struct {
	w   io.Writer
	min zerolog.Level
}

func (l *levelWriter) Write(p []byte) (int, error) {
	// Fallback for writes without level information.
	return l.w.Write(p)
}

func (l *levelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < l.min {
		return len(p), nil
	}
	return l.w.Write(p)
}
