// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	cfg.SetDefaults()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 30, cfg.Session.MaxRounds)
	assert.Equal(t, 8, cfg.Session.MemRounds)
	assert.Equal(t, 90, cfg.Session.TurnTimeoutSecs)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Session.MaxRounds)
}

func TestLoad_TOMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	doc := `
[session]
max_rounds = 12
mem_rounds = 4
stop_words = ["adieu"]

[memory]
mode = "http"
url = "http://127.0.0.1:9999"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Session.MaxRounds)
	assert.Equal(t, 4, cfg.Session.MemRounds)
	assert.Equal(t, []string{"adieu"}, cfg.Session.StopWords)
	assert.Equal(t, "http", cfg.Memory.Mode)
	// Unset fields keep defaults.
	assert.Equal(t, 90, cfg.Session.TurnTimeoutSecs)
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[session\nbroken"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("DUET_MAX_ROUNDS", "7")
	t.Setenv("DUET_DATA_DIR", "/tmp/duet-test")
	t.Setenv("DUET_MEMORY_URL", "http://127.0.0.1:8088")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, 7, cfg.Session.MaxRounds)
	assert.Equal(t, "/tmp/duet-test", cfg.Paths.DataDir)
	assert.Equal(t, "http", cfg.Memory.Mode)
	assert.Equal(t, "http://127.0.0.1:8088", cfg.Memory.URL)
}

func TestSetDefaults_ResolvesRelativePaths(t *testing.T) {
	cfg := Default()
	cfg.Paths.DataDir = "/data/duet"
	cfg.SetDefaults()
	assert.Equal(t, "/data/duet/duet.db", cfg.Paths.DatabasePath)
	assert.Equal(t, "/data/duet/transcripts", cfg.Paths.TranscriptsDir)
	assert.Equal(t, "/data/duet/logs", cfg.Paths.LogsDir)
}

func TestSetDefaults_KeepsAbsolutePaths(t *testing.T) {
	cfg := Default()
	cfg.Paths.DatabasePath = "/var/lib/duet/duet.db"
	cfg.SetDefaults()
	assert.Equal(t, "/var/lib/duet/duet.db", cfg.Paths.DatabasePath)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Session.MaxRounds = -1
	cfg.Session.DefaultTemperature = 3.0
	cfg.Memory.Mode = "telepathy"
	cfg.SetDefaults()

	err := cfg.Validate()
	require.Error(t, err)
	verrs, ok := err.(ValidateErrors)
	require.True(t, ok)
	assert.Len(t, verrs, 3)
}

func TestValidate_MemoryModeRequirements(t *testing.T) {
	cfg := Default()
	cfg.Memory.Mode = "http"
	cfg.SetDefaults()
	assert.Error(t, cfg.Validate(), "http mode needs a url")

	cfg.Memory.URL = "http://127.0.0.1:9"
	assert.NoError(t, cfg.Validate())

	cfg.Memory.Mode = "rpc"
	cfg.Memory.Command = ""
	assert.Error(t, cfg.Validate(), "rpc mode needs a command")
}

func TestSaveLoad_Roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := Default()
	cfg.Session.MaxRounds = 5
	cfg.Session.StopWords = []string{"adieu", "ciao"}
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.Session.MaxRounds)
	assert.Equal(t, cfg.Session.StopWords, loaded.Session.StopWords)
}
