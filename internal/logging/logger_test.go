package logging

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEntries(t *testing.T, fs afero.Fs, path string) []map[string]any {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)

	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNewLoggerWithRotation(t *testing.T) {
	fs := afero.NewMemMapFs()
	logger, err := NewLoggerWithRotation(fs, "/runs/abc", LevelInfo, DefaultRotationConfig())
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("visible", "key", "value")
	require.NoError(t, logger.Close())

	entries := readEntries(t, fs, filepath.Join("/runs/abc", LogFileName))
	require.Len(t, entries, 1)
	assert.Equal(t, "visible", entries[0]["msg"])
	assert.Equal(t, "value", entries[0]["key"])
}

func TestLogger_ContextPropagation(t *testing.T) {
	fs := afero.NewMemMapFs()
	logger, err := NewLoggerWithRotation(fs, "/runs/r1", LevelDebug, RotationConfig{})
	require.NoError(t, err)

	child := logger.WithRun("r1").WithLoop("implementation").WithPhase("self_review_alignment").With("iteration", 4)
	child.Info("round completed", "write_actions", 2)
	logger.Warn("parent entry")
	require.NoError(t, logger.Close())

	entries := readEntries(t, fs, "/runs/r1/debug.log")
	require.Len(t, entries, 2)

	assert.Equal(t, "r1", entries[0]["run_id"])
	assert.Equal(t, "implementation", entries[0]["loop"])
	assert.Equal(t, "self_review_alignment", entries[0]["phase"])
	assert.EqualValues(t, 4, entries[0]["iteration"])
	assert.EqualValues(t, 2, entries[0]["write_actions"])

	_, hasRun := entries[1]["run_id"]
	assert.False(t, hasRun, "parent logger must not inherit child attributes")
}

func TestLogger_CloseIsIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	logger, err := NewLoggerWithRotation(fs, "/runs/x", LevelInfo, RotationConfig{})
	require.NoError(t, err)

	child := logger.WithRun("x")
	require.NoError(t, child.Close())
	require.NoError(t, logger.Close())
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	logger.WithRun("r").Error("discarded")
	assert.NoError(t, logger.Close())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"Warn", LevelWarn},
		{"error", LevelError},
		{"verbose", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
	assert.Equal(t, []string{"DEBUG", "INFO", "WARN", "ERROR"}, ValidLevels())
}
