package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "info", false},
		{"DEBUG", "debug", false},
		{"warning", "warn", false},
		{"error", "error", false},
		{"verbose", "info", true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got.String())
	}
}

func TestBuild_FileIsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.log")
	logger, err := build(Config{Level: "debug", File: path}, nil)
	require.NoError(t, err)

	logger.Info("turn complete", zap.String("session", "s1"))
	logger.Debug("details", zap.Int("n", 3))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "turn complete", entry["message"])
	assert.Equal(t, "s1", entry["session"])
	assert.Contains(t, entry, "timestamp")
}

func TestBuild_ConsoleLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := build(Config{Level: "warn", Console: true}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	_ = logger.Sync()

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestBuild_NoOutputsIsNop(t *testing.T) {
	logger, err := build(Config{}, nil)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.ErrorLevel))
}

func TestBuild_BadLevel(t *testing.T) {
	_, err := build(Config{Level: "loud", Console: true}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestNewRotatorDefaults(t *testing.T) {
	r := NewRotator("x.log", 0, 0, 0)
	assert.Equal(t, 10, r.MaxSize)
	assert.Equal(t, 5, r.MaxBackups)
	assert.Equal(t, 30, r.MaxAge)
	assert.True(t, r.Compress)
}
