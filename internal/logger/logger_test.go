package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLogger(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		require.NoError(t, Configure("INFO", "text", "stdout"))
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"Warn", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigure_TextFileOutput(t *testing.T) {
	resetLogger(t)
	path := filepath.Join(t.TempDir(), "out.log")

	require.NoError(t, Configure("WARN", "text", path))

	Info("hidden %d", 1)
	Warn("visible %d", 2)
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	out := string(data)
	assert.NotContains(t, out, "hidden 1")
	assert.Contains(t, out, "visible 2")
	assert.Contains(t, out, "WARN")
}

func TestConfigure_JSONOutput(t *testing.T) {
	resetLogger(t)
	path := filepath.Join(t.TempDir(), "out.json")

	require.NoError(t, Configure("DEBUG", "json", path))
	assert.True(t, IsDebug())

	Debug("transport fd=%d", 9)
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	line := strings.TrimSpace(string(data))
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "DEBUG", entry["level"])
	assert.Equal(t, "transport fd=9", entry["msg"])
}

func TestConfigure_Invalid(t *testing.T) {
	resetLogger(t)

	assert.Error(t, Configure("LOUD", "text", "stdout"))
	assert.Error(t, Configure("INFO", "xml", "stdout"))
	assert.Error(t, Configure("INFO", "text", filepath.Join(t.TempDir(), "missing", "dir", "x.log")))
}

func TestSetLevel_IgnoresUnknown(t *testing.T) {
	resetLogger(t)

	SetLevel("DEBUG")
	assert.True(t, IsDebug())

	SetLevel("nonsense")
	assert.True(t, IsDebug())

	SetLevel("error")
	assert.False(t, IsDebug())
}
