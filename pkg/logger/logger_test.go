package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warning", WarnLevel},
		{"warn", WarnLevel},
		{"error", ErrorLevel},
		{"bogus", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNew_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "convoy.log")

	log, err := New(Config{
		Level:       InfoLevel,
		Environment: "production",
		FilePath:    path,
		MaxAgeDays:  1,
	})
	require.NoError(t, err)

	log.WithSessionID("s-1").WithDriverID("d-1").Info("location reported")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session_id":"s-1"`)
	assert.Contains(t, string(data), `"driver_id":"d-1"`)
}

func TestWithComponent(t *testing.T) {
	log := NewNop().WithComponent("tracker")
	require.NotNil(t, log)
	log.Info("no-op")
}

func TestGlobalLogger(t *testing.T) {
	assert.NotNil(t, GetGlobalLogger())

	l := NewNop().WithComponent("global")
	SetGlobalLogger(l)
	assert.Same(t, l, GetGlobalLogger())
}
