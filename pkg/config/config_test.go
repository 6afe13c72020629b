package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "server:\n  port: 9000\n"))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Tracker.Interval)
	assert.Equal(t, 500.0, cfg.Tracker.ArrivalRadiusMeters)
	assert.Equal(t, 3, cfg.Backend.UploadAttempts)
	assert.Equal(t, time.Second, cfg.Backend.UploadRetryDelay)
	assert.False(t, cfg.Redis.RedisEnabled())
}

func TestLoadFile_Tracker(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, `
tracker:
  interval: 2s
  sample_timeout: 500ms
  exit_margin_meters: 50
  source: replay
  waypoints:
    - [17.385, 78.4867]
    - [17.44, 78.3489]
`))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Tracker.Interval)
	assert.Equal(t, 500*time.Millisecond, cfg.Tracker.SampleTimeout)
	assert.Equal(t, 50.0, cfg.Tracker.ExitMarginMeters)
	require.Len(t, cfg.Tracker.Waypoints, 2)
	assert.Equal(t, 78.3489, cfg.Tracker.Waypoints[1][1])
}

func TestLoadFile_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad port", "server:\n  port: 70000\n"},
		{"tiny interval", "tracker:\n  interval: 1ms\n"},
		{"negative margin", "tracker:\n  exit_margin_meters: -1\n"},
		{"fallback out of range", "tracker:\n  fallback_latitude: 91\n"},
		{"replay without waypoints", "tracker:\n  source: replay\n"},
		{"unknown source", "tracker:\n  source: satellite\n"},
		{"device without fix age", "tracker:\n  source: device\n  max_fix_age: 0s\n"},
		{"zero upload attempts", "backend:\n  upload_attempts: 0\n"},
		{"short secret", "auth:\n  jwt_secret: abc\n"},
		{"bad log level", "log:\n  level: loud\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_DeviceSource(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "tracker:\n  source: device\n  max_fix_age: 45s\n"))
	require.NoError(t, err)

	assert.Equal(t, "device", cfg.Tracker.Source)
	assert.Equal(t, 45*time.Second, cfg.Tracker.MaxFixAge)
}

func TestServerConfig_Helpers(t *testing.T) {
	s := ServerConfig{Host: "0.0.0.0", Port: 8080, Environment: "Production"}
	assert.Equal(t, "0.0.0.0:8080", s.GetServerAddr())
	assert.True(t, s.IsProduction())
}
