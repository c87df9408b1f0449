package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"empty listen", func(s *Settings) { s.ListenAddr = "" }},
		{"unknown backend", func(s *Settings) { s.ConfigBackend = "etcd" }},
		{"file backend without path", func(s *Settings) { s.ConfigPath = "" }},
		{"redis backend without addr", func(s *Settings) { s.ConfigBackend = BackendRedis; s.RedisAddr = "" }},
		{"pump duty zero", func(s *Settings) { s.PumpDuty = 0 }},
		{"pump duty above one", func(s *Settings) { s.PumpDuty = 1.5 }},
		{"slow maintenance", func(s *Settings) { s.MaintenanceInterval = 2 * time.Second }},
		{"negative backoff", func(s *Settings) { s.ErrorBackoff = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestVideoDevice(t *testing.T) {
	s := Default()
	assert.Equal(t, 0, s.VideoDevice())

	s.VideoSource = "rtsp://cam.local/stream"
	assert.Equal(t, "rtsp://cam.local/stream", s.VideoDevice())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("WEEDBOT_TEST_DOTENV=loaded\n"), 0o644))
	t.Setenv("WEEDBOT_TEST_DOTENV", "")
	os.Unsetenv("WEEDBOT_TEST_DOTENV")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("WEEDBOT_TEST_DOTENV"))

	// Missing files are skipped.
	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}
