package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	inTempDir(t)
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, ProfileDual, cfg.Profile)
	assert.Equal(t, zerolog.InfoLevel, cfg.ZerologLevel())

	p, err := cfg.ActiveProfile()
	require.NoError(t, err)
	assert.Equal(t, 99, p.MaxSubscribers)
	assert.True(t, p.AudioMuted)
	assert.Equal(t, 1, p.Mirrors)
	assert.Equal(t, CameraProfile{Width: 320, Height: 240, FrameRate: 15}, p.Camera)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := `
port: 9000
log_level: debug
profile: tiny
profiles:
  tiny:
    max_subscribers: 3
    camera: {width: 160, height: 120, frame_rate: 10}
    encodings:
      - {id: high, scale_resolution_down_by: 1, max_bitrate: 500000}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(yaml), 0o644))
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("RELAY_APP_ID", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "from-env", cfg.AppID)
	assert.Equal(t, zerolog.DebugLevel, cfg.ZerologLevel())

	p, err := cfg.ActiveProfile()
	require.NoError(t, err)
	assert.Equal(t, 3, p.MaxSubscribers)
	assert.Equal(t, 160, p.Camera.Width)
	require.Len(t, p.Encodings, 1)
	assert.Equal(t, domain.EncodingHigh, p.Encodings[0].ID)
}

func TestUnknownProfile(t *testing.T) {
	cfg := &Config{Profile: "nope"}
	_, err := cfg.ActiveProfile()
	assert.Error(t, err)

	cfg = &Config{Profile: "bad", Profiles: map[string]Profile{"bad": {MaxSubscribers: 0}}}
	_, err = cfg.ActiveProfile()
	assert.Error(t, err)
}

func TestDefaultProfilesValid(t *testing.T) {
	for name, p := range DefaultProfiles() {
		assert.NoError(t, p.Validate(), name)
	}
}
