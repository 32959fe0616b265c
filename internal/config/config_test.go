package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/MirrorRoom/internal/settings"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	m, err := NewManager(path)
	require.NoError(t, err)
	return m, path
}

func TestNewManagerCreatesDefaults(t *testing.T) {
	m, path := newTestManager(t)

	_, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, path, m.GetConfigPath())
	assert.Equal(t, filepath.Dir(path), m.GetConfigDir())

	cfg := m.Get()
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, "auto", cfg.Capture.Backend)
	assert.False(t, cfg.Capture.Shared)
	assert.Equal(t, 3*time.Second, cfg.Capture.StallTimeout)
	assert.Equal(t, DefaultPresetID, m.ActivePreset().ID)
}

func TestManagerRoundTrip(t *testing.T) {
	m, path := newTestManager(t)
	require.NoError(t, m.SetPort(9090))
	require.NoError(t, m.SetLogLevel("debug"))
	require.NoError(t, m.SetValue("capture.shared", "true"))
	require.NoError(t, m.SetValue("capture.stall_timeout", "5s"))
	require.NoError(t, m.SetValue("device.user_agent", "Mozilla/5.0 (iPhone)"))

	reloaded, err := NewManager(path)
	require.NoError(t, err)
	cfg := reloaded.Get()
	assert.Equal(t, 9090, cfg.ServerPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Capture.Shared)
	assert.Equal(t, 5*time.Second, cfg.Capture.StallTimeout)
	assert.Equal(t, "Mozilla/5.0 (iPhone)", cfg.Device.UserAgent)
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_port: 7000\ncapture:\n  backend: v4l2\n"), 0644))

	m, err := NewManager(path)
	require.NoError(t, err)
	cfg := m.Get()
	assert.Equal(t, 7000, cfg.ServerPort)
	assert.Equal(t, "v4l2", cfg.Capture.Backend)
	assert.Equal(t, 640, cfg.Capture.Width)
	assert.Equal(t, 30, cfg.Capture.FPS)
	assert.Equal(t, 960, cfg.Screen.Width)
	require.NotEmpty(t, cfg.Presets)
	assert.Equal(t, DefaultPresetID, cfg.Presets[0].ID)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_port: [\n"), 0644))
	_, err := NewManager(path)
	assert.Error(t, err)
}

func TestValues(t *testing.T) {
	m, _ := newTestManager(t)

	tests := []struct {
		key, value string
		wantErr    bool
		want       interface{}
	}{
		{"server_port", "8181", false, 8181},
		{"server_port", "zero", true, nil},
		{"server_port", "0", true, nil},
		{"log_level", "warn", false, "warn"},
		{"log_level", "loud", true, nil},
		{"capture.backend", "gstreamer", false, "gstreamer"},
		{"capture.fps", "15", false, 15},
		{"capture.shared", "maybe", true, nil},
		{"capture.stall_timeout", "-1s", true, nil},
		{"screen.width", "1280", false, 1280},
		{"preview.terminal", "true", false, true},
		{"nope", "1", true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			err := m.SetValue(tt.key, tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			got, err := m.Value(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := m.Value("nope")
	assert.Error(t, err)
	assert.Contains(t, Keys(), "capture.shared")
}

func TestPresets(t *testing.T) {
	m, path := newTestManager(t)

	sample := settings.SampleSettings{Threshold: 200, PixelSize: 0.1, PixelDensity: 50, Intensity: 1}
	text := settings.TextSettings{FontSize: 20, Words: []string{"HELLO"}}
	require.NoError(t, m.SavePipelineSettings("screen", sample, text))

	p, err := m.CreatePreset("Night Show")
	require.NoError(t, err)
	assert.Equal(t, "night-show", p.ID)
	require.Contains(t, p.Pipelines, "screen")
	assert.Equal(t, 200, p.Pipelines["screen"].Sample.Threshold)

	dup, err := m.CreatePreset("Night Show")
	require.NoError(t, err)
	assert.Equal(t, "night-show-1", dup.ID)

	_, err = m.CreatePreset("  ")
	assert.Error(t, err)

	require.NoError(t, m.SetActivePreset("night-show"))
	assert.Error(t, m.SetActivePreset("missing"))

	reloaded, err := NewManager(path)
	require.NoError(t, err)
	active := reloaded.ActivePreset()
	assert.Equal(t, "night-show", active.ID)
	assert.Equal(t, []string{"HELLO"}, active.Pipelines["screen"].Text.Words)

	// Copies are detached from the manager.
	active.Pipelines["screen"].Text.Words[0] = "CHANGED"
	assert.Equal(t, []string{"HELLO"}, reloaded.ActivePreset().Pipelines["screen"].Text.Words)

	assert.Error(t, m.DeletePreset(DefaultPresetID))
	require.NoError(t, m.DeletePreset("night-show"))
	assert.Equal(t, DefaultPresetID, m.ActivePreset().ID)
	assert.Error(t, m.DeletePreset("night-show"))
	assert.Len(t, m.ListPresets(), 2)
}
