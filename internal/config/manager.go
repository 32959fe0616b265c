package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/MirrorRoom/internal/logger"
	"github.com/bryanchriswhite/MirrorRoom/internal/settings"
)

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
	saveMu     sync.Mutex
}

// DefaultPath is ~/.config/mirrorroom/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "mirrorroom", "config.yaml"), nil
}

// NewManager loads configFile, or the default path when empty. A missing file is
// created with defaults.
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	m := &Manager{configPath: path}
	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("preset", m.config.ActivePresetID).
		Msg("Config loaded")
	return m, nil
}

// load reads the configuration from disk
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.normalize()

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return Defaults()
	}
	return m.config.clone()
}

// Save writes the configuration to disk.
func (m *Manager) Save() error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.RLock()
	cfg := m.config
	if cfg == nil {
		cfg = Defaults()
	}
	data, err := yaml.Marshal(cfg)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update replaces the entire configuration.
func (m *Manager) Update(cfg *Config) error {
	cfg = cfg.clone()
	cfg.normalize()
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

func (m *Manager) mutate(fn func(c *Config) error) error {
	m.mu.Lock()
	err := fn(m.config)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.Save()
}

func (m *Manager) GetConfigPath() string { return m.configPath }

func (m *Manager) GetConfigDir() string { return filepath.Dir(m.configPath) }

func (m *Manager) GetPort() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.ServerPort
}

func (m *Manager) SetPort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return m.mutate(func(c *Config) error {
		c.ServerPort = port
		return nil
	})
}

func (m *Manager) GetLogLevel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.LogLevel
}

func (m *Manager) SetLogLevel(level string) error {
	if !logger.ValidLevel(level) {
		return fmt.Errorf("invalid log level: %s", level)
	}
	return m.mutate(func(c *Config) error {
		c.LogLevel = level
		return nil
	})
}

// field is one scalar setting reachable from `config get/set`.
type field struct {
	get func(c *Config) interface{}
	set func(c *Config, v string) error
}

func intField(p func(c *Config) *int, min int) field {
	return field{
		get: func(c *Config) interface{} { return *p(c) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("not an integer: %q", v)
			}
			if n < min {
				return fmt.Errorf("must be at least %d", min)
			}
			*p(c) = n
			return nil
		},
	}
}

func stringField(p func(c *Config) *string) field {
	return field{
		get: func(c *Config) interface{} { return *p(c) },
		set: func(c *Config, v string) error { *p(c) = v; return nil },
	}
}

func boolField(p func(c *Config) *bool) field {
	return field{
		get: func(c *Config) interface{} { return *p(c) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("not a boolean: %q", v)
			}
			*p(c) = b
			return nil
		},
	}
}

var fields = map[string]field{
	"server_port": intField(func(c *Config) *int { return &c.ServerPort }, 1),
	"log_level": {
		get: func(c *Config) interface{} { return c.LogLevel },
		set: func(c *Config, v string) error {
			if !logger.ValidLevel(v) {
				return fmt.Errorf("invalid log level: %s", v)
			}
			c.LogLevel = v
			return nil
		},
	},
	"device.user_agent":     stringField(func(c *Config) *string { return &c.Device.UserAgent }),
	"device.viewport_width": intField(func(c *Config) *int { return &c.Device.ViewportWidth }, 0),
	"capture.backend":       stringField(func(c *Config) *string { return &c.Capture.Backend }),
	"capture.device":        stringField(func(c *Config) *string { return &c.Capture.Device }),
	"capture.width":         intField(func(c *Config) *int { return &c.Capture.Width }, 1),
	"capture.height":        intField(func(c *Config) *int { return &c.Capture.Height }, 1),
	"capture.fps":           intField(func(c *Config) *int { return &c.Capture.FPS }, 1),
	"capture.shared":        boolField(func(c *Config) *bool { return &c.Capture.Shared }),
	"capture.stall_timeout": {
		get: func(c *Config) interface{} { return c.Capture.StallTimeout.String() },
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				return fmt.Errorf("invalid duration: %q", v)
			}
			c.Capture.StallTimeout = d
			return nil
		},
	},
	"left_wall.enabled":  boolField(func(c *Config) *bool { return &c.LeftWall.Enabled }),
	"right_wall.enabled": boolField(func(c *Config) *bool { return &c.RightWall.Enabled }),
	"screen.enabled":     boolField(func(c *Config) *bool { return &c.Screen.Enabled }),
	"screen.width":       intField(func(c *Config) *int { return &c.Screen.Width }, 1),
	"screen.height":      intField(func(c *Config) *int { return &c.Screen.Height }, 1),
	"screen.fps":         intField(func(c *Config) *int { return &c.Screen.FPS }, 1),
	"screen.hud":         boolField(func(c *Config) *bool { return &c.Screen.HUD }),
	"preview.x11":        boolField(func(c *Config) *bool { return &c.Preview.X11 }),
	"preview.terminal":   boolField(func(c *Config) *bool { return &c.Preview.Terminal }),
}

// Keys lists the names accepted by Value and SetValue.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Value reads one setting by dotted name.
func (m *Manager) Value(key string) (interface{}, error) {
	f, ok := fields[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return f.get(m.config), nil
}

// SetValue parses and stores one setting by dotted name.
func (m *Manager) SetValue(key, value string) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}
	err := m.mutate(func(c *Config) error {
		if err := f.set(c, value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		return nil
	})
	if err == nil {
		logger.WithComponent("config").Info().Str("key", key).Str("value", value).Msg("Config value changed")
	}
	return err
}

// ListPresets returns all presets
func (m *Manager) ListPresets() []Preset {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Preset, len(m.config.Presets))
	for i, p := range m.config.Presets {
		out[i] = p.clone()
	}
	return out
}

func (m *Manager) findLocked(id string) *Preset {
	for i := range m.config.Presets {
		if m.config.Presets[i].ID == id {
			return &m.config.Presets[i]
		}
	}
	return nil
}

// GetPreset returns a preset by ID
func (m *Manager) GetPreset(id string) (*Preset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.findLocked(id)
	if p == nil {
		return nil, fmt.Errorf("preset not found: %s", id)
	}
	c := p.clone()
	return &c, nil
}

// ActivePreset returns a copy of the active preset, falling back to the first.
func (m *Manager) ActivePreset() Preset {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p := m.findLocked(m.config.ActivePresetID); p != nil {
		return p.clone()
	}
	return m.config.Presets[0].clone()
}

// SetActivePreset switches presets. The new settings apply on the next start.
func (m *Manager) SetActivePreset(id string) error {
	return m.mutate(func(c *Config) error {
		if m.findLocked(id) == nil {
			return fmt.Errorf("preset not found: %s", id)
		}
		c.ActivePresetID = id
		logger.WithComponent("config").Info().Str("preset_id", id).Msg("Switched to preset")
		return nil
	})
}

// CreatePreset creates a preset copying the active one's pipeline settings.
func (m *Manager) CreatePreset(name string) (*Preset, error) {
	var created Preset
	err := m.mutate(func(c *Config) error {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("preset name is required")
		}
		var base Preset
		if p := m.findLocked(c.ActivePresetID); p != nil {
			base = p.clone()
		}
		created = Preset{ID: m.generatePresetID(name), Name: name, Pipelines: base.Pipelines}
		if created.Pipelines == nil {
			created.Pipelines = map[string]PipelineSettings{}
		}
		c.Presets = append(c.Presets, created)
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.WithComponent("config").Info().
		Str("preset_id", created.ID).
		Str("preset_name", name).
		Msg("Created preset")
	out := created.clone()
	return &out, nil
}

// DeletePreset deletes a preset by ID. The default preset cannot be deleted.
func (m *Manager) DeletePreset(id string) error {
	if id == DefaultPresetID {
		return fmt.Errorf("cannot delete the default preset")
	}
	return m.mutate(func(c *Config) error {
		filtered := make([]Preset, 0, len(c.Presets))
		for _, p := range c.Presets {
			if p.ID != id {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) == len(c.Presets) {
			return fmt.Errorf("preset not found: %s", id)
		}
		c.Presets = filtered
		if c.ActivePresetID == id {
			c.ActivePresetID = DefaultPresetID
		}
		return nil
	})
}

// SavePipelineSettings stores a pipeline's current settings in the active preset.
func (m *Manager) SavePipelineSettings(pipeline string, sample settings.SampleSettings, text settings.TextSettings) error {
	text.Words = append([]string(nil), text.Words...)
	return m.mutate(func(c *Config) error {
		p := m.findLocked(c.ActivePresetID)
		if p == nil {
			return fmt.Errorf("preset not found: %s", c.ActivePresetID)
		}
		p.Pipelines[pipeline] = PipelineSettings{Sample: &sample, Text: &text}
		return nil
	})
}

// generatePresetID derives a unique slug from name (caller must hold lock).
func (m *Manager) generatePresetID(name string) string {
	base := strings.ToLower(strings.ReplaceAll(name, " ", "-"))
	var result strings.Builder
	for _, r := range base {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}
	id := result.String()
	if id == "" {
		id = "preset"
	}

	original := id
	for counter := 1; m.findLocked(id) != nil; counter++ {
		id = fmt.Sprintf("%s-%d", original, counter)
	}
	return id
}
