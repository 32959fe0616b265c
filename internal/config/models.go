package config

import (
	"time"

	"github.com/bryanchriswhite/MirrorRoom/internal/device"
	"github.com/bryanchriswhite/MirrorRoom/internal/settings"
)

// DefaultPresetID names the preset that always exists.
const DefaultPresetID = "default"

// CaptureConfig selects the camera backend and the requested stream format.
type CaptureConfig struct {
	Backend string `json:"backend" yaml:"backend"`
	Device  string `json:"device" yaml:"device"`
	Width   int    `json:"width" yaml:"width"`
	Height  int    `json:"height" yaml:"height"`
	FPS     int    `json:"fps" yaml:"fps"`
	// Shared makes both walls read one camera session; the screen keeps its own.
	Shared       bool          `json:"shared" yaml:"shared"`
	StallTimeout time.Duration `json:"stall_timeout" yaml:"stall_timeout"`
}

// WallConfig places one projection wall in room coordinates.
type WallConfig struct {
	Enabled bool       `json:"enabled" yaml:"enabled"`
	Center  [3]float32 `json:"center" yaml:"center,flow"`
	Height  float32    `json:"height" yaml:"height"`
}

// ScreenConfig sizes the text-silhouette raster.
type ScreenConfig struct {
	Enabled bool  `json:"enabled" yaml:"enabled"`
	Width   int   `json:"width" yaml:"width"`
	Height  int   `json:"height" yaml:"height"`
	FPS     int   `json:"fps" yaml:"fps"`
	Seed    int64 `json:"seed" yaml:"seed"`
	Quality int   `json:"jpeg_quality" yaml:"jpeg_quality"`
	// HUD draws a pipeline status panel over the screen output.
	HUD bool `json:"hud" yaml:"hud"`
}

// PreviewConfig controls the local preview outputs.
type PreviewConfig struct {
	X11      bool `json:"x11" yaml:"x11"`
	Width    int  `json:"width" yaml:"width"`
	Height   int  `json:"height" yaml:"height"`
	Terminal bool `json:"terminal" yaml:"terminal"`
}

// PipelineSettings overrides the device-profile defaults of one pipeline. Nil
// sections keep the defaults.
type PipelineSettings struct {
	Sample *settings.SampleSettings `json:"sample,omitempty" yaml:"sample,omitempty"`
	Text   *settings.TextSettings   `json:"text,omitempty" yaml:"text,omitempty"`
}

// Preset is a named set of per-pipeline settings.
type Preset struct {
	ID        string                      `json:"id" yaml:"id"`
	Name      string                      `json:"name" yaml:"name"`
	Pipelines map[string]PipelineSettings `json:"pipelines" yaml:"pipelines"`
}

// Config represents the application configuration
type Config struct {
	ServerPort int    `json:"server_port" yaml:"server_port"`
	LogLevel   string `json:"log_level" yaml:"log_level"`

	// Device signals used to pick the desktop or mobile profile.
	Device device.Signals `json:"device" yaml:"device"`

	Capture   CaptureConfig `json:"capture" yaml:"capture"`
	LeftWall  WallConfig    `json:"left_wall" yaml:"left_wall"`
	RightWall WallConfig    `json:"right_wall" yaml:"right_wall"`
	Screen    ScreenConfig  `json:"screen" yaml:"screen"`
	Preview   PreviewConfig `json:"preview" yaml:"preview"`

	ActivePresetID string   `json:"active_preset_id" yaml:"active_preset_id"`
	Presets        []Preset `json:"presets" yaml:"presets"`
}

// Defaults returns the configuration written on first run.
func Defaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Capture: CaptureConfig{
			Backend:      "auto",
			Width:        640,
			Height:       480,
			FPS:          30,
			StallTimeout: 3 * time.Second,
		},
		LeftWall: WallConfig{
			Enabled: true,
			Center:  [3]float32{-4.95, 1.6, 0},
			Height:  2.4,
		},
		RightWall: WallConfig{
			Enabled: true,
			Center:  [3]float32{4.95, 1.6, 0},
			Height:  2.4,
		},
		Screen: ScreenConfig{
			Enabled: true,
			Width:   960,
			Height:  540,
			FPS:     30,
			Seed:    1,
			Quality: 85,
		},
		Preview: PreviewConfig{
			Width:  960,
			Height: 540,
		},
		ActivePresetID: DefaultPresetID,
		Presets:        []Preset{{ID: DefaultPresetID, Name: "Default", Pipelines: map[string]PipelineSettings{}}},
	}
}

// normalize fills zero values left by older or hand-edited files.
func (c *Config) normalize() {
	d := Defaults()
	if c.ServerPort == 0 {
		c.ServerPort = d.ServerPort
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Capture.Backend == "" {
		c.Capture.Backend = d.Capture.Backend
	}
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		c.Capture.Width, c.Capture.Height = d.Capture.Width, d.Capture.Height
	}
	if c.Capture.FPS <= 0 {
		c.Capture.FPS = d.Capture.FPS
	}
	if c.Capture.StallTimeout <= 0 {
		c.Capture.StallTimeout = d.Capture.StallTimeout
	}
	if c.LeftWall.Height <= 0 {
		c.LeftWall.Height = d.LeftWall.Height
	}
	if c.RightWall.Height <= 0 {
		c.RightWall.Height = d.RightWall.Height
	}
	if c.Screen.Width <= 0 || c.Screen.Height <= 0 {
		c.Screen.Width, c.Screen.Height = d.Screen.Width, d.Screen.Height
	}
	if c.Screen.FPS <= 0 {
		c.Screen.FPS = d.Screen.FPS
	}
	if c.Preview.Width <= 0 || c.Preview.Height <= 0 {
		c.Preview.Width, c.Preview.Height = d.Preview.Width, d.Preview.Height
	}

	hasDefault := false
	for i := range c.Presets {
		if c.Presets[i].Pipelines == nil {
			c.Presets[i].Pipelines = map[string]PipelineSettings{}
		}
		if c.Presets[i].ID == DefaultPresetID {
			hasDefault = true
		}
	}
	if !hasDefault {
		c.Presets = append([]Preset{d.Presets[0]}, c.Presets...)
	}
	if c.ActivePresetID == "" {
		c.ActivePresetID = DefaultPresetID
	}
}

// clone deep-copies the preset maps so callers cannot mutate the manager's copy.
func (c *Config) clone() *Config {
	out := *c
	out.Presets = make([]Preset, len(c.Presets))
	for i, p := range c.Presets {
		out.Presets[i] = p.clone()
	}
	return &out
}

func (p Preset) clone() Preset {
	out := p
	out.Pipelines = make(map[string]PipelineSettings, len(p.Pipelines))
	for k, v := range p.Pipelines {
		if v.Sample != nil {
			s := *v.Sample
			v.Sample = &s
		}
		if v.Text != nil {
			t := *v.Text
			t.Words = append([]string(nil), v.Text.Words...)
			v.Text = &t
		}
		out.Pipelines[k] = v
	}
	return out
}
