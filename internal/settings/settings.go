package settings

import "math"

// Documented ranges. Every mutation clamps into these.
const (
	MinThreshold = 0
	MaxThreshold = 255

	MinPixelSize = 0.005
	MaxPixelSize = 0.5

	MinPixelDensity = 1
	MaxPixelDensity = 500

	MinIntensity = 0.0
	MaxIntensity = 1.0

	MinFontSize = 6
	MaxFontSize = 72

	MinTextDensity = 10
	MaxTextDensity = 400

	MinContourSensitivity = 1
	MaxContourSensitivity = 255

	MinGlitchSpeed = 0.1
	MaxGlitchSpeed = 30.0
)

// Glitch effect names. Exactly one is active per frame.
const (
	GlitchNone          = "none"
	GlitchScanlines     = "scanlines"
	GlitchRGBShift      = "rgb-shift"
	GlitchNoise         = "noise"
	GlitchBlockDisplace = "block-displace"
	GlitchDropout       = "dropout"
)

// GlitchEffects lists the accepted glitch names in display order.
var GlitchEffects = []string{
	GlitchNone,
	GlitchScanlines,
	GlitchRGBShift,
	GlitchNoise,
	GlitchBlockDisplace,
	GlitchDropout,
}

// SampleSettings drives the threshold engine and the instanced projection.
type SampleSettings struct {
	Threshold      int     `json:"threshold" yaml:"threshold"`
	PixelSize      float64 `json:"pixelSize" yaml:"pixel_size"`
	PixelDensity   int     `json:"pixelDensity" yaml:"pixel_density"`
	Invert         bool    `json:"invert" yaml:"invert"`
	FlipHorizontal bool    `json:"flipHorizontal" yaml:"flip_horizontal"`
	FlipVertical   bool    `json:"flipVertical" yaml:"flip_vertical"`
	Intensity      float64 `json:"intensity" yaml:"intensity"`
	PixelColor     RGB     `json:"pixelColor" yaml:"pixel_color"`
}

// TextSettings drives the text-silhouette renderer.
type TextSettings struct {
	FontSize           int      `json:"fontSize" yaml:"font_size"`
	TextDensity        int      `json:"textDensity" yaml:"text_density"`
	Words              []string `json:"words" yaml:"words"`
	Contour            bool     `json:"contour" yaml:"contour"`
	ContourSensitivity int      `json:"contourSensitivity" yaml:"contour_sensitivity"`
	ContourColor       RGB      `json:"contourColor" yaml:"contour_color"`
	Glitch             string   `json:"glitch" yaml:"glitch"`
	GlitchIntensity    float64  `json:"glitchIntensity" yaml:"glitch_intensity"`
	GlitchSpeed        float64  `json:"glitchSpeed" yaml:"glitch_speed"`
}

// DefaultWords is the vocabulary painted into the silhouette grid.
var DefaultWords = []string{
	"LOOK", "HERE", "YOU", "ARE", "SEEN", "LIGHT", "ROOM", "ECHO",
	"MIRROR", "SIGNAL", "PRESENT", "NOW", "TRACE", "GLOW", "STAY",
}

// Clamp returns s with every numeric field forced into its documented range.
func (s SampleSettings) Clamp() SampleSettings {
	s.Threshold = clampInt(s.Threshold, MinThreshold, MaxThreshold)
	s.PixelSize = clampFloat(s.PixelSize, MinPixelSize, MaxPixelSize)
	s.PixelDensity = clampInt(s.PixelDensity, MinPixelDensity, MaxPixelDensity)
	s.Intensity = clampFloat(s.Intensity, MinIntensity, MaxIntensity)
	return s
}

// Clamp returns t with every numeric field forced into its documented range and an
// unknown glitch name replaced by GlitchNone.
func (t TextSettings) Clamp() TextSettings {
	t.FontSize = clampInt(t.FontSize, MinFontSize, MaxFontSize)
	t.TextDensity = clampInt(t.TextDensity, MinTextDensity, MaxTextDensity)
	t.ContourSensitivity = clampInt(t.ContourSensitivity, MinContourSensitivity, MaxContourSensitivity)
	t.GlitchIntensity = clampFloat(t.GlitchIntensity, 0, 1)
	t.GlitchSpeed = clampFloat(t.GlitchSpeed, MinGlitchSpeed, MaxGlitchSpeed)
	if !validGlitch(t.Glitch) {
		t.Glitch = GlitchNone
	}
	if len(t.Words) == 0 {
		t.Words = append([]string(nil), DefaultWords...)
	}
	return t
}

func validGlitch(name string) bool {
	for _, g := range GlitchEffects {
		if g == name {
			return true
		}
	}
	return false
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
