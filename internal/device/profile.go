// Package device picks the desktop or mobile parameter set once per session.
package device

import (
	"regexp"

	"github.com/bryanchriswhite/MirrorRoom/internal/settings"
)

// Class is the device class chosen at session start.
type Class string

const (
	Desktop Class = "desktop"
	Mobile  Class = "mobile"
)

// MobileViewportMax is the widest viewport (logical pixels) still treated as mobile.
const MobileViewportMax = 768

var mobileUA = regexp.MustCompile(`(?i)Android|webOS|iPhone|iPad|iPod|BlackBerry|IEMobile|Opera Mini`)

// Signals are the inputs available when the session starts.
type Signals struct {
	UserAgent     string `json:"user_agent" yaml:"user_agent"`
	ViewportWidth int    `json:"viewport_width" yaml:"viewport_width"`
}

// Profile is the resolved default parameter set.
type Profile struct {
	Class        Class                   `json:"class"`
	MaxSamples   int                     `json:"max_samples"`
	SampleWidth  int                     `json:"sample_width"`
	SampleHeight int                     `json:"sample_height"`
	PlaceholderW int                     `json:"placeholder_cols"`
	PlaceholderH int                     `json:"placeholder_rows"`
	Sample       settings.SampleSettings `json:"sample"`
	Text         settings.TextSettings   `json:"text"`
}

// Resolve classifies the device and returns its defaults. It is pure; callers
// evaluate it once and keep the result for the whole session, even across resizes.
func Resolve(sig Signals) Profile {
	if IsMobile(sig) {
		return mobileProfile()
	}
	return desktopProfile()
}

// IsMobile reports whether the signals describe a mobile device.
func IsMobile(sig Signals) bool {
	if mobileUA.MatchString(sig.UserAgent) {
		return true
	}
	return sig.ViewportWidth > 0 && sig.ViewportWidth <= MobileViewportMax
}

func desktopProfile() Profile {
	return Profile{
		Class:        Desktop,
		MaxSamples:   8000,
		SampleWidth:  160,
		SampleHeight: 120,
		PlaceholderW: 48,
		PlaceholderH: 36,
		Sample: settings.SampleSettings{
			Threshold:    128,
			PixelSize:    0.035,
			PixelDensity: 100,
			Intensity:    0.8,
			PixelColor:   settings.White,
		},
		Text: settings.TextSettings{
			FontSize:           14,
			TextDensity:        100,
			Words:              append([]string(nil), settings.DefaultWords...),
			Contour:            true,
			ContourSensitivity: 40,
			ContourColor:       settings.RGB{R: 0, G: 255, B: 180},
			Glitch:             settings.GlitchNone,
			GlitchIntensity:    0.3,
			GlitchSpeed:        4,
		}.Clamp(),
	}
}

func mobileProfile() Profile {
	return Profile{
		Class:        Mobile,
		MaxSamples:   5000,
		SampleWidth:  128,
		SampleHeight: 96,
		PlaceholderW: 32,
		PlaceholderH: 24,
		Sample: settings.SampleSettings{
			Threshold:    128,
			PixelSize:    0.05,
			PixelDensity: 80,
			Intensity:    1.0,
			PixelColor:   settings.White,
		},
		Text: settings.TextSettings{
			FontSize:           18,
			TextDensity:        80,
			Words:              append([]string(nil), settings.DefaultWords...),
			Contour:            false,
			ContourSensitivity: 50,
			ContourColor:       settings.RGB{R: 0, G: 255, B: 180},
			Glitch:             settings.GlitchNone,
			GlitchIntensity:    0.3,
			GlitchSpeed:        4,
		}.Clamp(),
	}
}
