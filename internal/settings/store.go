package settings

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/bryanchriswhite/MirrorRoom/internal/logger"
)

// Change describes one applied mutation. Value is the stored (clamped) value.
type Change struct {
	Pipeline string      `json:"pipeline"`
	Key      string      `json:"key"`
	Value    interface{} `json:"value"`
}

// Store is the per-pipeline settings record. Set is the only way to mutate it, so
// every change is clamped, logged and fanned out in one place.
type Store struct {
	pipeline string

	mu     sync.RWMutex
	sample SampleSettings
	text   TextSettings

	subMu     sync.Mutex
	listeners []func(Change)
}

// NewStore creates a store seeded with device-profile defaults.
func NewStore(pipeline string, sample SampleSettings, text TextSettings) *Store {
	return &Store{
		pipeline: pipeline,
		sample:   sample.Clamp(),
		text:     text.Clamp(),
	}
}

// Sample returns a copy of the current sampling settings.
func (s *Store) Sample() SampleSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sample
}

// Text returns a copy of the current text-silhouette settings.
func (s *Store) Text() TextSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.text
	t.Words = append([]string(nil), s.text.Words...)
	return t
}

// Subscribe registers fn to be called after every applied change.
func (s *Store) Subscribe(fn func(Change)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Keys lists every key accepted by Set.
func Keys() []string {
	return []string{
		"threshold", "pixelSize", "pixelDensity", "invert", "flipHorizontal",
		"flipVertical", "intensity", "pixelColor", "fontSize", "textDensity",
		"words", "contour", "contourSensitivity", "contourColor", "glitch",
		"glitchIntensity", "glitchSpeed",
	}
}

// Set applies one mutation. Values may arrive as JSON-decoded numbers/bools/strings
// or as raw CLI strings; numeric values are clamped here, never at the point of use.
func (s *Store) Set(key string, value interface{}) error {
	s.mu.Lock()
	stored, err := s.applyLocked(key, value)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	logger.WithPipeline("settings", s.pipeline).Info().
		Str("key", key).
		Interface("value", stored).
		Msg("Setting changed")

	change := Change{Pipeline: s.pipeline, Key: key, Value: stored}
	s.subMu.Lock()
	listeners := make([]func(Change), len(s.listeners))
	copy(listeners, s.listeners)
	s.subMu.Unlock()
	for _, fn := range listeners {
		fn(change)
	}
	return nil
}

func (s *Store) applyLocked(key string, value interface{}) (interface{}, error) {
	switch key {
	case "threshold":
		v, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		s.sample.Threshold = clampInt(roundInt(v), MinThreshold, MaxThreshold)
		return s.sample.Threshold, nil
	case "pixelSize":
		v, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		s.sample.PixelSize = clampFloat(v, MinPixelSize, MaxPixelSize)
		return s.sample.PixelSize, nil
	case "pixelDensity":
		v, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		s.sample.PixelDensity = clampInt(roundInt(v), MinPixelDensity, MaxPixelDensity)
		return s.sample.PixelDensity, nil
	case "invert":
		v, err := toBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		s.sample.Invert = v
		return v, nil
	case "flipHorizontal":
		v, err := toBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		s.sample.FlipHorizontal = v
		return v, nil
	case "flipVertical":
		v, err := toBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		s.sample.FlipVertical = v
		return v, nil
	case "intensity":
		v, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		s.sample.Intensity = clampFloat(v, MinIntensity, MaxIntensity)
		return s.sample.Intensity, nil
	case "pixelColor":
		c, err := toRGB(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		s.sample.PixelColor = c
		return c.Hex(), nil
	case "fontSize":
		v, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		s.text.FontSize = clampInt(roundInt(v), MinFontSize, MaxFontSize)
		return s.text.FontSize, nil
	case "textDensity":
		v, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		s.text.TextDensity = clampInt(roundInt(v), MinTextDensity, MaxTextDensity)
		return s.text.TextDensity, nil
	case "words":
		words, err := toWords(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if len(words) == 0 {
			words = append([]string(nil), DefaultWords...)
		}
		s.text.Words = words
		return words, nil
	case "contour":
		v, err := toBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		s.text.Contour = v
		return v, nil
	case "contourSensitivity":
		v, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		s.text.ContourSensitivity = clampInt(roundInt(v), MinContourSensitivity, MaxContourSensitivity)
		return s.text.ContourSensitivity, nil
	case "contourColor":
		c, err := toRGB(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		s.text.ContourColor = c
		return c.Hex(), nil
	case "glitch":
		name, ok := value.(string)
		if !ok || !validGlitch(name) {
			return nil, fmt.Errorf("%s: unknown effect %v (use one of %s)", key, value, strings.Join(GlitchEffects, ", "))
		}
		s.text.Glitch = name
		return name, nil
	case "glitchIntensity":
		v, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		s.text.GlitchIntensity = clampFloat(v, 0, 1)
		return s.text.GlitchIntensity, nil
	case "glitchSpeed":
		v, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		s.text.GlitchSpeed = clampFloat(v, MinGlitchSpeed, MaxGlitchSpeed)
		return s.text.GlitchSpeed, nil
	default:
		return nil, fmt.Errorf("unknown setting %q", key)
	}
}

func roundInt(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int(math.Round(v))
}

// toFloat extracts a number from a JSON-decoded value or a CLI string
func toFloat(v interface{}) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", val)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

func toBool(v interface{}) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			return false, fmt.Errorf("invalid boolean %q", val)
		}
		return b, nil
	case float64:
		return val != 0, nil
	default:
		return false, fmt.Errorf("expected a boolean, got %T", v)
	}
}

func toRGB(v interface{}) (RGB, error) {
	switch val := v.(type) {
	case string:
		return ParseRGB(val)
	case RGB:
		return val, nil
	case map[string]interface{}:
		var c [3]uint8
		for i, ch := range []string{"r", "g", "b"} {
			f, err := toFloat(val[ch])
			if err != nil {
				return RGB{}, fmt.Errorf("color channel %s: %w", ch, err)
			}
			c[i] = uint8(clampInt(roundInt(f), 0, 255))
		}
		return RGB{R: c[0], G: c[1], B: c[2]}, nil
	default:
		return RGB{}, fmt.Errorf("expected a color, got %T", v)
	}
}

func toWords(v interface{}) ([]string, error) {
	var words []string
	switch val := v.(type) {
	case string:
		for _, w := range strings.FieldsFunc(val, func(r rune) bool { return r == ',' || r == ' ' }) {
			words = append(words, w)
		}
	case []string:
		words = append(words, val...)
	case []interface{}:
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected a list of strings, got %T element", item)
			}
			words = append(words, s)
		}
	default:
		return nil, fmt.Errorf("expected a list of words, got %T", v)
	}
	out := words[:0]
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, w)
		}
	}
	return out, nil
}
