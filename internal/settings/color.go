package settings

import (
	"encoding/json"
	"fmt"
	"image/color"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// RGB is an opaque 8-bit color as configured by the user.
type RGB struct {
	R uint8 `json:"r" yaml:"r"`
	G uint8 `json:"g" yaml:"g"`
	B uint8 `json:"b" yaml:"b"`
}

var (
	White = RGB{255, 255, 255}
	Black = RGB{0, 0, 0}
)

// ParseRGB accepts "#rrggbb" or "#rgb".
func ParseRGB(s string) (RGB, error) {
	c, err := colorful.Hex(s)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	r, g, b := c.Clamped().RGB255()
	return RGB{R: r, G: g, B: b}, nil
}

// Hex renders the color as "#rrggbb".
func (c RGB) Hex() string {
	return colorful.Color{
		R: float64(c.R) / 255,
		G: float64(c.G) / 255,
		B: float64(c.B) / 255,
	}.Hex()
}

// RGBA converts to an opaque image/color value.
func (c RGB) RGBA() color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 255}
}

// Floats returns the channels scaled to 0..1, multiplied by k.
func (c RGB) Floats(k float32) (float32, float32, float32) {
	return float32(c.R) / 255 * k, float32(c.G) / 255 * k, float32(c.B) / 255 * k
}

func (c RGB) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Hex())
}

func (c *RGB) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := ParseRGB(s)
		if err != nil {
			return err
		}
		*c = parsed
		return nil
	}
	type plain RGB
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = RGB(p)
	return nil
}

func (c RGB) MarshalYAML() (interface{}, error) {
	return c.Hex(), nil
}

func (c *RGB) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseRGB(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Palette returns n visually distinct colors, used for the silhouette words.
// The result is deterministic for a given n.
func Palette(n int) []RGB {
	if n <= 0 {
		return nil
	}
	out := make([]RGB, n)
	for i := 0; i < n; i++ {
		h := float64(i) * 360 / float64(n)
		r, g, b := colorful.Hsv(h, 0.65, 1).Clamped().RGB255()
		out[i] = RGB{R: r, G: g, B: b}
	}
	return out
}
