// Package output delivers rendered screen rasters to viewers: an MJPEG HTTP
// stream, an X11 preview window and a terminal preview.
package output

import (
	"image"

	"golang.org/x/image/draw"
)

// Output defines the interface for frame output mechanisms.
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame sends a frame to the output. The frame may be reused by the
	// caller after WriteFrame returns.
	WriteFrame(frame *image.RGBA) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
	FPS    int `json:"fps" yaml:"fps"`
}

// Letterbox scales src into dst preserving its aspect ratio. The unused border
// is cleared to black.
func Letterbox(dst, src *image.RGBA) image.Rectangle {
	db, sb := dst.Bounds(), src.Bounds()
	draw.Draw(dst, db, image.Black, image.Point{}, draw.Src)
	if sb.Empty() || db.Empty() {
		return image.Rectangle{}
	}

	scaleX := float64(db.Dx()) / float64(sb.Dx())
	scaleY := float64(db.Dy()) / float64(sb.Dy())
	scale := scaleX
	if scaleY < scaleX {
		scale = scaleY
	}
	w := max(1, int(float64(sb.Dx())*scale))
	h := max(1, int(float64(sb.Dy())*scale))
	x0 := db.Min.X + (db.Dx()-w)/2
	y0 := db.Min.Y + (db.Dy()-h)/2
	r := image.Rect(x0, y0, x0+w, y0+h)

	draw.ApproxBiLinear.Scale(dst, r, src, sb, draw.Src, nil)
	return r
}
