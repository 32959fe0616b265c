// Package overlay draws heads-up widgets over rendered screen frames.
package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Widget represents a renderable overlay widget
type Widget interface {
	// ID returns the unique identifier for this widget instance
	ID() string

	// Type returns the widget type name
	Type() string

	// Render draws the widget onto the frame at its configured position
	Render(img *image.RGBA) error

	// IsEnabled returns whether the widget should be rendered
	IsEnabled() bool

	// SetEnabled sets whether the widget should be rendered
	SetEnabled(enabled bool)
}

// Stopper is implemented by widgets that own a background goroutine.
type Stopper interface {
	Stop()
}

// lineHeight is the advance of basicfont.Face7x13.
const lineHeight = 13

// BaseWidget provides common functionality for all widgets
type BaseWidget struct {
	mu      sync.RWMutex
	id      string
	enabled bool
	x       int
	y       int
	opacity float64 // 0.0 to 1.0
}

// NewBaseWidget creates a new base widget
func NewBaseWidget(id string, x, y int, opacity float64) *BaseWidget {
	w := &BaseWidget{id: id, enabled: true, x: x, y: y}
	w.SetOpacity(opacity)
	return w
}

// ID returns the widget's unique identifier
func (w *BaseWidget) ID() string {
	return w.id
}

func (w *BaseWidget) IsEnabled() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.enabled
}

func (w *BaseWidget) SetEnabled(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enabled = enabled
}

// Position returns the top-left corner. Negative coordinates anchor to the
// right or bottom edge of the frame.
func (w *BaseWidget) Position() (int, int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.x, w.y
}

func (w *BaseWidget) SetPosition(x, y int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.x, w.y = x, y
}

func (w *BaseWidget) Opacity() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.opacity
}

// SetOpacity sets the widget's opacity, clamped to 0..1.
func (w *BaseWidget) SetOpacity(opacity float64) {
	if opacity < 0 {
		opacity = 0
	}
	if opacity > 1 {
		opacity = 1
	}
	w.mu.Lock()
	w.opacity = opacity
	w.mu.Unlock()
}

// anchor resolves the widget rectangle of size inside bounds.
func (w *BaseWidget) anchor(bounds image.Rectangle, size image.Point) image.Rectangle {
	x, y := w.Position()
	if x < 0 {
		x = bounds.Max.X + x - size.X + 1
	} else {
		x += bounds.Min.X
	}
	if y < 0 {
		y = bounds.Max.Y + y - size.Y + 1
	} else {
		y += bounds.Min.Y
	}
	return image.Rectangle{Min: image.Pt(x, y), Max: image.Pt(x+size.X, y+size.Y)}
}

// BlendImage composites src over dst at (x, y) scaled by opacity. Pixels
// outside dst are clipped.
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	if opacity <= 0 {
		return
	}
	r := src.Bounds().Sub(src.Bounds().Min).Add(image.Pt(x, y))
	mask := image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})
	draw.DrawMask(dst, r, src, src.Bounds().Min, mask, image.Point{}, draw.Over)
}

// DrawRectangle fills r with c at the given opacity.
func DrawRectangle(dst *image.RGBA, r image.Rectangle, c color.Color, opacity float64) {
	if opacity <= 0 {
		return
	}
	mask := image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})
	draw.DrawMask(dst, r, image.NewUniform(c), image.Point{}, mask, image.Point{}, draw.Over)
}

// measure returns the pixel width of the widest line.
func measure(lines []string) int {
	d := &font.Drawer{Face: basicfont.Face7x13}
	widest := 0
	for _, l := range lines {
		if w := d.MeasureString(l).Ceil(); w > widest {
			widest = w
		}
	}
	return widest
}

// drawLine draws s with its top-left corner at pt.
func drawLine(dst *image.RGBA, pt image.Point, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(pt.X, pt.Y+basicfont.Face7x13.Ascent),
	}
	d.DrawString(s)
}
