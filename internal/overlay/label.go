package overlay

import (
	"errors"
	"image"
	"image/color"
	"sync"
)

// Label displays fixed text, optionally on a background box.
type Label struct {
	*BaseWidget
	mu        sync.RWMutex
	text      string
	textColor color.RGBA
	bgColor   *color.RGBA
	padding   int
}

// NewLabel creates a white label at (x, y).
func NewLabel(id, text string, x, y int) *Label {
	return &Label{
		BaseWidget: NewBaseWidget(id, x, y, 1.0),
		text:       text,
		textColor:  color.RGBA{255, 255, 255, 255},
		padding:    5,
	}
}

func (l *Label) Type() string { return "label" }

func (l *Label) Render(img *image.RGBA) error {
	l.mu.RLock()
	text, fg, bg, pad := l.text, l.textColor, l.bgColor, l.padding
	l.mu.RUnlock()
	if !l.IsEnabled() || text == "" {
		return nil
	}

	size := image.Pt(measure([]string{text})+pad*2, lineHeight+pad*2)
	r := l.anchor(img.Bounds(), size)
	op := l.Opacity()
	if bg != nil {
		DrawRectangle(img, r, *bg, op)
	}

	layer := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	drawLine(layer, image.Pt(pad, pad), text, fg)
	BlendImage(img, layer, r.Min.X, r.Min.Y, op)
	return nil
}

func (l *Label) SetText(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.text = text
}

func (l *Label) Text() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.text
}

func (l *Label) SetColor(c color.RGBA) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.textColor = c
}

// SetBackground sets the background color (nil for transparent)
func (l *Label) SetBackground(c *color.RGBA) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bgColor = c
}

// Validate ensures the label has something to draw.
func (l *Label) Validate() error {
	if l.Text() == "" {
		return errors.New("label requires non-empty text")
	}
	return nil
}
