package silhouette

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math/rand"
	"sync"

	"github.com/nfnt/resize"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/bryanchriswhite/MirrorRoom/internal/logger"
	"github.com/bryanchriswhite/MirrorRoom/internal/placeholder"
	"github.com/bryanchriswhite/MirrorRoom/internal/sampler"
	"github.com/bryanchriswhite/MirrorRoom/internal/settings"
)

const (
	// paletteSize is the number of word colors a grid draws from.
	paletteSize = 12
	// MaxSize bounds each output dimension.
	MaxSize = 4096
)

var (
	monoOnce sync.Once
	monoFont *sfnt.Font
	monoErr  error
)

func loadMono() (*sfnt.Font, error) {
	monoOnce.Do(func() {
		monoFont, monoErr = opentype.Parse(gomono.TTF)
	})
	return monoFont, monoErr
}

// Renderer owns the output raster of one silhouette screen. It is not safe for
// concurrent use; the owning pipeline serializes calls.
type Renderer struct {
	width, height int
	out           *image.RGBA
	scratch       *image.RGBA

	rng     *rand.Rand
	grid    Grid
	palette []settings.RGB

	faceSize int
	face     font.Face
	// fitted caches the truncated form of each word for the current grid.
	fitted []string

	glitch *Glitcher
	labels []string
}

// NewRenderer creates a renderer for a width×height output and builds the
// initial grid from ts. seed drives word and color assignment and the glitch
// stream.
func NewRenderer(width, height int, ts settings.TextSettings, seed int64) (*Renderer, error) {
	if err := ValidateSize(width, height); err != nil {
		return nil, err
	}
	if _, err := loadMono(); err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	r := &Renderer{
		rng:     rand.New(rand.NewSource(seed)),
		palette: settings.Palette(paletteSize),
		glitch:  NewGlitcher(seed),
	}
	if err := r.Resize(width, height, ts); err != nil {
		return nil, err
	}
	return r, nil
}

// ValidateSize reports whether width×height is a usable output size.
func ValidateSize(width, height int) error {
	if width <= 0 || height <= 0 || width > MaxSize || height > MaxSize {
		return fmt.Errorf("invalid output size %dx%d (each side must be 1-%d)", width, height, MaxSize)
	}
	return nil
}

// Resize reallocates the rasters and rebuilds the grid. An invalid size leaves
// the renderer unchanged.
func (r *Renderer) Resize(width, height int, ts settings.TextSettings) error {
	if err := ValidateSize(width, height); err != nil {
		return err
	}
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	scratch := image.NewRGBA(image.Rect(0, 0, width, height))
	r.width, r.height = width, height
	r.out, r.scratch = out, scratch
	return r.ResetGrid(ts)
}

// ResetGrid reassigns words and colors. Call it after fontSize, textDensity or
// the word list change.
func (r *Renderer) ResetGrid(ts settings.TextSettings) error {
	ts = ts.Clamp()
	if err := r.setFace(ts.FontSize); err != nil {
		return err
	}
	r.grid = BuildGrid(r.width, r.height, ts.FontSize, ts.TextDensity, ts.Words, r.palette, r.rng)

	limit := int(r.grid.CellW)
	r.fitted = make([]string, len(r.grid.Words))
	for i, w := range r.grid.Words {
		r.fitted[i] = Truncate(r.face, w, limit)
	}

	logger.WithComponent("silhouette").Debug().
		Int("cols", r.grid.Cols).
		Int("rows", r.grid.Rows).
		Int("font_size", ts.FontSize).
		Msg("Rebuilt text grid")
	return nil
}

func (r *Renderer) setFace(size int) error {
	if r.face != nil && r.faceSize == size {
		return nil
	}
	f, err := loadMono()
	if err != nil {
		return err
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return fmt.Errorf("failed to create %dpx face: %w", size, err)
	}
	if r.face != nil {
		r.face.Close()
	}
	r.face, r.faceSize = face, size
	return nil
}

// SetLabels sets the lines printed on the diagnostic frame.
func (r *Renderer) SetLabels(labels ...string) {
	r.labels = append(r.labels[:0], labels...)
}

func (r *Renderer) Grid() Grid { return r.grid }

func (r *Renderer) Bounds() image.Rectangle { return r.out.Bounds() }

// Truncate shortens s until it fits within limit pixels in face.
func Truncate(face font.Face, s string, limit int) string {
	runes := []rune(s)
	for len(runes) > 0 && font.MeasureString(face, string(runes)).Ceil() > limit {
		runes = runes[:len(runes)-1]
	}
	return string(runes)
}

// Render composites one frame. A nil frame produces the diagnostic placeholder.
// The returned raster is owned by the renderer and reused by the next call.
func (r *Renderer) Render(frame *image.RGBA, s settings.SampleSettings, ts settings.TextSettings, t float64) *image.RGBA {
	if frame == nil || frame.Bounds().Empty() {
		placeholder.DrawDiagnostic(r.out, r.labels...)
		return r.out
	}
	s = s.Clamp()
	ts = ts.Clamp()

	bg := color.RGBA{0, 0, 0, 255}
	if s.Invert {
		bg = color.RGBA{255, 255, 255, 255}
	}
	draw.Draw(r.out, r.out.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	r.fillScratch(frame)
	r.drawWords(s)

	if ts.Contour {
		stride := ContourStride(s.PixelDensity)
		edges := DetectEdges(r.scratch, s, ts.ContourSensitivity, stride)
		drawEdges(r.out, edges, max(1, stride/2), ts.ContourColor)
	}

	r.glitch.Apply(r.out, ts, t)
	return r.out
}

// fillScratch scales frame to the output size.
func (r *Renderer) fillScratch(frame *image.RGBA) {
	if frame.Bounds().Size() == r.scratch.Bounds().Size() {
		draw.Draw(r.scratch, r.scratch.Bounds(), frame, frame.Bounds().Min, draw.Src)
		return
	}
	scaled := resize.Resize(uint(r.width), uint(r.height), frame, resize.Bilinear)
	if rgba, ok := scaled.(*image.RGBA); ok && rgba.Bounds() == r.scratch.Bounds() {
		r.scratch = rgba
		return
	}
	draw.Draw(r.scratch, r.scratch.Bounds(), scaled, scaled.Bounds().Min, draw.Src)
}

func (r *Renderer) drawWords(s settings.SampleSettings) {
	ascent := r.face.Metrics().Ascent
	d := &font.Drawer{Dst: r.out, Face: r.face}

	for _, c := range r.grid.Cells {
		cx, cy := r.grid.Center(c)
		cx = clamp(cx, 0, r.width-1)
		cy = clamp(cy, 0, r.height-1)
		if s.FlipHorizontal {
			cx = r.width - 1 - cx
		}
		i := r.scratch.PixOffset(cx, cy)
		v := sampler.Brightness(r.scratch.Pix[i], r.scratch.Pix[i+1], r.scratch.Pix[i+2])
		if !sampler.Passes(v, s.Threshold, s.Invert) {
			continue
		}

		word := r.fitted[c.Word]
		if word == "" {
			continue
		}
		x, y := r.grid.Origin(c)
		d.Src = image.NewUniform(c.Color.RGBA())
		d.Dot = fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y) + ascent}
		d.DrawString(word)
	}
}

// Close releases the font face.
func (r *Renderer) Close() error {
	if r.face != nil {
		return r.face.Close()
	}
	return nil
}
