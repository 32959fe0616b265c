// Package placeholder produces the deterministic stand-ins shown while no live frame
// is available, so neither the walls nor the screen ever go blank or freeze.
package placeholder

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/bryanchriswhite/MirrorRoom/internal/sampler"
)

// Shimmer lays a cols×rows grid over the unit square and lights the cells whose
// time-varying interference pattern is above a fixed level. The same t always gives
// the same points; at most max points are returned.
func Shimmer(t float64, cols, rows, max int) []sampler.Point {
	if cols < 1 || rows < 1 || max <= 0 {
		return nil
	}
	pts := make([]sampler.Point, 0, min(cols*rows, max))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := math.Sin(float64(c)*0.45+t*2.1) * math.Cos(float64(r)*0.35-t*1.3)
			if v <= 0.15 {
				continue
			}
			pts = append(pts, sampler.Point{
				X: (float64(c) + 0.5) / float64(cols),
				Y: (float64(r) + 0.5) / float64(rows),
			})
			if len(pts) >= max {
				return pts
			}
		}
	}
	return pts
}

// swatches are the calibration colors painted across the top of the diagnostic frame.
var swatches = []color.RGBA{
	{255, 255, 255, 255},
	{255, 255, 0, 255},
	{0, 255, 255, 255},
	{0, 255, 0, 255},
	{255, 0, 255, 255},
	{255, 0, 0, 255},
	{0, 0, 255, 255},
	{16, 16, 16, 255},
}

// Diagnostic renders the "no signal" frame: color bars on top, the labels in the
// lower half. Without a live frame it is always the same image for the same labels.
func Diagnostic(width, height int, labels ...string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	DrawDiagnostic(img, labels...)
	return img
}

// DrawDiagnostic paints the diagnostic frame into an existing raster.
func DrawDiagnostic(img *image.RGBA, labels ...string) {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	draw.Draw(img, b, &image.Uniform{color.RGBA{20, 20, 28, 255}}, image.Point{}, draw.Src)
	if width <= 0 || height <= 0 {
		return
	}

	barH := height * 2 / 3
	for i, c := range swatches {
		x0 := b.Min.X + i*width/len(swatches)
		x1 := b.Min.X + (i+1)*width/len(swatches)
		draw.Draw(img, image.Rect(x0, b.Min.Y, x1, b.Min.Y+barH), &image.Uniform{c}, image.Point{}, draw.Src)
	}

	face := basicfont.Face7x13
	lineH := face.Metrics().Height.Ceil() + 4
	y := b.Min.Y + barH + lineH
	for _, label := range labels {
		if y > b.Max.Y {
			break
		}
		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(color.RGBA{230, 230, 230, 255}),
			Face: face,
		}
		textW := d.MeasureString(label).Ceil()
		x := b.Min.X + (width-textW)/2
		if x < b.Min.X {
			x = b.Min.X
		}
		d.Dot = fixed.P(x, y)
		d.DrawString(label)
		y += lineH
	}
}
