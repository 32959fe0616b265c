package silhouette

import (
	"image"
	"image/draw"

	"github.com/bryanchriswhite/MirrorRoom/internal/sampler"
	"github.com/bryanchriswhite/MirrorRoom/internal/settings"
)

// ContourStride is twice the sampling stride for density, never below 2.
func ContourStride(density int) int {
	s := 2 * sampler.Stride(density)
	if s < 2 {
		s = 2
	}
	return s
}

func brightnessAt(src *image.RGBA, x, y int) float64 {
	i := src.PixOffset(x, y)
	return sampler.Brightness(src.Pix[i], src.Pix[i+1], src.Pix[i+2])
}

// DetectEdges scans src at stride and returns the output positions of edge
// samples. A sample is an edge when the brightness difference to the next sample
// right or below exceeds sensitivity and the sample itself passes the threshold.
// Horizontal flip mirrors the address read, as for the word grid.
func DetectEdges(src *image.RGBA, s settings.SampleSettings, sensitivity, stride int) []image.Point {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 2 || h < 2 {
		return nil
	}
	if stride < 1 {
		stride = 1
	}
	sens := float64(sensitivity)
	mirror := func(x int) int {
		if s.FlipHorizontal {
			x = w - 1 - x
		}
		return b.Min.X + clamp(x, 0, w-1)
	}

	var edges []image.Point
	for y := 0; y < h; y += stride {
		yy := b.Min.Y + y
		below := b.Min.Y + clamp(y+stride, 0, h-1)
		for x := 0; x < w; x += stride {
			sx := mirror(x)
			v := brightnessAt(src, sx, yy)
			if !sampler.Passes(v, s.Threshold, s.Invert) {
				continue
			}
			dx := abs(v - brightnessAt(src, mirror(x+stride), yy))
			dy := abs(v - brightnessAt(src, sx, below))
			if dx > sens || dy > sens {
				edges = append(edges, image.Point{X: x, Y: y})
			}
		}
	}
	return edges
}

// drawEdges paints each edge as a filled square.
func drawEdges(dst *image.RGBA, edges []image.Point, size int, c settings.RGB) {
	if size < 1 {
		size = 1
	}
	src := image.NewUniform(c.RGBA())
	off := dst.Bounds().Min
	for _, p := range edges {
		r := image.Rect(p.X, p.Y, p.X+size, p.Y+size).Add(off)
		draw.Draw(dst, r, src, image.Point{}, draw.Src)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
