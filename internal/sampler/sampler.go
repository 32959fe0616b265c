// Package sampler turns camera frames into the list of normalized points that pass
// the brightness threshold. It is deterministic: the same raster and settings always
// produce the same output.
package sampler

import (
	"image"

	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/MirrorRoom/internal/settings"
)

// FrameSource is the part of a capture session the sampler needs.
type FrameSource interface {
	Ready() bool
	Frame() (*image.RGBA, error)
}

// Result is the outcome of one scan.
type Result struct {
	Points []Point
	// Scanned counts the grid positions tested before the scan ended.
	Scanned int
	// Truncated is true when the scan stopped early because Points reached the cap.
	Truncated bool
}

// Scan walks raster on a grid derived from s.PixelDensity and returns the positions
// that pass the threshold test, stopping the instant max points are collected.
//
// Flips mirror the pixel address that is tested; the emitted coordinate is the grid
// position itself. Sampling a raster with FlipHorizontal therefore yields the same
// points as sampling its horizontal mirror without the flip.
func Scan(raster *image.RGBA, s settings.SampleSettings, max int) Result {
	return scanInto(nil, raster, s, max)
}

func scanInto(buf []Point, raster *image.RGBA, s settings.SampleSettings, max int) Result {
	res := Result{Points: buf[:0]}
	if raster == nil || max <= 0 {
		return res
	}
	b := raster.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return res
	}

	stride := Stride(s.PixelDensity)
	for y := 0; y < h; y += stride {
		sy := y
		if s.FlipVertical {
			sy = h - 1 - y
		}
		sy = clamp(sy, 0, h-1)
		for x := 0; x < w; x += stride {
			sx := x
			if s.FlipHorizontal {
				sx = w - 1 - x
			}
			sx = clamp(sx, 0, w-1)

			res.Scanned++
			i := raster.PixOffset(b.Min.X+sx, b.Min.Y+sy)
			px := raster.Pix[i : i+3 : i+3]
			if !Passes(Brightness(px[0], px[1], px[2]), s.Threshold, s.Invert) {
				continue
			}
			res.Points = append(res.Points, Point{
				X: float64(x) / float64(w),
				Y: float64(y) / float64(h),
			})
			if len(res.Points) >= max {
				res.Truncated = true
				return res
			}
		}
	}
	return res
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

// Sampler owns the fixed-size working raster the camera frame is scaled into.
// The working resolution is independent of the camera resolution.
type Sampler struct {
	width      int
	height     int
	maxSamples int
	raster     *image.RGBA
	points     []Point
	last       Result
}

// New creates a sampler with a width×height working raster and a hard output cap.
func New(width, height, maxSamples int) *Sampler {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	return &Sampler{
		width:      width,
		height:     height,
		maxSamples: maxSamples,
		raster:     image.NewRGBA(image.Rect(0, 0, width, height)),
		points:     make([]Point, 0, maxSamples),
	}
}

// MaxSamples returns the output cap (the projection slot count).
func (s *Sampler) MaxSamples() int {
	return s.maxSamples
}

// Raster exposes the working raster filled by the last CaptureFrame.
func (s *Sampler) Raster() *image.RGBA {
	return s.raster
}

// LastResult returns the statistics of the most recent scan.
func (s *Sampler) LastResult() Result {
	return s.last
}

// CaptureFrame samples the source's current frame. It returns ok=false when the
// source is not ready or its frame cannot be read; the caller then renders the
// placeholder instead. The returned slice is reused by the next call.
func (s *Sampler) CaptureFrame(src FrameSource, cfg settings.SampleSettings) ([]Point, bool) {
	if src == nil || !src.Ready() {
		return nil, false
	}
	frame, err := src.Frame()
	if err != nil || frame == nil || frame.Bounds().Empty() {
		return nil, false
	}
	return s.SampleImage(frame, cfg), true
}

// SampleImage scales img into the working raster and scans it.
func (s *Sampler) SampleImage(img image.Image, cfg settings.SampleSettings) []Point {
	draw.ApproxBiLinear.Scale(s.raster, s.raster.Bounds(), img, img.Bounds(), draw.Src, nil)
	s.last = scanInto(s.points, s.raster, cfg, s.maxSamples)
	s.points = s.last.Points
	return s.last.Points
}
