package sampler

import (
	"errors"
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/MirrorRoom/internal/settings"
)

// noiseRaster builds a reproducible raster with a spread of brightness values.
func noiseRaster(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	return img
}

func solidRaster(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func mirror(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.SetRGBA(b.Max.X-1-(x-b.Min.X), y, src.RGBAAt(x, y))
		}
	}
	return dst
}

func baseSettings() settings.SampleSettings {
	return settings.SampleSettings{Threshold: 128, PixelDensity: 100, PixelSize: 0.04, Intensity: 1}
}

func TestBrightnessAndPasses(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, Brightness(0, 0, 0))
	assert.Equal(t, 255.0, Brightness(255, 255, 255))
	assert.InDelta(t, 100.0, Brightness(0, 100, 200), 1e-9)

	assert.True(t, Passes(129, 128, false))
	assert.False(t, Passes(128, 128, false))
	assert.True(t, Passes(127, 128, true))
	assert.False(t, Passes(128, 128, true))
}

func TestStrideIsNonIncreasingAndNeverZero(t *testing.T) {
	t.Parallel()

	prev := Stride(1)
	for d := 1; d <= 500; d++ {
		s := Stride(d)
		require.GreaterOrEqual(t, s, 1, "density %d", d)
		require.LessOrEqual(t, s, prev, "density %d", d)
		prev = s
	}
	assert.Equal(t, BaseStride, Stride(100))
	assert.Equal(t, 1, Stride(400))
	assert.Equal(t, Stride(1), Stride(0))
	assert.Equal(t, Stride(1), Stride(-20))
}

func TestThresholdMonotonicity(t *testing.T) {
	t.Parallel()
	raster := noiseRaster(64, 48, 7)

	for _, invert := range []bool{false, true} {
		s := baseSettings()
		s.Invert = invert
		prev := -1
		for th := 0; th <= 255; th += 5 {
			s.Threshold = th
			n := len(Scan(raster, s, 1<<20).Points)
			if prev >= 0 {
				if invert {
					assert.GreaterOrEqual(t, n, prev, "invert threshold %d", th)
				} else {
					assert.LessOrEqual(t, n, prev, "threshold %d", th)
				}
			}
			prev = n
		}
	}
}

func TestMirrorSymmetry(t *testing.T) {
	t.Parallel()
	raster := noiseRaster(50, 30, 11)

	flipped := baseSettings()
	flipped.FlipHorizontal = true
	got := Scan(raster, flipped, 1<<20).Points

	want := Scan(mirror(raster), baseSettings(), 1<<20).Points

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("flip-before-sample mismatch (-want +got):\n%s", diff)
	}
}

func TestThresholdZeroOnBlack(t *testing.T) {
	t.Parallel()
	s := baseSettings()
	s.Threshold = 0

	black := solidRaster(40, 40, color.RGBA{A: 255})
	assert.Empty(t, Scan(black, s, 8000).Points)

	nearBlack := solidRaster(40, 40, color.RGBA{A: 255})
	nearBlack.SetRGBA(0, 0, color.RGBA{R: 3, A: 255})
	assert.Len(t, Scan(nearBlack, s, 8000).Points, 1)
}

func TestInvertAt255SaturatesAndExitsEarly(t *testing.T) {
	t.Parallel()
	s := baseSettings()
	s.Threshold = 255
	s.Invert = true
	s.PixelDensity = 400

	raster := solidRaster(200, 150, color.RGBA{R: 90, G: 90, B: 90, A: 255})
	res := Scan(raster, s, 500)

	assert.Len(t, res.Points, 500)
	assert.True(t, res.Truncated)
	assert.Equal(t, 500, res.Scanned, "scan must stop at the cap")
	assert.Less(t, res.Scanned, 200*150)
}

func TestDensityIncreasesPointCount(t *testing.T) {
	t.Parallel()
	raster := noiseRaster(80, 60, 3)

	s := baseSettings()
	s.PixelDensity = 100
	low := len(Scan(raster, s, 1<<20).Points)
	s.PixelDensity = 400
	high := len(Scan(raster, s, 1<<20).Points)
	assert.Greater(t, high, low)

	s.PixelDensity = 400
	capped := Scan(raster, s, low)
	assert.Len(t, capped.Points, low)
}

func TestScanIsDeterministic(t *testing.T) {
	t.Parallel()
	raster := noiseRaster(64, 64, 99)
	s := baseSettings()
	s.FlipVertical = true

	assert.Equal(t, Scan(raster, s, 1000), Scan(raster, s, 1000))
}

func TestPointsAreNormalized(t *testing.T) {
	t.Parallel()
	s := baseSettings()
	s.Threshold = 0
	res := Scan(solidRaster(33, 17, color.RGBA{R: 255, G: 255, B: 255, A: 255}), s, 1<<20)
	require.NotEmpty(t, res.Points)
	for _, p := range res.Points {
		assert.GreaterOrEqual(t, p.X, 0.0)
		assert.Less(t, p.X, 1.0)
		assert.GreaterOrEqual(t, p.Y, 0.0)
		assert.Less(t, p.Y, 1.0)
	}
}

type fakeSource struct {
	ready bool
	frame *image.RGBA
	err   error
}

func (f *fakeSource) Ready() bool                 { return f.ready }
func (f *fakeSource) Frame() (*image.RGBA, error) { return f.frame, f.err }

func TestCaptureFrame(t *testing.T) {
	t.Parallel()
	smp := New(32, 24, 100)
	s := baseSettings()
	s.Threshold = 10

	pts, ok := smp.CaptureFrame(&fakeSource{ready: false}, s)
	assert.False(t, ok)
	assert.Empty(t, pts)

	pts, ok = smp.CaptureFrame(&fakeSource{ready: true, err: errors.New("tainted")}, s)
	assert.False(t, ok)
	assert.Empty(t, pts)

	white := solidRaster(640, 480, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	pts, ok = smp.CaptureFrame(&fakeSource{ready: true, frame: white}, s)
	assert.True(t, ok)
	// 32x24 raster at stride 4 yields 8x6 grid positions.
	assert.Len(t, pts, 48)
	assert.Equal(t, 48, smp.LastResult().Scanned)
}
