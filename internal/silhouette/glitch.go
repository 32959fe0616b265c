package silhouette

import (
	"image"
	"math"
	"math/rand"

	"github.com/bryanchriswhite/MirrorRoom/internal/settings"
)

// Glitcher applies one named corruption effect to a finished raster. Its random
// choices come from a seed that changes only when floor(t*speed) does, so the
// flicker rate is set by glitchSpeed and not by the render rate.
type Glitcher struct {
	base    int64
	bucket  int64
	seed    int64
	seeded  bool
	scratch []uint8
}

func NewGlitcher(base int64) *Glitcher {
	return &Glitcher{base: base}
}

// Seed returns the seed in effect at time t for the given speed.
func (g *Glitcher) Seed(t, speed float64) int64 {
	if speed <= 0 {
		speed = settings.MinGlitchSpeed
	}
	bucket := int64(math.Floor(t * speed))
	if !g.seeded || bucket != g.bucket {
		g.bucket = bucket
		g.seed = mixSeed(g.base, bucket)
		g.seeded = true
	}
	return g.seed
}

// mixSeed is splitmix64 over base and bucket.
func mixSeed(base, bucket int64) int64 {
	z := uint64(base) + uint64(bucket)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return int64(z ^ (z >> 31))
}

// Apply runs the effect named in ts over img in place.
func (g *Glitcher) Apply(img *image.RGBA, ts settings.TextSettings, t float64) {
	if ts.Glitch == settings.GlitchNone || ts.Glitch == "" || ts.GlitchIntensity <= 0 {
		return
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return
	}
	rng := rand.New(rand.NewSource(g.Seed(t, ts.GlitchSpeed)))
	k := ts.GlitchIntensity

	switch ts.Glitch {
	case settings.GlitchScanlines:
		scanlines(img, k, t*ts.GlitchSpeed)
	case settings.GlitchRGBShift:
		g.rgbShift(img, k, rng)
	case settings.GlitchNoise:
		noise(img, k, rng)
	case settings.GlitchBlockDisplace:
		g.blockDisplace(img, k, rng)
	case settings.GlitchDropout:
		dropout(img, k, rng)
	}
}

// scanlines darkens alternating bands; phase scrolls them over time.
func scanlines(img *image.RGBA, k, phase float64) {
	b := img.Bounds()
	const period = 4
	shift := int(math.Floor(phase*period)) % period
	if shift < 0 {
		shift += period
	}
	keep := 1 - 0.7*k
	for y := 0; y < b.Dy(); y++ {
		if (y+shift)%period >= period/2 {
			continue
		}
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		for i := 0; i < len(row); i += 4 {
			row[i] = uint8(float64(row[i]) * keep)
			row[i+1] = uint8(float64(row[i+1]) * keep)
			row[i+2] = uint8(float64(row[i+2]) * keep)
		}
	}
}

// rgbShift pulls red from the left and blue from the right.
func (g *Glitcher) rgbShift(img *image.RGBA, k float64, rng *rand.Rand) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	off := 1 + int(k*float64(w)*0.02) + rng.Intn(1+int(k*4))

	g.scratch = append(g.scratch[:0], img.Pix...)
	src := g.scratch
	for y := 0; y < h; y++ {
		base := y * img.Stride
		for x := 0; x < w; x++ {
			i := base + x*4
			rx := clamp(x-off, 0, w-1)
			bx := clamp(x+off, 0, w-1)
			img.Pix[i] = src[base+rx*4]
			img.Pix[i+2] = src[base+bx*4+2]
		}
	}
}

// noise replaces a fraction of pixels with random gray.
func noise(img *image.RGBA, k float64, rng *rand.Rand) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	n := int(k * 0.08 * float64(w*h))
	for j := 0; j < n; j++ {
		i := img.PixOffset(b.Min.X+rng.Intn(w), b.Min.Y+rng.Intn(h))
		v := uint8(rng.Intn(256))
		img.Pix[i], img.Pix[i+1], img.Pix[i+2] = v, v, v
	}
}

// blockDisplace slides random horizontal bands sideways, wrapping at the edges.
func (g *Glitcher) blockDisplace(img *image.RGBA, k float64, rng *rand.Rand) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	blocks := 1 + int(k*8)
	maxShift := 1 + int(k*float64(w)/6)
	maxBand := max(2, h/10)

	for j := 0; j < blocks; j++ {
		y0 := rng.Intn(h)
		bandH := 1 + rng.Intn(maxBand)
		shift := rng.Intn(2*maxShift+1) - maxShift
		if shift == 0 {
			continue
		}
		for y := y0; y < min(h, y0+bandH); y++ {
			row := img.Pix[y*img.Stride : y*img.Stride+w*4]
			g.scratch = append(g.scratch[:0], row...)
			for x := 0; x < w; x++ {
				sx := ((x-shift)%w + w) % w
				copy(row[x*4:x*4+4], g.scratch[sx*4:sx*4+4])
			}
		}
	}
}

// dropout fills random rectangles with black, white or a random color.
func dropout(img *image.RGBA, k float64, rng *rand.Rand) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	patches := 1 + int(k*6)
	for j := 0; j < patches; j++ {
		pw := 1 + rng.Intn(max(1, int(float64(w)*0.2*k)))
		ph := 1 + rng.Intn(max(1, int(float64(h)*0.1*k)))
		x0, y0 := rng.Intn(w), rng.Intn(h)

		var c [3]uint8
		switch rng.Intn(3) {
		case 0:
		case 1:
			c = [3]uint8{255, 255, 255}
		default:
			c = [3]uint8{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256))}
		}
		for y := y0; y < min(h, y0+ph); y++ {
			for x := x0; x < min(w, x0+pw); x++ {
				i := y*img.Stride + x*4
				img.Pix[i], img.Pix[i+1], img.Pix[i+2] = c[0], c[1], c[2]
			}
		}
	}
}
