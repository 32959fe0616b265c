package capture

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"
	"time"
)

// SyntheticName is the backend name of the built-in test pattern.
const SyntheticName = "synthetic"

// Synthetic produces a deterministic moving pattern: a bright disc orbiting on a
// dark gradient. It is always available and is used when no camera is present.
type Synthetic struct {
	now func() time.Time
}

func NewSynthetic() *Synthetic {
	return &Synthetic{now: time.Now}
}

func (b *Synthetic) Name() string      { return SyntheticName }
func (b *Synthetic) IsAvailable() bool { return true }

func (b *Synthetic) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "pattern", Name: "Synthetic test pattern", Backend: SyntheticName}}, nil
}

func (b *Synthetic) Open(ctx context.Context, req Request) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req = req.withDefaults()
	return &syntheticStream{
		now:      b.now,
		width:    req.Width,
		height:   req.Height,
		interval: time.Second / time.Duration(req.FPS),
	}, nil
}

// syntheticStream derives its position from playing time, so a paused stream
// stalls exactly like a frozen camera.
type syntheticStream struct {
	now      func() time.Time
	width    int
	height   int
	interval time.Duration

	mu       sync.Mutex
	playing  bool
	enabled  bool
	since    time.Time
	played   time.Duration
	stopped  bool
	frameIdx int64
	frame    *image.RGBA
}

func (s *syntheticStream) Size() (int, int) { return s.width, s.height }

// positionLocked quantizes playing time to whole frames.
func (s *syntheticStream) positionLocked() time.Duration {
	total := s.played
	if s.playing && s.enabled {
		total += s.now().Sub(s.since)
	}
	return total / s.interval * s.interval
}

func (s *syntheticStream) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked()
}

func (s *syntheticStream) LatestFrame() (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrNotReady
	}
	idx := int64(s.positionLocked() / s.interval)
	if s.frame == nil || idx != s.frameIdx {
		s.frame = SyntheticFrame(s.width, s.height, idx)
		s.frameIdx = idx
	}
	out := image.NewRGBA(s.frame.Rect)
	copy(out.Pix, s.frame.Pix)
	return out, nil
}

func (s *syntheticStream) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrNotReady
	}
	if !s.playing {
		s.playing = true
		s.enabled = true
		s.since = s.now()
	}
	return nil
}

func (s *syntheticStream) SetEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrNotReady
	}
	if enabled == s.enabled {
		return nil
	}
	now := s.now()
	if s.playing && s.enabled {
		s.played += now.Sub(s.since)
	}
	s.enabled = enabled
	s.since = now
	return nil
}

func (s *syntheticStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.playing = false
	s.frame = nil
	return nil
}

// SyntheticFrame renders frame n of the test pattern.
func SyntheticFrame(w, h int, n int64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	if w <= 0 || h <= 0 {
		return img
	}
	t := float64(n) / 30
	cx := float64(w) * (0.5 + 0.3*math.Cos(t*0.9))
	cy := float64(h) * (0.5 + 0.25*math.Sin(t*1.3))
	r := float64(min(w, h)) * 0.22
	r2 := r * r

	for y := 0; y < h; y++ {
		base := uint8(20 + 40*y/h)
		for x := 0; x < w; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			c := color.RGBA{base, base, base + 10, 255}
			if dx*dx+dy*dy <= r2 {
				c = color.RGBA{235, 230, 220, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}
