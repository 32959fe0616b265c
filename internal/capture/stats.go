package capture

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// frameWindow is how many frame arrivals the rate estimate looks back over.
const frameWindow = 120

// FPSStats summarizes recent frame arrival times.
type FPSStats struct {
	Frames    uint64  `json:"frames"`
	FPSMean   float64 `json:"fps_mean"`
	FPSStdDev float64 `json:"fps_stddev"`
	FPSMin    float64 `json:"fps_min"`
	FPSMax    float64 `json:"fps_max"`
	// Stable is true when the stddev is under 15% of the mean.
	Stable bool `json:"stable"`
}

// CalculateFPSStats computes instantaneous-rate statistics from ordered arrival
// times. Fewer than two samples yields zero rates.
func CalculateFPSStats(times []time.Time) FPSStats {
	out := FPSStats{Frames: uint64(len(times))}
	if len(times) < 2 {
		return out
	}
	rates := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		dt := times[i].Sub(times[i-1]).Seconds()
		if dt <= 0 {
			continue
		}
		rates = append(rates, 1/dt)
	}
	if len(rates) == 0 {
		return out
	}
	out.FPSMean, out.FPSStdDev = stat.MeanStdDev(rates, nil)
	if len(rates) == 1 {
		out.FPSStdDev = 0
	}
	out.FPSMin = floats.Min(rates)
	out.FPSMax = floats.Max(rates)
	out.Stable = out.FPSStdDev < out.FPSMean*0.15
	return out
}

// frameClock records when the observed stream position last changed.
type frameClock struct {
	mu      sync.Mutex
	times   []time.Time
	next    int
	total   uint64
	lastPos time.Duration
	seen    bool
}

func newFrameClock() *frameClock {
	return &frameClock{times: make([]time.Time, 0, frameWindow)}
}

// observe records an arrival if pos differs from the previous observation.
func (c *frameClock) observe(pos time.Duration, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen && pos == c.lastPos {
		return
	}
	c.seen = true
	c.lastPos = pos
	c.total++
	if len(c.times) < frameWindow {
		c.times = append(c.times, now)
		return
	}
	c.times[c.next] = now
	c.next = (c.next + 1) % frameWindow
}

func (c *frameClock) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.times = c.times[:0]
	c.next = 0
	c.seen = false
}

func (c *frameClock) stats() FPSStats {
	c.mu.Lock()
	ordered := make([]time.Time, 0, len(c.times))
	ordered = append(ordered, c.times[c.next:]...)
	ordered = append(ordered, c.times[:c.next]...)
	total := c.total
	c.mu.Unlock()

	s := CalculateFPSStats(ordered)
	s.Frames = total
	return s
}
