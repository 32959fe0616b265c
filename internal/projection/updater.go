// Package projection maps sampled points onto a wall's fixed pool of instanced
// billboards.
package projection

import (
	"github.com/bryanchriswhite/MirrorRoom/internal/placeholder"
	"github.com/bryanchriswhite/MirrorRoom/internal/sampler"
	"github.com/bryanchriswhite/MirrorRoom/internal/settings"
)

// Updater rewrites a Pool every frame from the current sample set.
type Updater struct {
	wall     Wall
	pool     *Pool
	quat     Quat
	gridCols int
	gridRows int
}

// NewUpdater binds a wall to a pool. cols×rows is the coarse grid used for the
// placeholder shimmer.
func NewUpdater(wall Wall, pool *Pool, cols, rows int) *Updater {
	return &Updater{
		wall:     wall,
		pool:     pool,
		quat:     wall.Orientation(),
		gridCols: cols,
		gridRows: rows,
	}
}

// Wall returns the wall this updater projects onto.
func (u *Updater) Wall() Wall { return u.wall }

// Pool returns the backing slot pool.
func (u *Updater) Pool() *Pool { return u.pool }

// Update writes one slot per point and hides every remaining slot, then marks the
// buffers dirty once. Points beyond the pool size are ignored. aspect is the live
// capture width/height. It returns the number of visible slots.
func (u *Updater) Update(points []sampler.Point, s settings.SampleSettings, aspect float32) int {
	p := u.pool
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(points)
	if n > p.size {
		n = p.size
	}
	scale := float32(s.PixelSize)
	r, g, b := s.PixelColor.Floats(1)
	rgba := [4]float32{r, g, b, float32(s.Intensity)}

	for i := 0; i < n; i++ {
		pos := u.wall.Place(points[i].X, points[i].Y, aspect, u.quat)
		p.writeSlot(i, pos, u.quat, scale, rgba)
	}
	for i := n; i < p.size; i++ {
		p.hideSlot(i)
	}

	p.visible = n
	p.version++
	return n
}

// UpdatePlaceholder lays out the animated shimmer grid in place of a live sample set,
// so an idle or failed capture still shows a moving wall.
func (u *Updater) UpdatePlaceholder(t float64, s settings.SampleSettings, aspect float32) int {
	pts := placeholder.Shimmer(t, u.gridCols, u.gridRows, u.pool.Size())
	return u.Update(pts, s, aspect)
}
