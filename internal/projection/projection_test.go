package projection

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/MirrorRoom/internal/sampler"
	"github.com/bryanchriswhite/MirrorRoom/internal/settings"
)

func testSettings() settings.SampleSettings {
	return settings.SampleSettings{
		PixelSize:  0.04,
		Intensity:  0.5,
		PixelColor: settings.RGB{R: 255, G: 0, B: 0},
	}
}

func points(n int) []sampler.Point {
	pts := make([]sampler.Point, n)
	for i := range pts {
		pts[i] = sampler.Point{X: float64(i%10) / 10, Y: float64(i/10%10) / 10}
	}
	return pts
}

func countScales(p *Pool) (visible, hidden int) {
	for i := 0; i < p.Size(); i++ {
		if p.Slot(i).Scale != 0 {
			visible++
		} else {
			hidden++
		}
	}
	return
}

func TestSlotConservation(t *testing.T) {
	t.Parallel()
	const max = 64

	for _, n := range []int{0, 1, 10, 63, 64} {
		pool := NewPool(max)
		u := NewUpdater(Wall{Side: Left, Height: 3}, pool, 8, 6)

		u.Update(points(n), testSettings(), 4.0/3.0)
		visible, hidden := countScales(pool)
		assert.Equal(t, n, visible, "n=%d", n)
		assert.Equal(t, max-n, hidden, "n=%d", n)
		assert.Equal(t, n, pool.Visible())
	}
}

func TestShrinkingSampleSetHidesStaleSlots(t *testing.T) {
	t.Parallel()
	pool := NewPool(50)
	u := NewUpdater(Wall{Side: Right, Height: 2}, pool, 8, 6)

	u.Update(points(50), testSettings(), 1)
	u.Update(points(5), testSettings(), 1)

	visible, hidden := countScales(pool)
	assert.Equal(t, 5, visible)
	assert.Equal(t, 45, hidden)
}

func TestOverlongInputIsCapped(t *testing.T) {
	t.Parallel()
	pool := NewPool(10)
	u := NewUpdater(Wall{Side: Left, Height: 2}, pool, 8, 6)

	assert.Equal(t, 10, u.Update(points(25), testSettings(), 1))
	assert.Equal(t, 10, pool.Size())
}

func TestVersionBumpsOncePerUpdate(t *testing.T) {
	t.Parallel()
	pool := NewPool(100)
	u := NewUpdater(Wall{Side: Left, Height: 2}, pool, 8, 6)

	require.Equal(t, uint64(0), pool.Version())
	u.Update(points(40), testSettings(), 1)
	assert.Equal(t, uint64(1), pool.Version())
	u.Update(nil, testSettings(), 1)
	assert.Equal(t, uint64(2), pool.Version())
}

func TestSlotAttributes(t *testing.T) {
	t.Parallel()
	pool := NewPool(4)
	wall := Wall{Side: Left, Center: Vec3{X: -5, Y: 1.5}, Height: 3}
	u := NewUpdater(wall, pool, 8, 6)

	u.Update([]sampler.Point{{X: 0.5, Y: 0.5}}, testSettings(), 4.0/3.0)

	s := pool.Slot(0)
	assert.InDelta(t, 0.04, s.Scale, 1e-6)
	// Intensity is opacity: the color keeps full strength.
	assert.Equal(t, [4]float32{1, 0, 0, 0.5}, s.Color)
	// The image center lands on the wall center.
	assert.InDelta(t, -5, s.Position.X, 1e-5)
	assert.InDelta(t, 1.5, s.Position.Y, 1e-5)
	assert.InDelta(t, 0, s.Position.Z, 1e-5)
}

func TestWallOrientationFacesIntoRoom(t *testing.T) {
	t.Parallel()

	left := Wall{Side: Left}.Normal()
	assert.InDelta(t, 1, left.X, 1e-6)
	assert.InDelta(t, 0, left.Z, 1e-6)

	right := Wall{Side: Right}.Normal()
	assert.InDelta(t, -1, right.X, 1e-6)
	assert.InDelta(t, 0, right.Z, 1e-6)
}

func TestAspectRatioFidelity(t *testing.T) {
	t.Parallel()
	w := Wall{Side: Left, Height: 3}

	w43 := w.Width(4.0 / 3.0)
	w169 := w.Width(16.0 / 9.0)
	assert.InDelta(t, 4.0, w43, 1e-5)
	assert.InDelta(t, (16.0/9.0)/(4.0/3.0), w169/w43, 1e-5)
	assert.Equal(t, w.Width(DefaultAspect), w.Width(0))

	// Horizontal extent of projected points follows the same ratio.
	q := w.Orientation()
	span := func(aspect float32) float32 {
		a := w.Place(0, 0.5, aspect, q)
		b := w.Place(1, 0.5, aspect, q)
		dx, dz := a.X-b.X, a.Z-b.Z
		return math32.Sqrt(dx*dx + dz*dz)
	}
	assert.InDelta(t, w169/w43, span(16.0/9.0)/span(4.0/3.0), 1e-4)
}

func TestPlaceholderFillsWall(t *testing.T) {
	t.Parallel()
	pool := NewPool(500)
	u := NewUpdater(Wall{Side: Left, Height: 2}, pool, 20, 15)

	n := u.UpdatePlaceholder(0.7, testSettings(), 0)
	assert.Greater(t, n, 0)
	assert.Equal(t, n, pool.Visible())
	assert.Equal(t, n, u.UpdatePlaceholder(0.7, testSettings(), 0), "same time, same layout")
}

func TestSnapshotEncoding(t *testing.T) {
	t.Parallel()
	pool := NewPool(3)
	u := NewUpdater(Wall{Side: Left, Height: 2}, pool, 8, 6)
	u.Update(points(2), testSettings(), 1)

	var buf bytes.Buffer
	n, err := pool.Snapshot().WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(16+4*(3*16+3*4)), n)
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(buf.Bytes()[0:]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(buf.Bytes()[8:]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(buf.Bytes()[12:]))
}
