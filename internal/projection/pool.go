package projection

import (
	"encoding/binary"
	"io"
	"math"
	"sync"
)

const (
	matrixStride = 16
	colorStride  = 4
)

// Pool is the fixed set of instanced billboards backing one wall. Buffers are laid out
// the way the GPU consumes them: column-major 4x4 transforms and straight (not
// premultiplied) RGBA float colors whose alpha is the sample intensity.
// The slot count never changes after construction.
type Pool struct {
	mu       sync.RWMutex
	size     int
	matrices []float32
	colors   []float32
	scales   []float32
	visible  int
	version  uint64
}

// NewPool allocates size slots, all hidden.
func NewPool(size int) *Pool {
	if size < 0 {
		size = 0
	}
	return &Pool{
		size:     size,
		matrices: make([]float32, size*matrixStride),
		colors:   make([]float32, size*colorStride),
		scales:   make([]float32, size),
	}
}

// Size is the slot count.
func (p *Pool) Size() int { return p.size }

// Version increments once per completed update; renderers use it as "needsUpdate".
func (p *Pool) Version() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version
}

// Visible is the number of slots with non-zero scale after the last update.
func (p *Pool) Visible() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.visible
}

// SlotView is a read-only view of one slot.
type SlotView struct {
	Position Vec3
	Scale    float32
	Color    [4]float32
}

// Slot reads slot i.
func (p *Pool) Slot(i int) SlotView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m := p.matrices[i*matrixStride : (i+1)*matrixStride]
	c := p.colors[i*colorStride : (i+1)*colorStride]
	return SlotView{
		Position: Vec3{m[12], m[13], m[14]},
		Scale:    p.scales[i],
		Color:    [4]float32{c[0], c[1], c[2], c[3]},
	}
}

// writeSlot stores a full transform. Caller holds the write lock.
func (p *Pool) writeSlot(i int, pos Vec3, q Quat, scale float32, rgba [4]float32) {
	m := p.matrices[i*matrixStride : (i+1)*matrixStride : (i+1)*matrixStride]
	compose(m, pos, q, scale)
	c := p.colors[i*colorStride : (i+1)*colorStride : (i+1)*colorStride]
	copy(c, rgba[:])
	p.scales[i] = scale
}

// hideSlot zeroes the scale of slot i; position and color are left as they were.
func (p *Pool) hideSlot(i int) {
	m := p.matrices[i*matrixStride : (i+1)*matrixStride : (i+1)*matrixStride]
	for k := 0; k < 12; k++ {
		m[k] = 0
	}
	m[15] = 1
	p.scales[i] = 0
}

// compose writes T·R·S (uniform scale) into m, column-major.
func compose(m []float32, pos Vec3, q Quat, s float32) {
	x2, y2, z2 := q.X+q.X, q.Y+q.Y, q.Z+q.Z
	xx, xy, xz := q.X*x2, q.X*y2, q.X*z2
	yy, yz, zz := q.Y*y2, q.Y*z2, q.Z*z2
	wx, wy, wz := q.W*x2, q.W*y2, q.W*z2

	m[0] = (1 - (yy + zz)) * s
	m[1] = (xy + wz) * s
	m[2] = (xz - wy) * s
	m[3] = 0
	m[4] = (xy - wz) * s
	m[5] = (1 - (xx + zz)) * s
	m[6] = (yz + wx) * s
	m[7] = 0
	m[8] = (xz + wy) * s
	m[9] = (yz - wx) * s
	m[10] = (1 - (xx + yy)) * s
	m[11] = 0
	m[12] = pos.X
	m[13] = pos.Y
	m[14] = pos.Z
	m[15] = 1
}

// Snapshot is an immutable copy of the buffers at one version.
type Snapshot struct {
	Version  uint64
	Visible  int
	Slots    int
	Matrices []float32
	Colors   []float32
}

// Snapshot copies the current buffers.
func (p *Pool) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{
		Version:  p.version,
		Visible:  p.visible,
		Slots:    p.size,
		Matrices: append([]float32(nil), p.matrices...),
		Colors:   append([]float32(nil), p.colors...),
	}
}

// WriteTo encodes the snapshot as the little-endian wire frame served to the 3D
// renderer: version u64, visible u32, slots u32, matrices f32[], colors f32[].
func (s Snapshot) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, 16+4*(len(s.Matrices)+len(s.Colors)))
	binary.LittleEndian.PutUint64(buf[0:], s.Version)
	binary.LittleEndian.PutUint32(buf[8:], uint32(s.Visible))
	binary.LittleEndian.PutUint32(buf[12:], uint32(s.Slots))
	off := 16
	for _, f := range s.Matrices {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
		off += 4
	}
	for _, f := range s.Colors {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
		off += 4
	}
	n, err := w.Write(buf)
	return int64(n), err
}
