package projection

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Vec3 is a world-space vector.
type Vec3 struct {
	X, Y, Z float32
}

func (a Vec3) Add(b Vec3) Vec3 { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }

// Quat is a unit rotation quaternion.
type Quat struct {
	X, Y, Z, W float32
}

// QuatFromAxisAngle builds a rotation of angle radians about a unit axis.
func QuatFromAxisAngle(axis Vec3, angle float32) Quat {
	s := math32.Sin(angle / 2)
	return Quat{X: axis.X * s, Y: axis.Y * s, Z: axis.Z * s, W: math32.Cos(angle / 2)}
}

// Rotate applies q to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	// t = 2 * cross(q.xyz, v); v' = v + w*t + cross(q.xyz, t)
	tx := 2 * (q.Y*v.Z - q.Z*v.Y)
	ty := 2 * (q.Z*v.X - q.X*v.Z)
	tz := 2 * (q.X*v.Y - q.Y*v.X)
	return Vec3{
		X: v.X + q.W*tx + (q.Y*tz - q.Z*ty),
		Y: v.Y + q.W*ty + (q.Z*tx - q.X*tz),
		Z: v.Z + q.W*tz + (q.X*ty - q.Y*tx),
	}
}

// Side identifies which wall a projection is mounted on.
type Side string

const (
	Left  Side = "left"
	Right Side = "right"
)

// ParseSide accepts "left" or "right".
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case Left, Right:
		return Side(s), nil
	}
	return "", fmt.Errorf("unknown wall side %q", s)
}

// DefaultAspect is used until the capture reports its negotiated size.
const DefaultAspect float32 = 4.0 / 3.0

// Wall is the physical rectangle an image is projected onto. Its height is fixed; its
// width follows the live capture aspect ratio so the image never distorts.
type Wall struct {
	Side   Side
	Center Vec3
	Height float32
}

// Orientation is fixed per wall: the left wall faces +X, the right wall faces −X,
// both looking into the room.
func (w Wall) Orientation() Quat {
	angle := float32(math32.Pi / 2)
	if w.Side == Right {
		angle = -angle
	}
	return QuatFromAxisAngle(Vec3{Y: 1}, angle)
}

// Normal is the direction the wall faces.
func (w Wall) Normal() Vec3 {
	return w.Orientation().Rotate(Vec3{Z: 1})
}

// Width returns the projected image width for a capture with the given aspect ratio
// (width / height).
func (w Wall) Width(aspect float32) float32 {
	if aspect <= 0 || math32.IsNaN(aspect) || math32.IsInf(aspect, 0) {
		aspect = DefaultAspect
	}
	return w.Height * aspect
}

// Place maps a normalized image coordinate onto the wall in world space. (0,0) is the
// top-left of the image.
func (w Wall) Place(x, y float64, aspect float32, q Quat) Vec3 {
	width := w.Width(aspect)
	local := Vec3{
		X: (float32(x) - 0.5) * width,
		Y: (0.5 - float32(y)) * w.Height,
	}
	return w.Center.Add(q.Rotate(local))
}
