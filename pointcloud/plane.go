// Package pointcloud holds the 3D side of the relay: points deprojected from a depth frame and
// the planes fitted to them.
package pointcloud

import (
	"fmt"

	"github.com/golang/geo/r3"
)

// Plane is the set of points p with Normal().Dot(p) + Offset() == 0. Planes built with NewPlane
// have a unit normal, so Distance is in the same units as the points.
type Plane struct {
	normal r3.Vector
	offset float64
}

// NewEmptyPlane returns the zero plane. Its equation is all zeros and every distance is zero.
func NewEmptyPlane() *Plane {
	return &Plane{}
}

// NewPlane builds a plane from the equation a*x + b*y + c*z + d = 0, scaling it so the normal has
// unit length. A zero normal yields the empty plane.
func NewPlane(equation [4]float64) *Plane {
	n := r3.Vector{X: equation[0], Y: equation[1], Z: equation[2]}
	norm := n.Norm()
	if norm == 0 {
		return NewEmptyPlane()
	}
	return &Plane{normal: n.Mul(1 / norm), offset: equation[3] / norm}
}

// NewPlaneFromPoint builds the plane with the given normal through pt.
func NewPlaneFromPoint(normal, pt r3.Vector) *Plane {
	n := normal.Normalize()
	return &Plane{normal: n, offset: -n.Dot(pt)}
}

// Equation returns [a, b, c, d] with a*x + b*y + c*z + d = 0.
func (p *Plane) Equation() [4]float64 {
	return [4]float64{p.normal.X, p.normal.Y, p.normal.Z, p.offset}
}

// Normal returns the unit normal of the plane.
func (p *Plane) Normal() r3.Vector {
	return p.normal
}

// Offset returns d in the plane equation.
func (p *Plane) Offset() float64 {
	return p.offset
}

// IsEmpty reports whether the plane carries no geometry.
func (p *Plane) IsEmpty() bool {
	return p == nil || p.normal.Norm2() == 0
}

// Distance is the signed distance from pt to the plane, positive on the side the normal points to.
func (p *Plane) Distance(pt r3.Vector) float64 {
	return p.normal.Dot(pt) + p.offset
}

// Canonical returns the same plane oriented so the offset is non-negative. When the offset is
// negative both the normal and the offset are negated; the set of points on the plane does not
// change.
func (p *Plane) Canonical() *Plane {
	if p.offset >= 0 {
		return &Plane{normal: p.normal, offset: p.offset}
	}
	return &Plane{normal: p.normal.Mul(-1), offset: -p.offset}
}

// String prints the plane equation.
func (p *Plane) String() string {
	return fmt.Sprintf("%.4fx + %.4fy + %.4fz + %.4f = 0", p.normal.X, p.normal.Y, p.normal.Z, p.offset)
}
