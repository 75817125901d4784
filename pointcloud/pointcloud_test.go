package pointcloud

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/depthrelay/rimage"
	"go.viam.com/depthrelay/rimage/transform"
)

func TestEmptyPlane(t *testing.T) {
	plane := NewEmptyPlane()
	test.That(t, plane.Equation(), test.ShouldResemble, [4]float64{})
	test.That(t, plane.Normal(), test.ShouldResemble, r3.Vector{})
	test.That(t, plane.Offset(), test.ShouldEqual, 0.0)
	test.That(t, plane.IsEmpty(), test.ShouldBeTrue)
	test.That(t, plane.Distance(r3.Vector{X: 1, Y: 2, Z: 3}), test.ShouldEqual, 0.0)
	test.That(t, NewPlane([4]float64{0, 0, 0, 5}).IsEmpty(), test.ShouldBeTrue)
}

func TestNewPlane(t *testing.T) {
	// a diamond of slope 1 in x and y
	plane := NewPlane([4]float64{1, 1, -1, 0})
	s := 1 / math.Sqrt(3)
	test.That(t, plane.Normal().X, test.ShouldAlmostEqual, s)
	test.That(t, plane.Normal().Z, test.ShouldAlmostEqual, -s)
	for _, pt := range []r3.Vector{{X: 0, Y: 0, Z: 0}, {X: 0, Y: 2, Z: 2}, {X: 2, Y: 0, Z: 2}, {X: 2, Y: 2, Z: 4}} {
		test.That(t, plane.Distance(pt), test.ShouldAlmostEqual, 0)
	}
	test.That(t, math.Abs(plane.Distance(r3.Vector{X: -1, Y: -1, Z: 1})), test.ShouldAlmostEqual, math.Sqrt(3))

	wall := NewPlaneFromPoint(r3.Vector{X: 0, Y: 0, Z: 2}, r3.Vector{X: 0, Y: 0, Z: 2.5})
	test.That(t, wall.Equation(), test.ShouldResemble, [4]float64{0, 0, 1, -2.5})
	test.That(t, wall.Distance(r3.Vector{X: 1, Y: 1, Z: 2}), test.ShouldAlmostEqual, -0.5)
}

func TestCanonical(t *testing.T) {
	wall := NewPlane([4]float64{0, 0, 2, -5})
	test.That(t, wall.Offset(), test.ShouldAlmostEqual, -2.5)

	canon := wall.Canonical()
	test.That(t, canon.Offset(), test.ShouldAlmostEqual, 2.5)
	test.That(t, canon.Normal(), test.ShouldResemble, r3.Vector{X: 0, Y: 0, Z: -1})
	test.That(t, canon.Normal().Norm(), test.ShouldAlmostEqual, 1)

	// Same surface, opposite sign.
	for _, pt := range []r3.Vector{{X: 0, Y: 0, Z: 2.5}, {X: 3, Y: -1, Z: 2.5}, {X: 0, Y: 0, Z: 1}, {X: 4, Y: 4, Z: 7}} {
		test.That(t, canon.Distance(pt), test.ShouldAlmostEqual, -wall.Distance(pt))
	}

	already := canon.Canonical()
	test.That(t, already.Equation(), test.ShouldResemble, canon.Equation())
}

func TestFromDepthMap(t *testing.T) {
	intr := &transform.PinholeCameraIntrinsics{Width: 4, Height: 3, Fx: 2, Fy: 2, Ppx: 2, Ppy: 1}
	model := &transform.PinholeCameraModel{PinholeCameraIntrinsics: intr}

	dm := rimage.NewEmptyDepthMap(4, 3)
	dm.Set(0, 0, 1000)
	dm.Set(2, 1, 2000)
	dm.Set(3, 2, 500)

	pts, err := FromDepthMap(dm, model, 0.001, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(pts), test.ShouldEqual, 3)
	for _, p := range pts {
		test.That(t, p.Z, test.ShouldBeGreaterThan, 0)
	}
	test.That(t, pts[0].X, test.ShouldAlmostEqual, -1)
	test.That(t, pts[0].Y, test.ShouldAlmostEqual, -0.5)
	test.That(t, pts[1], test.ShouldResemble, r3.Vector{X: 0, Y: 0, Z: 2})

	// Only (0,0), (2,0), (0,2) and (2,2) are visited and just the first has depth.
	pts, err = FromDepthMap(dm, model, 0.001, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(pts), test.ShouldEqual, 1)

	_, err = FromDepthMap(dm, &transform.PinholeCameraModel{}, 0.001, 1)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = FromDepthMap(rimage.NewEmptyDepthMap(0, 0), model, 0.001, 1)
	test.That(t, err, test.ShouldNotBeNil)
}
