package segmentation

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

// tiltedWall returns points on z = 2.5 + 0.2*y (a wall leaning away from the camera) plus a block
// of foreground clutter that is not on the plane.
func tiltedWall() []r3.Vector {
	r := rand.New(rand.NewSource(7)) //nolint:gosec
	pts := make([]r3.Vector, 0, 1200)
	for i := 0; i < 1000; i++ {
		x := r.Float64()*2 - 1
		y := r.Float64()*1.2 - 0.6
		noise := (r.Float64() - 0.5) * 0.004
		pts = append(pts, r3.Vector{X: x, Y: y, Z: 2.5 + 0.2*y + noise})
	}
	for i := 0; i < 200; i++ {
		pts = append(pts, r3.Vector{X: r.Float64()*0.4 - 0.2, Y: r.Float64()*0.4 - 0.2, Z: 0.7 + r.Float64()*0.3})
	}
	return pts
}

func TestSegmentPlane(t *testing.T) {
	pts := tiltedWall()
	plane, inliers, err := SegmentPlane(context.Background(), pts, 200, 0.01)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, inliers, test.ShouldBeGreaterThanOrEqualTo, 950)
	test.That(t, inliers, test.ShouldBeLessThanOrEqualTo, 1000)

	// ground truth: 0x + 0.2y - z + 2.5 = 0, normalized
	gt := r3.Vector{X: 0, Y: 0.2, Z: -1}.Normalize()
	test.That(t, math.Abs(plane.Normal().Dot(gt)), test.ShouldBeGreaterThan, 0.999)
	test.That(t, plane.Normal().Norm(), test.ShouldAlmostEqual, 1)
	test.That(t, plane.Offset(), test.ShouldBeGreaterThanOrEqualTo, 0)
	test.That(t, plane.Offset(), test.ShouldAlmostEqual, 2.5/math.Sqrt(1.04), 0.01)
	test.That(t, plane.Distance(r3.Vector{X: 0, Y: 0, Z: 2.5}), test.ShouldAlmostEqual, 0, 0.005)
}

func TestSegmentPlaneCanonicalSign(t *testing.T) {
	// Every candidate through these points is z = 2.5. With a normal of +z the raw offset is
	// -2.5, so the canonical plane must point back at the camera.
	pts := make([]r3.Vector, 0, 100)
	for x := 0; x < 10; x++ {
		for y := 0; y < 10; y++ {
			pts = append(pts, r3.Vector{X: float64(x) * 0.1, Y: float64(y) * 0.1, Z: 2.5})
		}
	}
	plane, inliers, err := SegmentPlane(context.Background(), pts, 50, 0.01)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, inliers, test.ShouldEqual, 100)
	test.That(t, plane.Offset(), test.ShouldAlmostEqual, 2.5)
	test.That(t, plane.Normal().Z, test.ShouldAlmostEqual, -1)
	for _, pt := range pts {
		test.That(t, plane.Distance(pt), test.ShouldAlmostEqual, 0)
	}
	// the camera is on the positive side
	test.That(t, plane.Distance(r3.Vector{}), test.ShouldBeGreaterThan, 0)
}

func TestSegmentPlaneDegenerate(t *testing.T) {
	plane, inliers, err := SegmentPlane(context.Background(), []r3.Vector{{X: 0, Y: 0, Z: 1}, {X: 1, Y: 0, Z: 1}}, 200, 0.01)
	test.That(t, errors.Is(err, ErrDegeneratePlane), test.ShouldBeTrue)
	test.That(t, inliers, test.ShouldEqual, 0)
	test.That(t, plane.IsEmpty(), test.ShouldBeTrue)
	test.That(t, plane.Equation(), test.ShouldResemble, [4]float64{})

	plane, _, err = SegmentPlane(context.Background(), nil, 200, 0.01)
	test.That(t, errors.Is(err, ErrDegeneratePlane), test.ShouldBeTrue)
	test.That(t, plane, test.ShouldNotBeNil)

	line := []r3.Vector{{X: 0, Y: 0, Z: 1}, {X: 0, Y: 0, Z: 2}, {X: 0, Y: 0, Z: 3}, {X: 0, Y: 0, Z: 4}, {X: 0, Y: 0, Z: 5}}
	_, _, err = SegmentPlane(context.Background(), line, 200, 0.01)
	test.That(t, errors.Is(err, ErrDegeneratePlane), test.ShouldBeTrue)
}

func TestSegmentPlaneCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := SegmentPlane(ctx, tiltedWall(), 200, 0.01)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}
