// Package segmentation implements the two classifiers of the relay: a RANSAC plane fit over
// deprojected depth points, and the per-pixel depth segmenter that blanks the background of a
// color frame.
package segmentation

import (
	"context"
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/depthrelay/pointcloud"
)

// ErrDegeneratePlane is returned when no plane can be fitted, either because there are fewer than
// three points or because every sample was collinear.
var ErrDegeneratePlane = errors.New("not enough non-collinear points to fit a plane")

const minPlanePoints = 3

// countInliers returns how many points lie within threshold of the plane.
func countInliers(plane *pointcloud.Plane, pts []r3.Vector, threshold float64) int {
	n := 0
	for _, pt := range pts {
		if math.Abs(plane.Distance(pt)) <= threshold {
			n++
		}
	}
	return n
}

// SegmentPlane finds the plane supported by the most points.
// nIterations is the number of iteration for ransac
// nIter to choose? nIter = log(1-p)/log(1-(1-e)^s), where p is prob of success, e is outlier ratio, s is subset size (3 for plane).
// threshold is the maximum distance to the plane for a point to count as an inlier.
// The winning candidate is refit by least squares over its inliers, and the refit is kept when it
// supports at least as many points. The returned plane is canonical (offset >= 0) together with
// its inlier count. Degenerate input returns the empty plane and ErrDegeneratePlane.
func SegmentPlane(ctx context.Context, pts []r3.Vector, nIterations int, threshold float64) (*pointcloud.Plane, int, error) {
	if len(pts) < minPlanePoints {
		return pointcloud.NewEmptyPlane(), 0, ErrDegeneratePlane
	}
	r := rand.New(rand.NewSource(1)) //nolint:gosec
	nPoints := len(pts)

	var best *pointcloud.Plane
	bestInliers := 0
	for i := 0; i < nIterations; i++ {
		if err := ctx.Err(); err != nil {
			return pointcloud.NewEmptyPlane(), 0, err
		}

		// sample 3 distinct points
		n1 := r.Intn(nPoints)
		n2 := r.Intn(nPoints - 1)
		if n2 >= n1 {
			n2++
		}
		n3 := r.Intn(nPoints)
		if n3 == n1 || n3 == n2 {
			continue
		}
		p1, p2, p3 := pts[n1], pts[n2], pts[n3]

		// the cross product of two in-plane vectors is the normal
		cross := p2.Sub(p1).Cross(p3.Sub(p1))
		if cross.Norm() < 1e-12 {
			continue
		}
		candidate := pointcloud.NewPlaneFromPoint(cross, p1)

		inliers := countInliers(candidate, pts, threshold)
		if inliers > bestInliers {
			best = candidate
			bestInliers = inliers
		}
	}
	if best == nil {
		return pointcloud.NewEmptyPlane(), 0, ErrDegeneratePlane
	}

	if refined, ok := fitPlane(pts, best, threshold); ok {
		if n := countInliers(refined, pts, threshold); n >= bestInliers {
			best, bestInliers = refined, n
		}
	}
	return best.Canonical(), bestInliers, nil
}

// fitPlane is the total least squares plane through the inliers of guess: it passes through their
// centroid and its normal is the direction of least variance.
func fitPlane(pts []r3.Vector, guess *pointcloud.Plane, threshold float64) (*pointcloud.Plane, bool) {
	var centroid r3.Vector
	count := 0
	for _, pt := range pts {
		if math.Abs(guess.Distance(pt)) <= threshold {
			centroid = centroid.Add(pt)
			count++
		}
	}
	if count < minPlanePoints {
		return nil, false
	}
	centroid = centroid.Mul(1 / float64(count))

	scatter := mat.NewSymDense(3, nil)
	for _, pt := range pts {
		if math.Abs(guess.Distance(pt)) > threshold {
			continue
		}
		d := pt.Sub(centroid)
		v := [3]float64{d.X, d.Y, d.Z}
		for i := 0; i < 3; i++ {
			for j := i; j < 3; j++ {
				scatter.SetSym(i, j, scatter.At(i, j)+v[i]*v[j])
			}
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(scatter, true) {
		return nil, false
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	// eigenvalues are in ascending order
	normal := r3.Vector{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}
	if normal.Norm() == 0 {
		return nil, false
	}
	return pointcloud.NewPlaneFromPoint(normal, centroid), true
}
