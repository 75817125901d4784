package segmentation

import (
	"math"

	"github.com/pkg/errors"

	"go.viam.com/depthrelay/pointcloud"
	"go.viam.com/depthrelay/rimage"
	"go.viam.com/depthrelay/rimage/transform"
)

// DefaultBackground is the gray written over background pixels.
const DefaultBackground = byte(0x99)

// Params are the per-frame inputs of the segmenter, taken from the session snapshot.
type Params struct {
	DepthScale       float64
	ClippingDistance float64
	FilterEnabled    bool
	// Plane is optional. It is only consulted when the segmenter has a plane margin.
	Plane *pointcloud.Plane
}

// DepthSegmenter blanks the background of a color frame using the aligned depth frame.
type DepthSegmenter struct {
	Background byte
	// PlaneMargin, when positive, also blanks pixels within this many meters of the plane.
	PlaneMargin float64
	// Model deprojects pixels for the plane test.
	Model *transform.PinholeCameraModel
}

// NewDepthSegmenter returns a segmenter with the default background and no plane margin.
func NewDepthSegmenter(model *transform.PinholeCameraModel) *DepthSegmenter {
	return &DepthSegmenter{Background: DefaultBackground, Model: model}
}

// Segment overwrites, in place, every pixel of color whose depth is missing or farther than the
// clipping distance with the background value in all of its bytes. It returns the number of
// pixels blanked. When filtering is disabled the frame is not touched.
func (s *DepthSegmenter) Segment(color *rimage.ColorFrame, depth *rimage.DepthMap, params Params) (int, error) {
	if !params.FilterEnabled {
		return 0, nil
	}
	if color.Width != depth.Width() || color.Height != depth.Height() {
		return 0, errors.Errorf("color frame %dx%d is not aligned with depth frame %dx%d",
			color.Width, color.Height, depth.Width(), depth.Height())
	}
	if color.BytesPerPixel() == 0 {
		return 0, errors.Errorf("unsupported pixel format %v", color.Format)
	}

	usePlane := s.PlaneMargin > 0 && !params.Plane.IsEmpty() && s.Model != nil
	blanked := 0
	for y := 0; y < color.Height; y++ {
		for x := 0; x < color.Width; x++ {
			dist := depth.Meters(x, y, params.DepthScale)
			if dist <= 0 || dist > params.ClippingDistance {
				color.Fill(x, y, s.Background)
				blanked++
				continue
			}
			if usePlane && s.onPlane(x, y, dist, params.Plane) {
				color.Fill(x, y, s.Background)
				blanked++
			}
		}
	}
	return blanked, nil
}

func (s *DepthSegmenter) onPlane(x, y int, dist float64, plane *pointcloud.Plane) bool {
	pt, ok := s.Model.Deproject(float64(x), float64(y), dist)
	if !ok {
		return false
	}
	return math.Abs(plane.Distance(pt)) <= s.PlaneMargin
}
