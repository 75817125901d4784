package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/depthrelay/rimage"
	"go.viam.com/depthrelay/rimage/transform"
)

// FromDepthMap deprojects every stride-th pixel of dm into camera space, in meters. Pixels whose
// depth is not a usable measurement are left out, so every returned point has Z > 0.
func FromDepthMap(
	dm *rimage.DepthMap,
	model *transform.PinholeCameraModel,
	depthScale float64,
	stride int,
) ([]r3.Vector, error) {
	if !dm.HasData() {
		return nil, errors.New("depth map has no data")
	}
	if err := model.CheckValid(); err != nil {
		return nil, err
	}
	if stride < 1 {
		stride = 1
	}

	pts := make([]r3.Vector, 0, (dm.Width()/stride+1)*(dm.Height()/stride+1))
	for y := 0; y < dm.Height(); y += stride {
		for x := 0; x < dm.Width(); x += stride {
			pt, ok := model.Deproject(float64(x), float64(y), dm.Meters(x, y, depthScale))
			if !ok {
				continue
			}
			pts = append(pts, pt)
		}
	}
	return pts, nil
}
