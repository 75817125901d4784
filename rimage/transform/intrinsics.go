// Package transform holds the camera geometry used by the relay: pinhole intrinsics with lens
// distortion for deprojecting depth pixels, and 3x3 homographies for the output perspective warp.
package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width == 0 || params.Height == 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

// PixelToPoint transforms a pixel with depth to a 3D point. It ignores lens distortion.
func (params *PinholeCameraIntrinsics) PixelToPoint(x, y, z float64) (float64, float64, float64) {
	xOverZ := (x - params.Ppx) / params.Fx
	yOverZ := (y - params.Ppy) / params.Fy
	return xOverZ * z, yOverZ * z, z
}

// PinholeCameraModel is the model of a pinhole camera.
type PinholeCameraModel struct {
	*PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion               Distorter `json:"-"`
}

type rawCameraModel struct {
	Intrinsics     *PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	DistortionType DistortionType           `json:"distortion_type,omitempty"`
	Parameters     []float64                `json:"distortion_parameters,omitempty"`
}

// UnmarshalJSON reads intrinsics plus an optional distortion model.
func (params *PinholeCameraModel) UnmarshalJSON(data []byte) error {
	var raw rawCameraModel
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	params.PinholeCameraIntrinsics = raw.Intrinsics
	params.Distortion = nil
	if raw.DistortionType == "" || raw.DistortionType == NoDistortionType {
		return nil
	}
	distorter, err := NewDistorter(raw.DistortionType, raw.Parameters)
	if err != nil {
		return err
	}
	params.Distortion = distorter
	return nil
}

// MarshalJSON is the inverse of UnmarshalJSON.
func (params PinholeCameraModel) MarshalJSON() ([]byte, error) {
	raw := rawCameraModel{Intrinsics: params.PinholeCameraIntrinsics}
	if params.Distortion != nil {
		raw.DistortionType = params.Distortion.ModelType()
		raw.Parameters = params.Distortion.Parameters()
	}
	return json.Marshal(raw)
}

// CheckValid checks the intrinsics and, if present, the distortion model.
func (params *PinholeCameraModel) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("camera model does not exist")
	}
	if err := params.PinholeCameraIntrinsics.CheckValid(); err != nil {
		return err
	}
	if params.Distortion != nil {
		return params.Distortion.CheckValid()
	}
	return nil
}

// Deproject maps pixel (x, y) measured at distance meters to a point in camera space, in meters.
// The second return is false when the distance is not a usable measurement (NaN, infinite or not
// positive).
func (params *PinholeCameraModel) Deproject(x, y, distance float64) (r3.Vector, bool) {
	if math.IsNaN(distance) || math.IsInf(distance, 0) || distance <= 0 {
		return r3.Vector{}, false
	}
	nx := (x - params.Ppx) / params.Fx
	ny := (y - params.Ppy) / params.Fy
	if params.Distortion != nil {
		nx, ny = params.Distortion.Undistort(nx, ny)
	}
	return r3.Vector{X: nx * distance, Y: ny * distance, Z: distance}, true
}

// NewPinholeCameraModelFromJSONFile reads a camera model stored as JSON.
func NewPinholeCameraModelFromJSONFile(jsonPath string) (model *PinholeCameraModel, err error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer func() {
		err = multierr.Combine(err, jsonFile.Close())
	}()

	model = &PinholeCameraModel{}
	if err := json.NewDecoder(jsonFile).Decode(model); err != nil {
		return nil, errors.Wrap(err, "error parsing camera model JSON")
	}
	if err := model.CheckValid(); err != nil {
		return nil, err
	}
	return model, nil
}
