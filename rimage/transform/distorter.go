package transform

import "github.com/pkg/errors"

// DistortionType is the name of the distortion model.
type DistortionType string

const (
	// NoDistortionType means the pixel grid is an ideal pinhole projection.
	NoDistortionType = DistortionType("none")
	// BrownConradyDistortionType describes how the lens bends rays into observed pixels, so
	// deprojection has to invert the polynomial.
	BrownConradyDistortionType = DistortionType("brown_conrady")
	// InverseBrownConradyDistortionType stores the polynomial that maps observed pixels back to
	// rays. Depth camera color streams usually ship this model.
	InverseBrownConradyDistortionType = DistortionType("inverse_brown_conrady")
)

// Distorter maps normalized image coordinates of an observed pixel to the normalized coordinates
// of the ray that produced it.
type Distorter interface {
	ModelType() DistortionType
	CheckValid() error
	Parameters() []float64
	Undistort(x, y float64) (float64, float64)
}

// InvalidDistortionError is used when the distortion_parameters are invalid.
func InvalidDistortionError(msg string) error {
	return errors.Wrap(errors.New("invalid distortion_parameters"), msg)
}

// NewDistorter returns a Distorter given a valid DistortionType and its parameters.
func NewDistorter(distortionType DistortionType, parameters []float64) (Distorter, error) {
	switch distortionType {
	case BrownConradyDistortionType:
		return NewBrownConrady(parameters)
	case InverseBrownConradyDistortionType:
		return NewInverseBrownConrady(parameters)
	case NoDistortionType:
		return nil, errors.New("no distorter for distortion type none")
	default:
		return nil, errors.Errorf("do not know how to parse %q distortion model", distortionType)
	}
}

// brownConradyCoefficients is shared by both directions of the model. The forward polynomial is
//
//	x_d = x_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p1*x_u*y_u + p2*(r² + 2*x_u²)
//	y_d = y_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p2*x_u*y_u + p1*(r² + 2*y_u²)
type brownConradyCoefficients struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

func newCoefficients(inp []float64) (brownConradyCoefficients, error) {
	if len(inp) > 5 {
		return brownConradyCoefficients{}, errors.Errorf("list of parameters too long, expected max 5, got %d", len(inp))
	}
	padded := make([]float64, 5)
	copy(padded, inp)
	return brownConradyCoefficients{padded[0], padded[1], padded[2], padded[3], padded[4]}, nil
}

func (c brownConradyCoefficients) parameters() []float64 {
	return []float64{c.RadialK1, c.RadialK2, c.RadialK3, c.TangentialP1, c.TangentialP2}
}

func (c brownConradyCoefficients) apply(x, y float64) (float64, float64) {
	r2 := x*x + y*y
	radDist := 1 + c.RadialK1*r2 + c.RadialK2*r2*r2 + c.RadialK3*r2*r2*r2
	xd := x*radDist + 2*c.TangentialP1*x*y + c.TangentialP2*(r2+2*x*x)
	yd := y*radDist + 2*c.TangentialP2*x*y + c.TangentialP1*(r2+2*y*y)
	return xd, yd
}
