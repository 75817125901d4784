package transform

// InverseBrownConrady stores the polynomial that takes an observed pixel straight back to its
// ray, so Undistort is a single evaluation.
type InverseBrownConrady struct {
	brownConradyCoefficients
}

// NewInverseBrownConrady takes in a slice of up to five floats, missing values are zero.
func NewInverseBrownConrady(inp []float64) (*InverseBrownConrady, error) {
	c, err := newCoefficients(inp)
	if err != nil {
		return nil, err
	}
	return &InverseBrownConrady{c}, nil
}

// CheckValid checks if the fields for InverseBrownConrady have valid inputs.
func (ibc *InverseBrownConrady) CheckValid() error {
	if ibc == nil {
		return InvalidDistortionError("InverseBrownConrady shaped distortion_parameters not provided")
	}
	return nil
}

// ModelType returns the type of distortion model.
func (ibc *InverseBrownConrady) ModelType() DistortionType {
	return InverseBrownConradyDistortionType
}

// Parameters returns the parameters of the distortion model as a list of floats.
func (ibc *InverseBrownConrady) Parameters() []float64 {
	if ibc == nil {
		return []float64{}
	}
	return ibc.parameters()
}

// Undistort evaluates the stored polynomial at (x, y).
func (ibc *InverseBrownConrady) Undistort(x, y float64) (float64, float64) {
	if ibc == nil {
		return x, y
	}
	return ibc.apply(x, y)
}
