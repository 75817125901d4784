package transform

// BrownConrady is the forward lens model. Undistort solves the polynomial for the ray with
// Newton-Raphson.
type BrownConrady struct {
	brownConradyCoefficients
}

// NewBrownConrady takes in a slice of up to five floats, missing values are zero.
func NewBrownConrady(inp []float64) (*BrownConrady, error) {
	c, err := newCoefficients(inp)
	if err != nil {
		return nil, err
	}
	return &BrownConrady{c}, nil
}

// CheckValid checks if the fields for BrownConrady have valid inputs.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return InvalidDistortionError("BrownConrady shaped distortion_parameters not provided")
	}
	return nil
}

// ModelType returns the type of distortion model.
func (bc *BrownConrady) ModelType() DistortionType {
	return BrownConradyDistortionType
}

// Parameters returns the parameters of the distortion model as a list of floats.
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{}
	}
	return bc.parameters()
}

// Distort applies the forward model to an ideal ray.
func (bc *BrownConrady) Distort(x, y float64) (float64, float64) {
	if bc == nil {
		return x, y
	}
	return bc.apply(x, y)
}

// Undistort finds the ray that the forward model maps onto (xd, yd).
func (bc *BrownConrady) Undistort(xd, yd float64) (float64, float64) {
	if bc == nil {
		return xd, yd
	}

	const maxIterations = 20
	const tolerance = 1e-10

	// The distorted point is the initial guess.
	xu, yu := xd, yd
	for i := 0; i < maxIterations; i++ {
		r2 := xu*xu + yu*yu
		r4 := r2 * r2

		xdEst, ydEst := bc.apply(xu, yu)
		errX := xdEst - xd
		errY := ydEst - yd
		if errX*errX+errY*errY < tolerance*tolerance {
			break
		}

		radDist := 1.0 + bc.RadialK1*r2 + bc.RadialK2*r4 + bc.RadialK3*r4*r2
		dRad := bc.RadialK1 + 2.0*bc.RadialK2*r2 + 3.0*bc.RadialK3*r4
		dRadDxu := 2.0 * xu * dRad
		dRadDyu := 2.0 * yu * dRad

		// Jacobian of the forward model.
		dxdDxu := radDist + xu*dRadDxu + 2.0*bc.TangentialP1*yu + 6.0*bc.TangentialP2*xu
		dxdDyu := xu*dRadDyu + 2.0*bc.TangentialP1*xu + 2.0*bc.TangentialP2*yu
		dydDxu := yu*dRadDxu + 2.0*bc.TangentialP2*yu + 2.0*bc.TangentialP1*xu
		dydDyu := radDist + yu*dRadDyu + 2.0*bc.TangentialP2*xu + 6.0*bc.TangentialP1*yu

		det := dxdDxu*dydDyu - dxdDyu*dydDxu
		if det == 0 {
			break
		}
		xu -= (dydDyu*errX - dxdDyu*errY) / det
		yu -= (-dydDxu*errX + dxdDxu*errY) / det
	}

	return xu, yu
}
