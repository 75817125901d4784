package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Homography is a 3x3 matrix (represented as a 2D array) used to transform points of one plane
// onto another. Indices are [row][column].
type Homography [3][3]float64

// NewHomography creates a Homography from a slice of 9 floats in row major order.
func NewHomography(vals []float64) (*Homography, error) {
	if len(vals) != 9 {
		return nil, errors.Errorf("input to NewHomography must have length of 9. Has length of %d", len(vals))
	}
	h := &Homography{}
	for i, v := range vals {
		h[i/3][i%3] = v
	}
	return h, nil
}

// IdentityHomography maps every point to itself.
func IdentityHomography() Homography {
	return Homography{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// ScaleHomography scales x by sx and y by sy.
func ScaleHomography(sx, sy float64) Homography {
	return Homography{{sx, 0, 0}, {0, sy, 0}, {0, 0, 1}}
}

// At returns the value at row, col.
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// Data returns the matrix in row major order.
func (h *Homography) Data() []float64 {
	out := make([]float64, 0, 9)
	for _, row := range h {
		out = append(out, row[:]...)
	}
	return out
}

// Apply maps pt through the homography, dividing out the homogeneous coordinate.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// Mul returns h * other, i.e. other is applied first.
func (h *Homography) Mul(other *Homography) Homography {
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			for k := 0; k < 3; k++ {
				out[r][c] += h[r][k] * other[k][c]
			}
		}
	}
	return out
}

func (h *Homography) dense() *mat.Dense {
	return mat.NewDense(3, 3, h.Data())
}

// Inverse returns the homography mapping the other way, normalized so the bottom right entry is 1
// when possible.
func (h *Homography) Inverse() (Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.dense()); err != nil {
		return Homography{}, errors.Wrap(err, "homography is not invertible")
	}
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r][c] = inv.At(r, c)
		}
	}
	return out.normalized(), nil
}

func (h Homography) normalized() Homography {
	s := h[2][2]
	if s == 0 || math.Abs(s) < 1e-12 {
		return h
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			h[r][c] /= s
		}
	}
	return h
}

// Equal reports whether every entry of the two matrices is within tol.
func (h *Homography) Equal(other *Homography, tol float64) bool {
	if other == nil {
		return false
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if math.Abs(h[r][c]-other[r][c]) > tol {
				return false
			}
		}
	}
	return true
}

// IsFinite reports whether every entry is a real number.
func (h *Homography) IsFinite() bool {
	for _, v := range h.Data() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// GetPerspectiveTransform computes the homography taking each src point onto the dst point with
// the same index. The bottom right entry is fixed at 1, leaving an 8x8 linear system. Degenerate
// point sets, such as three collinear points, return an error.
func GetPerspectiveTransform(src, dst []r2.Point) (Homography, error) {
	if len(src) != 4 || len(dst) != 4 {
		return Homography{}, errors.Errorf("perspective transform needs 4 point pairs, got %d and %d", len(src), len(dst))
	}

	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -x * u, -y * u})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -x * v, -y * v})
		b.SetVec(2*i, u)
		b.SetVec(2*i+1, v)
	}

	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil {
		return Homography{}, errors.Wrap(err, "cannot solve for perspective transform")
	}

	h := Homography{
		{sol.AtVec(0), sol.AtVec(1), sol.AtVec(2)},
		{sol.AtVec(3), sol.AtVec(4), sol.AtVec(5)},
		{sol.AtVec(6), sol.AtVec(7), 1},
	}
	if !h.IsFinite() {
		return Homography{}, errors.New("perspective transform is not finite")
	}
	return h, nil
}
