package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/depthrelay/rimage"
)

// WarpFrame fills dst by sampling src. Each destination pixel is mapped through dstToSrc and the
// nearest source pixel is copied. Destination pixels that land outside src are black.
func WarpFrame(src *rimage.ColorFrame, dstToSrc Homography, dst *rimage.ColorFrame) error {
	if src.Format != dst.Format {
		return errors.Errorf("cannot warp %v frame into %v frame", src.Format, dst.Format)
	}
	bpp := src.BytesPerPixel()
	for y := 0; y < dst.Height; y++ {
		for x := 0; x < dst.Width; x++ {
			p := dstToSrc.Apply(r2.Point{X: float64(x), Y: float64(y)})
			out := dst.Offset(x, y)
			sx, sy := math.Round(p.X), math.Round(p.Y)
			if !(sx >= 0 && sy >= 0 && sx < float64(src.Width) && sy < float64(src.Height)) {
				dst.Fill(x, y, 0)
				continue
			}
			in := src.Offset(int(sx), int(sy))
			copy(dst.Pix[out:out+bpp], src.Pix[in:in+bpp])
		}
	}
	return nil
}
