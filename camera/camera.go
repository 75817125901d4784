// Package camera defines the depth camera the relay reads from. Implementations hand out color and
// depth frames that are already aligned pixel for pixel.
package camera

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/depthrelay/rimage"
	"go.viam.com/depthrelay/rimage/transform"
)

// ErrClosed is returned by NextFrames after Close.
var ErrClosed = errors.New("camera is closed")

// A Camera produces aligned color and depth frames.
type Camera interface {
	// NextFrames blocks until the next pair of frames is available. The caller owns the returned
	// frames. io.EOF means the source is exhausted.
	NextFrames(ctx context.Context) (*rimage.ColorFrame, *rimage.DepthMap, error)

	// Model returns the intrinsics of the stream the depth frames are aligned to.
	Model() *transform.PinholeCameraModel

	// DepthScale is the number of meters one raw depth unit represents.
	DepthScale() float64

	Close(ctx context.Context) error
}

// CheckAligned returns an error if the two frames do not cover the same pixel grid.
func CheckAligned(color *rimage.ColorFrame, depth *rimage.DepthMap) error {
	if color == nil || depth == nil {
		return errors.New("missing frame")
	}
	if color.Width != depth.Width() || color.Height != depth.Height() {
		return errors.Errorf("color frame is %dx%d but depth frame is %dx%d",
			color.Width, color.Height, depth.Width(), depth.Height())
	}
	return nil
}
