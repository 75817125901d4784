package gostream

import (
	"github.com/pkg/errors"

	"go.viam.com/depthrelay/rimage"
)

var errAlreadyConfigured = errors.New("sink is already configured")

func errFormatMismatch(want VideoFormat, frame *rimage.ColorFrame) error {
	if frame == nil {
		return errors.New("cannot push a nil frame")
	}
	return errors.Errorf("frame is %dx%d %v but sink expects %dx%d %v",
		frame.Width, frame.Height, frame.Format, want.Width, want.Height, want.Format)
}
