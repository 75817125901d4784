// Package gostream moves processed frames to a display or encoder that consumes them at its own
// pace. A Sink owns a bounded queue; pushing into a full queue blocks, which is the only flow
// control between the capture loop and the consumer.
package gostream

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"go.viam.com/depthrelay/rimage"
)

var (
	// ErrNotConfigured is returned when pushing to a sink before Configure.
	ErrNotConfigured = errors.New("sink is not configured")
	// ErrClosed is returned when using a sink after Close.
	ErrClosed = errors.New("sink is closed")
)

// MediaReleasePair associates a media with a corresponding
// function to release its resources once the receiver of a
// pair is finished with the media.
type MediaReleasePair[T any] struct {
	Media   T
	Release func()
}

// FramePair is the unit pushed into a sink.
type FramePair = MediaReleasePair[*rimage.ColorFrame]

// VideoFormat describes the raw frames a sink receives.
type VideoFormat struct {
	Format rimage.PixelFormat
	Width  int
	Height int
	// FrameRate is a hint; zero means frames arrive whenever they are ready.
	FrameRate float64
}

// Validate checks that frames of this format can be carried.
func (f VideoFormat) Validate() error {
	if f.Format.BytesPerPixel() == 0 {
		return errors.Errorf("unsupported pixel format %v", f.Format)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return errors.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if f.FrameRate < 0 {
		return errors.Errorf("invalid frame rate %v", f.FrameRate)
	}
	return nil
}

// FrameSize is the number of bytes in one frame.
func (f VideoFormat) FrameSize() int {
	return f.Width * f.Height * f.Format.BytesPerPixel()
}

// Caps renders the format as GStreamer raw video caps. A zero frame rate becomes 0/1.
func (f VideoFormat) Caps() string {
	num, den := 0, 1
	if f.FrameRate > 0 {
		num, den = int(f.FrameRate*1000), 1000
	}
	return fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d,framerate=%d/%d",
		f.Format, f.Width, f.Height, num, den)
}

// Matches reports whether frame can be pushed to a sink configured with f.
func (f VideoFormat) Matches(frame *rimage.ColorFrame) bool {
	return frame != nil && frame.Format == f.Format && frame.Width == f.Width && frame.Height == f.Height &&
		len(frame.Pix) >= f.FrameSize()
}

// A Sink consumes frames.
type Sink interface {
	// Configure declares the frames that will be pushed. It must be called once before Push.
	Configure(ctx context.Context, format VideoFormat) error

	// Push hands a frame to the sink. The sink calls Release exactly once, when it no longer reads
	// the frame, including when Push fails. Push blocks while the sink's queue is full.
	Push(ctx context.Context, pair FramePair) error

	// Close stops the sink and releases any queued frames.
	Close(ctx context.Context) error
}

func release(pair FramePair) {
	if pair.Release != nil {
		pair.Release()
	}
}
