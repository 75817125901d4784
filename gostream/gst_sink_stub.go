//go:build !gst

package gostream

import (
	"github.com/pkg/errors"

	"go.viam.com/depthrelay/input"
	"go.viam.com/depthrelay/logging"
)

// ErrGstUnavailable is returned when the binary was built without the gst tag.
var ErrGstUnavailable = errors.New("built without GStreamer support; rebuild with -tags gst")

// OpenGstSink always fails in this build.
func OpenGstSink(cfg GstSinkConfig, logger logging.Logger) (Sink, input.Source, error) {
	return nil, nil, ErrGstUnavailable
}
