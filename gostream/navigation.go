package gostream

import (
	"time"

	"github.com/spf13/cast"

	"go.viam.com/depthrelay/input"
)

// DefaultGstPipeline displays frames in a local window without clock sync.
const DefaultGstPipeline = "videoconvert ! fpsdisplaysink sync=false"

// GstSinkConfig configures a GstSink.
type GstSinkConfig struct {
	// Pipeline is a gst-launch description the frames are fed into, e.g. DefaultGstPipeline.
	Pipeline  string
	QueueSize int
}

// navigationEvent converts the fields of a GStreamer navigation structure into an input event.
// Structures that are not navigation events come back with input.Other.
func navigationEvent(fields map[string]interface{}) input.Event {
	ev := input.Event{Time: time.Now(), Category: input.Navigation}
	name, _ := fields["event"].(string)
	switch name {
	case "mouse-button-press":
		ev.Type = input.PointerPress
	case "mouse-button-release":
		ev.Type = input.PointerRelease
	case "mouse-move":
		ev.Type = input.PointerMove
	case "key-press":
		ev.Type = input.KeyPress
	case "key-release":
		ev.Type = input.KeyRelease
	case "":
		ev.Category = input.Other
		return ev
	default:
		ev.Type = input.Unknown
	}
	ev.X = cast.ToFloat64(fields["pointer_x"])
	ev.Y = cast.ToFloat64(fields["pointer_y"])
	ev.Button = cast.ToInt(fields["button"])
	ev.Key = cast.ToString(fields["key"])
	return ev
}

// consumeNavigation hands a navigation structure to handler and reports whether the event may
// continue upstream. Only a Forward verdict lets it pass; handled and ignored navigation events
// stop at the sink. Without a handler everything passes.
func consumeNavigation(handler input.Handler, fields map[string]interface{}) bool {
	if handler == nil {
		return true
	}
	return handler(navigationEvent(fields)) == input.Forward
}
