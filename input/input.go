// Package input delivers operator events (pointer clicks and key presses) to the relay session.
// Events come from the video sink's display window, a raw-mode terminal, or an HTTP control API.
package input

import (
	"context"
	"time"
)

// Category separates the events the session claims from those it hands back untouched.
type Category uint8

const (
	// Navigation events are pointer and keyboard events on the output surface.
	Navigation Category = iota
	// Other covers every event the session does not interpret (QoS, EOS, and so on).
	Other
)

// EventType is the kind of navigation event.
type EventType uint8

// Extensible for further events.
const (
	Unknown EventType = iota
	PointerPress
	PointerRelease
	PointerMove
	KeyPress
	KeyRelease
)

// String names the event type.
func (t EventType) String() string {
	switch t {
	case PointerPress:
		return "pointer-press"
	case PointerRelease:
		return "pointer-release"
	case PointerMove:
		return "pointer-move"
	case KeyPress:
		return "key-press"
	case KeyRelease:
		return "key-release"
	case Unknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// Recognized key names.
const (
	KeySpace  = "space"
	KeyPlus   = "plus"
	KeyMinus  = "minus"
	KeyPlane  = "p"
	KeyFilter = "f"
	KeyQuit   = "q"
)

// Event is a single operator input. X and Y are in the coordinates of the surface that produced
// the event.
type Event struct {
	Time     time.Time
	Category Category
	Type     EventType
	X, Y     float64
	Button   int
	Key      string
}

// NewPointerRelease returns a navigation event for a released pointer button.
func NewPointerRelease(x, y float64, button int) Event {
	return Event{Time: time.Now(), Category: Navigation, Type: PointerRelease, X: x, Y: y, Button: button}
}

// NewKeyPress returns a navigation event for a pressed key.
func NewKeyPress(key string) Event {
	return Event{Time: time.Now(), Category: Navigation, Type: KeyPress, Key: key}
}

// Disposition is a handler's verdict on an event.
type Disposition uint8

const (
	// Forward means the event was not for the session; the source passes it to its default handling.
	Forward Disposition = iota
	// Handled means the session consumed the event.
	Handled
	// Ignored means the event was a navigation event the session has no use for.
	Ignored
)

// String names the disposition.
func (d Disposition) String() string {
	switch d {
	case Forward:
		return "forward"
	case Handled:
		return "handled"
	case Ignored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Handler is invoked on the source's own goroutine for each event. It must not block.
type Handler func(Event) Disposition

// Source produces events until it is closed or its context is done.
type Source interface {
	Start(ctx context.Context, handler Handler) error
	Close() error
}
