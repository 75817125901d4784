package gostream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"go.viam.com/test"

	"go.viam.com/depthrelay/input"
	"go.viam.com/depthrelay/logging"
	"go.viam.com/depthrelay/rimage"
)

var testFormat = VideoFormat{Format: rimage.PixelFormatRGB8, Width: 4, Height: 2}

func testFrame(v byte) *rimage.ColorFrame {
	f := rimage.NewColorFrame(testFormat.Width, testFormat.Height, testFormat.Format)
	for i := range f.Pix {
		f.Pix[i] = v
	}
	return f
}

// releaseCounter tracks the release callbacks of pushed frames.
type releaseCounter struct {
	mu     sync.Mutex
	counts map[int]int
}

func (rc *releaseCounter) pair(i int) FramePair {
	return FramePair{Media: testFrame(byte(i)), Release: func() {
		rc.mu.Lock()
		defer rc.mu.Unlock()
		if rc.counts == nil {
			rc.counts = map[int]int{}
		}
		rc.counts[i]++
	}}
}

func (rc *releaseCounter) released() map[int]int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := map[int]int{}
	for k, v := range rc.counts {
		out[k] = v
	}
	return out
}

func TestVideoFormat(t *testing.T) {
	test.That(t, testFormat.Validate(), test.ShouldBeNil)
	test.That(t, testFormat.FrameSize(), test.ShouldEqual, 24)
	test.That(t, VideoFormat{Width: 4, Height: 2}.Validate(), test.ShouldNotBeNil)
	test.That(t, VideoFormat{Format: rimage.PixelFormatRGB8, Width: 0, Height: 2}.Validate(), test.ShouldNotBeNil)

	caps := VideoFormat{Format: rimage.PixelFormatBGR8, Width: 1280, Height: 720}.Caps()
	test.That(t, caps, test.ShouldEqual, "video/x-raw,format=BGR,width=1280,height=720,framerate=0/1")

	test.That(t, testFormat.Matches(testFrame(0)), test.ShouldBeTrue)
	test.That(t, testFormat.Matches(rimage.NewColorFrame(4, 2, rimage.PixelFormatRGBA8)), test.ShouldBeFalse)
	test.That(t, testFormat.Matches(nil), test.ShouldBeFalse)
}

func TestMemorySink(t *testing.T) {
	logger := logging.NewTestLogger(t)
	sink := NewMemorySink(MemorySinkConfig{Retain: 2}, logger)
	var rc releaseCounter

	err := sink.Push(context.Background(), rc.pair(0))
	test.That(t, err, test.ShouldEqual, ErrNotConfigured)
	test.That(t, rc.released()[0], test.ShouldEqual, 1)

	test.That(t, sink.Configure(context.Background(), testFormat), test.ShouldBeNil)
	test.That(t, sink.Configure(context.Background(), testFormat), test.ShouldNotBeNil)
	format, ok := sink.Format()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, format, test.ShouldResemble, testFormat)

	for i := 1; i <= 3; i++ {
		test.That(t, sink.Push(context.Background(), rc.pair(i)), test.ShouldBeNil)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	test.That(t, sink.WaitForFrames(ctx, 3), test.ShouldBeNil)

	frames := sink.Frames()
	test.That(t, len(frames), test.ShouldEqual, 2)
	test.That(t, frames[0].Pix[0], test.ShouldEqual, byte(2))
	test.That(t, frames[1].Pix[0], test.ShouldEqual, byte(3))

	wrong := FramePair{Media: rimage.NewColorFrame(2, 2, rimage.PixelFormatRGB8)}
	err = sink.Push(context.Background(), wrong)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "sink expects 4x2")

	test.That(t, sink.Close(context.Background()), test.ShouldBeNil)
	test.That(t, sink.Close(context.Background()), test.ShouldBeNil)
	test.That(t, sink.Push(context.Background(), rc.pair(4)), test.ShouldEqual, ErrClosed)

	test.That(t, rc.released(), test.ShouldResemble, map[int]int{0: 1, 1: 1, 2: 1, 3: 1, 4: 1})
}

func TestMemorySinkBackpressure(t *testing.T) {
	logger := logging.NewTestLogger(t)
	sink := NewMemorySink(MemorySinkConfig{QueueSize: 1}, logger)
	test.That(t, sink.Configure(context.Background(), testFormat), test.ShouldBeNil)
	var rc releaseCounter

	sink.Pause()
	// one frame is held by the paused writer and one fills the queue
	test.That(t, sink.Push(context.Background(), rc.pair(0)), test.ShouldBeNil)
	test.That(t, sink.Push(context.Background(), rc.pair(1)), test.ShouldBeNil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := sink.Push(ctx, rc.pair(2))
	test.That(t, err, test.ShouldBeError, context.DeadlineExceeded)
	test.That(t, rc.released()[2], test.ShouldEqual, 1)

	pushed := make(chan error, 1)
	go func() {
		pushed <- sink.Push(context.Background(), rc.pair(3))
	}()
	select {
	case <-pushed:
		t.Fatal("push should block while the sink is paused")
	case <-time.After(20 * time.Millisecond):
	}
	sink.Resume()
	test.That(t, <-pushed, test.ShouldBeNil)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	test.That(t, sink.WaitForFrames(waitCtx, 3), test.ShouldBeNil)
	test.That(t, sink.Close(context.Background()), test.ShouldBeNil)
	test.That(t, rc.released(), test.ShouldResemble, map[int]int{0: 1, 1: 1, 2: 1, 3: 1})
}

func TestCloseReleasesQueuedFrames(t *testing.T) {
	sink := NewDiscardSink(logging.NewTestLogger(t))
	test.That(t, sink.Configure(context.Background(), testFormat), test.ShouldBeNil)
	var rc releaseCounter

	sink.Pause()
	test.That(t, sink.Push(context.Background(), rc.pair(0)), test.ShouldBeNil)
	test.That(t, sink.Push(context.Background(), rc.pair(1)), test.ShouldBeNil)
	test.That(t, sink.Push(context.Background(), rc.pair(2)), test.ShouldBeNil)

	blocked := make(chan error, 1)
	go func() {
		blocked <- sink.Push(context.Background(), rc.pair(3))
	}()
	time.Sleep(10 * time.Millisecond)

	test.That(t, sink.Close(context.Background()), test.ShouldBeNil)
	test.That(t, <-blocked, test.ShouldEqual, ErrClosed)
	test.That(t, rc.released(), test.ShouldResemble, map[int]int{0: 1, 1: 1, 2: 1, 3: 1})
	test.That(t, sink.Frames(), test.ShouldBeEmpty)
}

func TestNavigationEvent(t *testing.T) {
	ev := navigationEvent(map[string]interface{}{
		"event":     "mouse-button-release",
		"pointer_x": 640.5,
		"pointer_y": float32(360),
		"button":    1,
	})
	test.That(t, ev.Category, test.ShouldEqual, input.Navigation)
	test.That(t, ev.Type, test.ShouldEqual, input.PointerRelease)
	test.That(t, ev.X, test.ShouldEqual, 640.5)
	test.That(t, ev.Y, test.ShouldEqual, 360.)
	test.That(t, ev.Button, test.ShouldEqual, 1)

	ev = navigationEvent(map[string]interface{}{"event": "key-press", "key": "plus"})
	test.That(t, ev.Type, test.ShouldEqual, input.KeyPress)
	test.That(t, ev.Key, test.ShouldEqual, "plus")

	ev = navigationEvent(map[string]interface{}{"event": "touch-down"})
	test.That(t, ev.Category, test.ShouldEqual, input.Navigation)
	test.That(t, ev.Type, test.ShouldEqual, input.Unknown)

	ev = navigationEvent(map[string]interface{}{"qos": 1})
	test.That(t, ev.Category, test.ShouldEqual, input.Other)
}

func TestConsumeNavigation(t *testing.T) {
	release := map[string]interface{}{"event": "mouse-button-release", "pointer_x": 1., "pointer_y": 2., "button": 1}
	verdict := func(d input.Disposition) input.Handler {
		return func(input.Event) input.Disposition { return d }
	}
	test.That(t, consumeNavigation(verdict(input.Handled), release), test.ShouldBeFalse)
	test.That(t, consumeNavigation(verdict(input.Ignored), release), test.ShouldBeFalse)
	test.That(t, consumeNavigation(verdict(input.Forward), release), test.ShouldBeTrue)
	test.That(t, consumeNavigation(nil, release), test.ShouldBeTrue)

	var seen []input.Event
	collect := func(ev input.Event) input.Disposition {
		seen = append(seen, ev)
		return input.Ignored
	}
	test.That(t, consumeNavigation(collect, map[string]interface{}{"event": "mouse-move"}), test.ShouldBeFalse)
	test.That(t, len(seen), test.ShouldEqual, 1)
	test.That(t, seen[0].Type, test.ShouldEqual, input.PointerMove)
}

// slowSink takes as long as its next delay to accept a frame, on a mock clock.
type slowSink struct {
	clock  *clock.Mock
	delays []time.Duration
	err    error
}

func (s *slowSink) Configure(ctx context.Context, format VideoFormat) error {
	return nil
}

func (s *slowSink) Push(ctx context.Context, pair FramePair) error {
	defer release(pair)
	if len(s.delays) > 0 {
		s.clock.Add(s.delays[0])
		s.delays = s.delays[1:]
	}
	return s.err
}

func (s *slowSink) Close(ctx context.Context) error {
	return nil
}

func TestRelayStats(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	mockClock := clock.NewMock()
	sink := &slowSink{
		clock:  mockClock,
		delays: []time.Duration{0, 10 * time.Millisecond, 150 * time.Millisecond, 30 * time.Millisecond, 400 * time.Millisecond},
	}
	relay := NewRelay(sink, RelayConfig{Name: "test", StallThreshold: 30 * time.Millisecond, Logger: logger, Clock: mockClock})
	test.That(t, relay.Name(), test.ShouldEqual, "test")
	test.That(t, relay.Sink(), test.ShouldEqual, sink)

	var released atomic.Int64
	rel := func() { released.Inc() }

	test.That(t, relay.Relay(context.Background(), testFrame(1), rel), test.ShouldBeNil)
	test.That(t, relay.Relay(context.Background(), testFrame(2), rel), test.ShouldBeNil)
	test.That(t, relay.Stats().Stalls, test.ShouldEqual, 0)
	test.That(t, logs.FilterMessage("sink stalled the relay").Len(), test.ShouldEqual, 0)

	test.That(t, relay.Relay(context.Background(), testFrame(3), rel), test.ShouldBeNil)
	test.That(t, relay.Relay(context.Background(), testFrame(4), rel), test.ShouldBeNil)
	st := relay.Stats()
	test.That(t, st.Frames, test.ShouldEqual, 4)
	test.That(t, st.Errors, test.ShouldEqual, 0)
	// the threshold itself counts as a stall
	test.That(t, st.Stalls, test.ShouldEqual, 2)
	test.That(t, st.LongestStall, test.ShouldEqual, 150*time.Millisecond)
	test.That(t, st.TotalStall, test.ShouldEqual, 180*time.Millisecond)
	test.That(t, logs.FilterMessage("sink stalled the relay").Len(), test.ShouldEqual, 2)

	sink.err = ErrClosed
	test.That(t, relay.Relay(context.Background(), testFrame(5), rel), test.ShouldBeError, ErrClosed)
	st = relay.Stats()
	test.That(t, st.Errors, test.ShouldEqual, 1)
	test.That(t, st.Frames, test.ShouldEqual, 4)
	test.That(t, st.Stalls, test.ShouldEqual, 3)
	test.That(t, st.LongestStall, test.ShouldEqual, 400*time.Millisecond)

	test.That(t, relay.Close(context.Background()), test.ShouldBeNil)
	test.That(t, released.Load(), test.ShouldEqual, 5)
}

func TestRelayOverMemorySink(t *testing.T) {
	sink := NewMemorySink(MemorySinkConfig{QueueSize: 1}, logging.NewTestLogger(t))
	test.That(t, sink.Configure(context.Background(), testFormat), test.ShouldBeNil)
	relay := NewRelay(sink, RelayConfig{Name: "memory", Logger: logging.NewTestLogger(t)})

	var released atomic.Int64
	rel := func() { released.Inc() }
	for i := 0; i < 3; i++ {
		test.That(t, relay.Relay(context.Background(), testFrame(byte(i)), rel), test.ShouldBeNil)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	test.That(t, sink.WaitForFrames(ctx, 3), test.ShouldBeNil)

	test.That(t, relay.Relay(context.Background(), rimage.NewColorFrame(1, 1, rimage.PixelFormatRGB8), rel), test.ShouldNotBeNil)
	test.That(t, relay.Stats().Errors, test.ShouldEqual, 1)
	test.That(t, relay.Close(context.Background()), test.ShouldBeNil)
	test.That(t, released.Load(), test.ShouldEqual, 4)
}

func TestRelayDefaults(t *testing.T) {
	relay := NewRelay(NewDiscardSink(logging.NewTestLogger(t)), RelayConfig{Logger: logging.NewTestLogger(t)})
	test.That(t, relay.Name(), test.ShouldNotBeEmpty)
	test.That(t, relay.stallThreshold, test.ShouldEqual, DefaultStallThreshold)
	test.That(t, relay.Close(context.Background()), test.ShouldBeNil)
}
