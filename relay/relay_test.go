package relay

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"go.uber.org/zap/zapcore"
	"go.viam.com/test"

	"go.viam.com/depthrelay/calibration"
	"go.viam.com/depthrelay/camera/fake"
	"go.viam.com/depthrelay/gostream"
	"go.viam.com/depthrelay/input"
	"go.viam.com/depthrelay/logging"
	"go.viam.com/depthrelay/rimage"
	"go.viam.com/depthrelay/session"
	"go.viam.com/depthrelay/testutils"
)

func TestMain(m *testing.M) {
	testutils.VerifyTestMain(m)
}

const (
	testWidth  = 64
	testHeight = 48
)

type harness struct {
	cam   *fake.Camera
	sess  *session.Session
	sink  *gostream.MemorySink
	relay *Relay
}

func newHarness(t *testing.T, frames int, sessCfg session.Config, cfg Config) *harness {
	t.Helper()
	return newLoggedHarness(t, logging.NewTestLogger(t), frames, sessCfg, cfg)
}

func newLoggedHarness(t *testing.T, logger logging.Logger, frames int, sessCfg session.Config, cfg Config) *harness {
	t.Helper()
	cam, err := fake.NewCamera(fake.Config{Width: testWidth, Height: testHeight, Frames: frames}, logger)
	test.That(t, err, test.ShouldBeNil)

	sessCfg.CaptureWidth, sessCfg.CaptureHeight = testWidth, testHeight
	sessCfg.DisplayWidth, sessCfg.DisplayHeight = 2*testWidth, 2*testHeight
	store := calibration.NewFileStore(filepath.Join(t.TempDir(), "perspective.json"))
	calibrator := calibration.NewCalibrator(calibration.Config{
		OutputWidth:   testWidth,
		OutputHeight:  testHeight,
		DisplayWidth:  sessCfg.DisplayWidth,
		DisplayHeight: sessCfg.DisplayHeight,
	}, store, logger)
	sess := session.New(sessCfg, calibrator, logger)

	sink := gostream.NewMemorySink(gostream.MemorySinkConfig{Retain: 16}, logger)
	out := gostream.NewRelay(sink, gostream.RelayConfig{Name: "test", Logger: logger})

	cfg.Width, cfg.Height = testWidth, testHeight
	cfg.DisplayWidth, cfg.DisplayHeight = sessCfg.DisplayWidth, sessCfg.DisplayHeight
	cfg.Background = 0x99
	r, err := New(cfg, cam, sess, out, logger)
	test.That(t, err, test.ShouldBeNil)

	t.Cleanup(func() {
		test.That(t, r.Close(context.Background()), test.ShouldBeNil)
		test.That(t, calibrator.Close(context.Background()), test.ShouldBeNil)
	})
	return &harness{cam: cam, sess: sess, sink: sink, relay: r}
}

func (h *harness) waitForFrames(t *testing.T, n uint64) []*rimage.ColorFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	test.That(t, h.sink.WaitForFrames(ctx, n), test.ShouldBeNil)
	return h.sink.Frames()
}

func TestRelaySegmentsBackground(t *testing.T) {
	h := newHarness(t, 3, session.Config{ClippingDistance: 1, FilterEnabled: true}, Config{})
	test.That(t, h.relay.Run(context.Background()), test.ShouldBeNil)
	test.That(t, h.relay.FramesRelayed(), test.ShouldEqual, 3)

	frames := h.waitForFrames(t, 3)
	test.That(t, len(frames), test.ShouldEqual, 3)

	src, _, err := h.cam.NextFrames(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, src, test.ShouldBeNil)

	reference, err := fake.NewCamera(fake.Config{Width: testWidth, Height: testHeight}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	want, _, err := reference.NextFrames(context.Background())
	test.That(t, err, test.ShouldBeNil)

	got := frames[0]
	for y := 0; y < testHeight; y++ {
		for x := 0; x < testWidth; x++ {
			off := got.Offset(x, y)
			if h.cam.InObject(x, y) {
				test.That(t, got.Pix[off:off+3], test.ShouldResemble, want.Pix[off:off+3])
			} else {
				test.That(t, got.Pix[off:off+3], test.ShouldResemble, []byte{0x99, 0x99, 0x99})
			}
		}
	}
}

func TestRelayFilterDisabled(t *testing.T) {
	h := newHarness(t, 2, session.Config{ClippingDistance: 1, FilterEnabled: false}, Config{Warp: true})
	test.That(t, h.relay.Run(context.Background()), test.ShouldBeNil)
	frames := h.waitForFrames(t, 2)

	reference, err := fake.NewCamera(fake.Config{Width: testWidth, Height: testHeight}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	want, _, err := reference.NextFrames(context.Background())
	test.That(t, err, test.ShouldBeNil)
	for _, f := range frames {
		test.That(t, f.Pix, test.ShouldResemble, want.Pix)
	}
}

func TestRelayFitsPlaneAtStartup(t *testing.T) {
	h := newHarness(t, 2, session.Config{ClippingDistance: 1, FilterEnabled: true, RecomputePlane: true}, Config{})
	test.That(t, h.sess.Plane().IsEmpty(), test.ShouldBeTrue)
	test.That(t, h.relay.Run(context.Background()), test.ShouldBeNil)

	plane := h.sess.Plane()
	test.That(t, plane.IsEmpty(), test.ShouldBeFalse)
	// the wall at 2m dominates the scene
	test.That(t, plane.Offset(), test.ShouldAlmostEqual, 2., 0.01)
	test.That(t, math.Abs(plane.Normal().Z), test.ShouldAlmostEqual, 1., 1e-3)
	test.That(t, h.sess.TakePlaneRequest(), test.ShouldBeFalse)
}

func TestRelayPlaneRequestFromKey(t *testing.T) {
	h := newHarness(t, 0, session.Config{ClippingDistance: 3, FilterEnabled: true}, Config{MaxPlanePoints: 500, PlaneStride: 2})
	done := make(chan error, 1)
	go func() {
		done <- h.relay.Run(context.Background())
	}()
	h.waitForFrames(t, 1)
	test.That(t, h.sess.Plane().IsEmpty(), test.ShouldBeTrue)

	test.That(t, h.sess.HandleEvent(input.NewKeyPress(input.KeyPlane)), test.ShouldEqual, input.Handled)
	deadline := time.Now().Add(10 * time.Second)
	for h.sess.Plane().IsEmpty() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	test.That(t, h.sess.Plane().IsEmpty(), test.ShouldBeFalse)

	test.That(t, h.sess.HandleEvent(input.NewKeyPress(input.KeyQuit)), test.ShouldEqual, input.Handled)
	test.That(t, <-done, test.ShouldBeNil)
}

func TestRelayQuitWhileBlocked(t *testing.T) {
	h := newHarness(t, 0, session.Config{ClippingDistance: 1, FilterEnabled: true}, Config{})
	h.sink.Pause()
	done := make(chan error, 1)
	go func() {
		done <- h.relay.Run(context.Background())
	}()
	// wait until the sink queue is full and the loop is blocked in the relay
	deadline := time.Now().Add(10 * time.Second)
	for h.sink.Queued() < gostream.DefaultQueueSize && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	h.sess.RequestQuit()
	select {
	case err := <-done:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(10 * time.Second):
		t.Fatal("relay did not stop")
	}
	h.sink.Resume()
}

func TestRelayContextCanceled(t *testing.T) {
	h := newHarness(t, 0, session.Config{ClippingDistance: 1}, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.relay.Run(ctx)
	}()
	h.waitForFrames(t, 2)
	cancel()
	test.That(t, <-done, test.ShouldBeNil)
}

func TestRelayWarp(t *testing.T) {
	h := newHarness(t, 0, session.Config{ClippingDistance: 1, FilterEnabled: false}, Config{Warp: true})
	format := gostream.VideoFormat{Format: rimage.PixelFormatRGB8, Width: testWidth, Height: testHeight}
	test.That(t, h.sink.Configure(context.Background(), format), test.ShouldBeNil)

	// clicks on the capture quadrilateral shifted one pixel right
	corners := [][2]float64{{1, 0}, {testWidth + 1, 0}, {testWidth + 1, testHeight}, {1, testHeight}}
	for _, c := range corners {
		_, err := h.sess.RecordCalibrationClick(c[0], c[1])
		test.That(t, err, test.ShouldBeNil)
	}

	test.That(t, h.relay.Step(context.Background()), test.ShouldBeNil)
	frames := h.waitForFrames(t, 1)
	got := frames[0]

	reference, err := fake.NewCamera(fake.Config{Width: testWidth, Height: testHeight}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	want, _, err := reference.NextFrames(context.Background())
	test.That(t, err, test.ShouldBeNil)

	for y := 0; y < testHeight; y++ {
		for x := 0; x < testWidth-1; x++ {
			test.That(t, got.GetRGBA(x, y), test.ShouldResemble, want.GetRGBA(x+1, y))
		}
		test.That(t, got.GetRGBA(testWidth-1, y).R, test.ShouldEqual, uint8(0))
	}

	// space restores the identity mapping
	h.sess.HandleKey(input.KeySpace)
	test.That(t, h.relay.Step(context.Background()), test.ShouldBeNil)
	frames = h.waitForFrames(t, 2)
	test.That(t, frames[1].Pix, test.ShouldResemble, want.Pix)
}

// onMessage runs fn the first time a log entry with message msg is written.
type onMessage struct {
	msg  string
	once sync.Once
	fn   func()
}

func (a *onMessage) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if entry.Message == a.msg {
		a.once.Do(a.fn)
	}
	return nil
}

func (a *onMessage) Sync() error {
	return nil
}

func TestRelayCalibrationDuringStep(t *testing.T) {
	logger := logging.NewTestLogger(t)
	hook := &onMessage{msg: "fitting plane"}
	logger.AddAppender(hook)
	h := newLoggedHarness(t, logger, 0,
		session.Config{ClippingDistance: 1, FilterEnabled: false, RecomputePlane: true}, Config{Warp: true})
	format := gostream.VideoFormat{Format: rimage.PixelFormatRGB8, Width: testWidth, Height: testHeight}
	test.That(t, h.sink.Configure(context.Background(), format), test.ShouldBeNil)

	// the calibration lands after the step took its snapshot but before it warps
	hook.fn = func() {
		corners := [][2]float64{{1, 0}, {testWidth + 1, 0}, {testWidth + 1, testHeight}, {1, testHeight}}
		for _, c := range corners {
			_, err := h.sess.RecordCalibrationClick(c[0], c[1])
			test.That(t, err, test.ShouldBeNil)
		}
	}

	reference, err := fake.NewCamera(fake.Config{Width: testWidth, Height: testHeight}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	want, _, err := reference.NextFrames(context.Background())
	test.That(t, err, test.ShouldBeNil)

	for i := 0; i < 3; i++ {
		test.That(t, h.relay.Step(context.Background()), test.ShouldBeNil)
	}
	test.That(t, h.sess.Calibrator().Generation(), test.ShouldEqual, 1)
	frames := h.waitForFrames(t, 3)

	// the frame in flight used the transform it snapshotted
	test.That(t, frames[0].Pix, test.ShouldResemble, want.Pix)
	// every later frame uses the new calibration
	for _, got := range frames[1:] {
		test.That(t, got.Pix, test.ShouldNotResemble, want.Pix)
		for y := 0; y < testHeight; y++ {
			for x := 0; x < testWidth-1; x++ {
				test.That(t, got.GetRGBA(x, y), test.ShouldResemble, want.GetRGBA(x+1, y))
			}
		}
	}
}

func TestRelayCenterDistanceLog(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	mockClock := clock.NewMock()
	h := newLoggedHarness(t, logger, 0, session.Config{ClippingDistance: 1, FilterEnabled: true},
		Config{CenterLogInterval: time.Second, Clock: mockClock})
	format := gostream.VideoFormat{Format: rimage.PixelFormatRGB8, Width: testWidth, Height: testHeight}
	test.That(t, h.sink.Configure(context.Background(), format), test.ShouldBeNil)

	centerLines := func() []string {
		var out []string
		for _, e := range logs.FilterMessageSnippet("camera is facing an object").All() {
			out = append(out, e.Message)
		}
		return out
	}

	for i := 0; i < 3; i++ {
		test.That(t, h.relay.Step(context.Background()), test.ShouldBeNil)
	}
	test.That(t, centerLines(), test.ShouldResemble, []string{"camera is facing an object 0.500 meters away"})

	mockClock.Add(500 * time.Millisecond)
	test.That(t, h.relay.Step(context.Background()), test.ShouldBeNil)
	test.That(t, len(centerLines()), test.ShouldEqual, 1)

	mockClock.Add(500 * time.Millisecond)
	test.That(t, h.relay.Step(context.Background()), test.ShouldBeNil)
	test.That(t, h.relay.Step(context.Background()), test.ShouldBeNil)
	test.That(t, len(centerLines()), test.ShouldEqual, 2)
}

func TestNewValidates(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := New(Config{Width: 4, Height: 4}, nil, nil, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSubsample(t *testing.T) {
	pts := make([]r3.Vector, 10)
	for i := range pts {
		pts[i].X = float64(i)
	}
	test.That(t, len(subsample(pts, 0)), test.ShouldEqual, 10)
	test.That(t, len(subsample(pts, 20)), test.ShouldEqual, 10)
	out := subsample(pts, 5)
	test.That(t, len(out), test.ShouldEqual, 5)
	test.That(t, out[1].X, test.ShouldEqual, 2.)
}
