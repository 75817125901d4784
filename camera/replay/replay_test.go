package replay

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"go.viam.com/depthrelay/camera"
	"go.viam.com/depthrelay/camera/fake"
	"go.viam.com/depthrelay/logging"
	"go.viam.com/depthrelay/rimage"
)

func recordFake(t *testing.T, n int) (string, *fake.Camera) {
	t.Helper()
	logger := logging.NewTestLogger(t)
	src, err := fake.NewCamera(fake.Config{Width: 32, Height: 24}, logger)
	test.That(t, err, test.ShouldBeNil)
	dir := t.TempDir()
	test.That(t, Record(context.Background(), src, dir, n), test.ShouldBeNil)
	return dir, src
}

func TestReplayRoundTrip(t *testing.T) {
	dir, src := recordFake(t, 3)
	cam, err := NewCamera(Config{Dir: dir}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cam.Len(), test.ShouldEqual, 3)
	test.That(t, cam.DepthScale(), test.ShouldEqual, 0.001)
	test.That(t, cam.Model().Fx, test.ShouldAlmostEqual, src.Model().Fx)

	want, wantDepth, err := src.NextFrames(context.Background())
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 3; i++ {
		got, gotDepth, err := cam.NextFrames(context.Background())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.Pix, test.ShouldResemble, want.Pix)
		test.That(t, gotDepth.GetDepth(16, 12), test.ShouldEqual, wantDepth.GetDepth(16, 12))
		test.That(t, gotDepth.GetDepth(0, 0), test.ShouldEqual, wantDepth.GetDepth(0, 0))
	}
	_, _, err = cam.NextFrames(context.Background())
	test.That(t, err, test.ShouldEqual, io.EOF)

	test.That(t, cam.Close(context.Background()), test.ShouldBeNil)
	_, _, err = cam.NextFrames(context.Background())
	test.That(t, err, test.ShouldEqual, camera.ErrClosed)
}

func TestReplayLoop(t *testing.T) {
	dir, _ := recordFake(t, 2)
	cam, err := NewCamera(Config{Dir: dir, Loop: true, Format: rimage.PixelFormatBGRA8}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 5; i++ {
		got, _, err := cam.NextFrames(context.Background())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.Format, test.ShouldEqual, rimage.PixelFormatBGRA8)
	}
}

func TestReplayErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := NewCamera(Config{}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewCamera(Config{Dir: t.TempDir()}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "intrinsics")

	// a color file without its depth partner is skipped
	dir, _ := recordFake(t, 1)
	test.That(t, os.Remove(filepath.Join(dir, "0000_depth.png")), test.ShouldBeNil)
	_, err = NewCamera(Config{Dir: dir}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no frames")

	test.That(t, WriteFrames(dir, 1, rimage.NewColorFrame(4, 4, rimage.PixelFormatRGB8), rimage.NewEmptyDepthMap(4, 3)),
		test.ShouldNotBeNil)
}

func TestReplayCanceled(t *testing.T) {
	dir, _ := recordFake(t, 1)
	cam, err := NewCamera(Config{Dir: dir}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = cam.NextFrames(ctx)
	test.That(t, err, test.ShouldEqual, context.Canceled)
}
