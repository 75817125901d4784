// Package session holds the control state shared between the relay loop and the operator's input
// events, and translates those events into changes of that state.
package session

import (
	"sync"

	"github.com/golang/geo/r2"
	"github.com/google/uuid"
	"go.uber.org/atomic"

	"go.viam.com/depthrelay/calibration"
	"go.viam.com/depthrelay/input"
	"go.viam.com/depthrelay/logging"
	"go.viam.com/depthrelay/pointcloud"
	"go.viam.com/depthrelay/rimage/transform"
)

// ClippingStep is how far one plus or minus key press moves the clipping distance, in meters.
const ClippingStep = 0.2

// Config is the initial state of a session.
type Config struct {
	CaptureWidth     int
	CaptureHeight    int
	DisplayWidth     int
	DisplayHeight    int
	ClippingDistance float64
	FilterEnabled    bool
	// RecomputePlane asks for a plane fit on the first frame.
	RecomputePlane bool
}

// A Session is the state of one relay run. The input goroutine writes it through HandleEvent while
// the relay loop reads it once per frame through Snapshot and the request accessors. Every field
// is individually atomic and the plane and transform are swapped as whole values.
type Session struct {
	id         uuid.UUID
	cfg        Config
	calibrator *calibration.Calibrator
	logger     logging.Logger

	filterEnabled    atomic.Bool
	clippingDistance atomic.Float64
	recomputePlane   atomic.Bool
	quit             atomic.Bool
	plane            atomic.Pointer[pointcloud.Plane]

	quitOnce sync.Once
	done     chan struct{}
}

// New makes a new session around calibrator.
func New(cfg Config, calibrator *calibration.Calibrator, logger logging.Logger) *Session {
	return NewWithID(uuid.New(), cfg, calibrator, logger)
}

// NewWithID makes a new session with an ID.
func NewWithID(id uuid.UUID, cfg Config, calibrator *calibration.Calibrator, logger logging.Logger) *Session {
	s := &Session{
		id:         id,
		cfg:        cfg,
		calibrator: calibrator,
		logger:     logger.Sublogger("session"),
		done:       make(chan struct{}),
	}
	s.filterEnabled.Store(cfg.FilterEnabled)
	s.clippingDistance.Store(cfg.ClippingDistance)
	s.recomputePlane.Store(cfg.RecomputePlane)
	s.plane.Store(pointcloud.NewEmptyPlane())
	return s
}

// ID returns the id of this session.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Calibrator returns the calibrator the session forwards clicks to.
func (s *Session) Calibrator() *calibration.Calibrator {
	return s.calibrator
}

// HandleEvent applies one input event. Non navigation events are handed back with input.Forward.
// Pointer releases and key presses are consumed; any other navigation event is input.Ignored.
func (s *Session) HandleEvent(ev input.Event) input.Disposition {
	if ev.Category != input.Navigation {
		return input.Forward
	}
	switch ev.Type {
	case input.PointerRelease:
		//nolint:errcheck
		s.RecordCalibrationClick(ev.X, ev.Y)
		return input.Handled
	case input.KeyPress:
		s.HandleKey(ev.Key)
		return input.Handled
	case input.Unknown, input.PointerPress, input.PointerMove, input.KeyRelease:
		return input.Ignored
	default:
		return input.Ignored
	}
}

// RecordCalibrationClick scales a click on the output surface, which has the capture resolution,
// into display coordinates and adds it to the calibration. It reports whether the click completed a
// calibration.
func (s *Session) RecordCalibrationClick(rawX, rawY float64) (bool, error) {
	pt := r2.Point{
		X: rawX * float64(s.cfg.DisplayWidth) / float64(s.cfg.CaptureWidth),
		Y: rawY * float64(s.cfg.DisplayHeight) / float64(s.cfg.CaptureHeight),
	}
	return s.calibrator.AddReferencePoint(pt)
}

// HandleKey applies a named key. It returns false for keys that have no effect.
func (s *Session) HandleKey(key string) bool {
	recognized := true
	switch key {
	case input.KeySpace:
		s.calibrator.ResetTransform()
	case input.KeyPlane:
		s.RequestPlaneRecompute()
	case input.KeyFilter:
		s.ToggleFilter()
	case input.KeyQuit:
		s.RequestQuit()
	case input.KeyPlus:
		s.AdjustClippingDistance(ClippingStep)
	case input.KeyMinus:
		s.AdjustClippingDistance(-ClippingStep)
	default:
		recognized = false
	}
	s.logger.Infow("current distance", "key", key, "meters", s.clippingDistance.Load())
	return recognized
}

// ToggleFilter flips segmentation on or off and returns the new value.
func (s *Session) ToggleFilter() bool {
	for {
		old := s.filterEnabled.Load()
		if s.filterEnabled.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// FilterEnabled reports whether segmentation is on.
func (s *Session) FilterEnabled() bool {
	return s.filterEnabled.Load()
}

// AdjustClippingDistance moves the clipping distance by delta and returns the new value. There is
// no lower bound; a non positive distance blanks every pixel.
func (s *Session) AdjustClippingDistance(delta float64) float64 {
	return s.clippingDistance.Add(delta)
}

// ClippingDistance returns the current clipping distance in meters.
func (s *Session) ClippingDistance() float64 {
	return s.clippingDistance.Load()
}

// RequestPlaneRecompute asks the relay loop to refit the plane.
func (s *Session) RequestPlaneRecompute() {
	s.recomputePlane.Store(true)
}

// TakePlaneRequest clears a pending plane request and reports whether there was one.
func (s *Session) TakePlaneRequest() bool {
	return s.recomputePlane.CompareAndSwap(true, false)
}

// SetPlane replaces the fitted plane.
func (s *Session) SetPlane(p *pointcloud.Plane) {
	if p == nil {
		p = pointcloud.NewEmptyPlane()
	}
	s.plane.Store(p)
}

// Plane returns the last fitted plane, which is empty until the first successful fit.
func (s *Session) Plane() *pointcloud.Plane {
	return s.plane.Load()
}

// RequestQuit asks the relay loop to stop.
func (s *Session) RequestQuit() {
	s.quit.Store(true)
	s.quitOnce.Do(func() {
		close(s.done)
	})
}

// QuitRequested reports whether a quit was requested.
func (s *Session) QuitRequested() bool {
	return s.quit.Load()
}

// Done is closed once a quit has been requested.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Snapshot is a consistent view of the session for one frame. TransformGeneration is the generation
// Transform was installed as.
type Snapshot struct {
	ID                  string               `json:"id"`
	FilterEnabled       bool                 `json:"filter_enabled"`
	ClippingDistance    float64              `json:"clipping_distance"`
	PlaneEquation       [4]float64           `json:"plane"`
	Transform           transform.Homography `json:"transform"`
	TransformGeneration uint64               `json:"transform_generation"`
	PointsCollected     int                  `json:"calibration_points"`
	QuitRequested       bool                 `json:"quit_requested"`

	Plane *pointcloud.Plane `json:"-"`
}

// Snapshot reads every field once. Each value is whole, though a concurrent event may land between
// two of the reads. The transform and its generation are read together.
func (s *Session) Snapshot() Snapshot {
	plane := s.plane.Load()
	live := s.calibrator.Live()
	return Snapshot{
		ID:                  s.id.String(),
		FilterEnabled:       s.filterEnabled.Load(),
		ClippingDistance:    s.clippingDistance.Load(),
		PlaneEquation:       plane.Equation(),
		Plane:               plane,
		Transform:           live.Matrix,
		TransformGeneration: live.Generation,
		PointsCollected:     len(s.calibrator.Points()),
		QuitRequested:       s.quit.Load(),
	}
}
