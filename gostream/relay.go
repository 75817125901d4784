package gostream

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"

	"go.viam.com/depthrelay/logging"
	"go.viam.com/depthrelay/rimage"
)

// DefaultStallThreshold is how long a push may block before it counts as a stall.
const DefaultStallThreshold = 100 * time.Millisecond

// A RelayConfig describes how a Relay should be managed.
type RelayConfig struct {
	// Name tags metrics and logs. A random name is used if empty.
	Name           string
	StallThreshold time.Duration
	Logger         logging.Logger
	// Clock times pushes. Nil means the wall clock.
	Clock clock.Clock
}

// RelayStats summarize the pushes made through a Relay.
type RelayStats struct {
	Frames       uint64
	Errors       uint64
	Stalls       uint64
	TotalStall   time.Duration
	LongestStall time.Duration
}

// A Relay hands frames to a Sink and measures how long the sink makes it wait.
type Relay struct {
	name           string
	sink           Sink
	stallThreshold time.Duration
	logger         logging.Logger
	clock          clock.Clock
	tagCtx         context.Context

	mu    sync.Mutex
	stats RelayStats
}

// NewRelay returns a relay in front of sink.
func NewRelay(sink Sink, config RelayConfig) *Relay {
	logger := config.Logger
	if logger == nil {
		logger = logging.Global()
	}
	name := config.Name
	if name == "" {
		name = uuid.NewString()
	}
	if config.StallThreshold <= 0 {
		config.StallThreshold = DefaultStallThreshold
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	tagCtx, err := tag.New(context.Background(), tag.Upsert(keyStream, name))
	if err != nil {
		tagCtx = context.Background()
	}
	return &Relay{
		name:           name,
		sink:           sink,
		stallThreshold: config.StallThreshold,
		logger:         logger.Sublogger("relay"),
		clock:          config.Clock,
		tagCtx:         tagCtx,
	}
}

// Name returns the name of the relay.
func (r *Relay) Name() string {
	return r.name
}

// Sink returns the sink frames are relayed to.
func (r *Relay) Sink() Sink {
	return r.sink
}

// Relay pushes frame into the sink; releaseFn is called once the sink is done with it. It blocks
// while the sink is full. A push that blocks longer than the stall threshold is logged.
func (r *Relay) Relay(ctx context.Context, frame *rimage.ColorFrame, releaseFn func()) error {
	start := r.clock.Now()
	err := r.sink.Push(ctx, FramePair{Media: frame, Release: releaseFn})
	waited := r.clock.Since(start)

	r.mu.Lock()
	if err != nil {
		r.stats.Errors++
	} else {
		r.stats.Frames++
	}
	stalled := waited >= r.stallThreshold
	if stalled {
		r.stats.Stalls++
		r.stats.TotalStall += waited
		if waited > r.stats.LongestStall {
			r.stats.LongestStall = waited
		}
	}
	r.mu.Unlock()

	if stalled {
		r.logger.Warnw("sink stalled the relay", "waited", waited)
	}
	measurements := []stats.Measurement{stallTime.M(float64(waited) / float64(time.Millisecond))}
	if err != nil {
		measurements = append(measurements, pushErrors.M(1))
	} else {
		measurements = append(measurements, relayedFrames.M(1))
	}
	stats.Record(r.tagCtx, measurements...)
	return err
}

// Stats returns the counters accumulated so far.
func (r *Relay) Stats() RelayStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Close closes the sink.
func (r *Relay) Close(ctx context.Context) error {
	st := r.Stats()
	r.logger.Infow("relay closing", "frames", st.Frames, "stalls", st.Stalls, "longest_stall", st.LongestStall)
	return r.sink.Close(ctx)
}
