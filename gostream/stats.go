package gostream

import (
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	relayedFrames = stats.Int64("depthrelay/frames_relayed", "frames handed to the sink", stats.UnitDimensionless)
	stallTime     = stats.Float64("depthrelay/relay_stall", "time a push blocked on a full sink queue", stats.UnitMilliseconds)
	pushErrors    = stats.Int64("depthrelay/push_errors", "frames the sink refused", stats.UnitDimensionless)

	keyStream = tag.MustNewKey("stream")

	// Views are the opencensus views over relay measurements. Register them with RegisterViews.
	Views = []*view.View{
		{
			Name:        "depthrelay/frames_relayed",
			Description: "frames handed to the sink",
			Measure:     relayedFrames,
			TagKeys:     []tag.Key{keyStream},
			Aggregation: view.Count(),
		},
		{
			Name:        "depthrelay/relay_stall",
			Description: "distribution of push stalls",
			Measure:     stallTime,
			TagKeys:     []tag.Key{keyStream},
			Aggregation: view.Distribution(1, 5, 10, 33, 66, 100, 250, 500, 1000, 5000),
		},
		{
			Name:        "depthrelay/push_errors",
			Description: "frames the sink refused",
			Measure:     pushErrors,
			TagKeys:     []tag.Key{keyStream},
			Aggregation: view.Count(),
		},
	}
)

// RegisterViews registers Views with opencensus.
func RegisterViews() error {
	return view.Register(Views...)
}

// UnregisterViews removes Views from opencensus.
func UnregisterViews() {
	view.Unregister(Views...)
}
