package main

import (
	"go.opencensus.io/stats/view"
	"go.opencensus.io/trace"

	"go.viam.com/depthrelay/logging"
)

// logExporter writes opencensus view data and spans to the log at debug level.
type logExporter struct {
	logger logging.Logger
}

func newLogExporter(logger logging.Logger) *logExporter {
	return &logExporter{logger: logger.Sublogger("stats")}
}

func (e *logExporter) ExportView(vd *view.Data) {
	for _, row := range vd.Rows {
		tags := make([]interface{}, 0, 2*len(row.Tags))
		for _, t := range row.Tags {
			tags = append(tags, t.Key.Name(), t.Value)
		}
		switch data := row.Data.(type) {
		case *view.CountData:
			e.logger.Debugw(vd.View.Name, append(tags, "count", data.Value)...)
		case *view.DistributionData:
			e.logger.Debugw(vd.View.Name, append(tags, "count", data.Count, "mean", data.Mean, "max", data.Max)...)
		default:
			e.logger.Debugw(vd.View.Name, append(tags, "data", row.Data)...)
		}
	}
}

func (e *logExporter) ExportSpan(sd *trace.SpanData) {
	e.logger.Debugw("span", "name", sd.Name, "duration", sd.EndTime.Sub(sd.StartTime), "status", sd.Status.Message)
}
