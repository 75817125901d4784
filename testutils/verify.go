// Package testutils holds helpers shared by package tests.
package testutils

import (
	"go.uber.org/goleak"
)

// VerifyTestMain runs the package tests and fails if any goroutine outlives them. The opencensus
// view worker is started once per process and is not a leak. Extra options are passed to goleak.
func VerifyTestMain(m goleak.TestingM, opts ...goleak.Option) {
	opts = append([]goleak.Option{
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	}, opts...)
	goleak.VerifyTestMain(m, opts...)
}
