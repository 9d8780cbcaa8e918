// Package metrics provides metrics collection for the assistant
// pipeline and its HTTP surface.
package metrics

import "time"

// Collector is the recording surface the pipeline components depend
// on. Implementations must be safe for concurrent use; every pipeline
// stage shares one collector.
type Collector interface {
	// IncrementCounter adds one to a counter. Labels are key/value
	// pairs: "status", "ok".
	IncrementCounter(name string, labels ...string)

	// RecordHistogram records one observation.
	RecordHistogram(name string, value float64, labels ...string)

	// RecordGauge sets a gauge to value.
	RecordGauge(name string, value float64, labels ...string)

	// StartTimer begins a duration measurement; callers pass the
	// stopped value to RecordHistogram.
	StartTimer(name string) Timer
}

// Timer measures one elapsed duration.
type Timer interface {
	// Stop ends the measurement and returns elapsed seconds.
	Stop() float64
}

// NoOpCollector discards every metric while still measuring time, so
// components wired without a metrics backend keep their latency
// figures in log fields.
type NoOpCollector struct{}

// NewNoOpCollector creates a collector that records nothing.
func NewNoOpCollector() Collector {
	return NoOpCollector{}
}

func (NoOpCollector) IncrementCounter(name string, labels ...string) {}

func (NoOpCollector) RecordHistogram(name string, value float64, labels ...string) {}

func (NoOpCollector) RecordGauge(name string, value float64, labels ...string) {}

// StartTimer returns a real stopwatch; only the recording side is a
// no-op.
func (NoOpCollector) StartTimer(name string) Timer {
	return stopwatch{start: time.Now()}
}

type stopwatch struct {
	start time.Time
}

func (s stopwatch) Stop() float64 {
	return time.Since(s.start).Seconds()
}
