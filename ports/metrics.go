package ports

import "time"

// MetricsRecorder receives harness and evaluator events.
type MetricsRecorder interface {
	ObserveTrial(method string, elapsed time.Duration, ok bool)
	ObserveSelection(method string, candidates int)
	MethodFailed(method string)
	MethodCompleted(method string)
}

// NoopMetrics discards every event.
type NoopMetrics struct{}

func (NoopMetrics) ObserveTrial(string, time.Duration, bool) {}
func (NoopMetrics) ObserveSelection(string, int)             {}
func (NoopMetrics) MethodFailed(string)                      {}
func (NoopMetrics) MethodCompleted(string)                   {}
