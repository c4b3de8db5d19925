package ports

import "time"

// MetricsCollector receives the core's counters.
type MetricsCollector interface {
	RecordEventEmitted(changeType string)
	RecordSubscriberPanic(changeType string)
	RecordGenerationStarted(changeType string)
	RecordGenerationFinished(changeType, status string, duration time.Duration)
	RecordActionFinished(changeType, action, status string, duration time.Duration)
	RecordWaitTimeout(changeType string)
	SetActiveGenerations(n int)
	ObserveLLMLatency(model string, duration time.Duration, err error)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordEventEmitted(string)                                  {}
func (NopMetrics) RecordSubscriberPanic(string)                               {}
func (NopMetrics) RecordGenerationStarted(string)                             {}
func (NopMetrics) RecordGenerationFinished(string, string, time.Duration)     {}
func (NopMetrics) RecordActionFinished(string, string, string, time.Duration) {}
func (NopMetrics) RecordWaitTimeout(string)                                   {}
func (NopMetrics) SetActiveGenerations(int)                                   {}
func (NopMetrics) ObserveLLMLatency(string, time.Duration, error)             {}
