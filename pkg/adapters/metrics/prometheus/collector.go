package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements ports.MetricsCollector using Prometheus
type Collector struct {
	eventsEmitted     *prometheus.CounterVec
	subscriberPanics  *prometheus.CounterVec
	generations       *prometheus.CounterVec
	generationsDone   *prometheus.CounterVec
	generationTime    *prometheus.HistogramVec
	actionsDone       *prometheus.CounterVec
	actionTime        *prometheus.HistogramVec
	waitTimeouts      *prometheus.CounterVec
	activeGenerations prometheus.Gauge
	llmCalls          *prometheus.CounterVec
	llmLatency        *prometheus.HistogramVec
}

// NewCollector creates a collector registered with the default registerer
func NewCollector() *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer)
}

// NewCollectorWith creates a collector registered with reg
func NewCollectorWith(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		eventsEmitted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reactor_events_emitted_total",
				Help: "Total number of change events emitted",
			},
			[]string{"change_type"},
		),
		subscriberPanics: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reactor_subscriber_panics_total",
				Help: "Total number of change event handlers that panicked",
			},
			[]string{"change_type"},
		),
		generations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reactor_generations_started_total",
				Help: "Total number of generations started",
			},
			[]string{"change_type"},
		),
		generationsDone: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reactor_generations_finished_total",
				Help: "Total number of generations finished",
			},
			[]string{"change_type", "status"},
		),
		generationTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reactor_generation_duration_seconds",
				Help:    "Generation duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"change_type"},
		),
		actionsDone: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reactor_actions_finished_total",
				Help: "Total number of actions finished",
			},
			[]string{"change_type", "action", "status"},
		),
		actionTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reactor_action_duration_seconds",
				Help:    "Action duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"change_type", "action"},
		),
		waitTimeouts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reactor_wait_timeouts_total",
				Help: "Total number of waits that timed out",
			},
			[]string{"change_type"},
		),
		activeGenerations: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "reactor_active_generations",
				Help: "Number of generations currently running",
			},
		),
		llmCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reactor_llm_calls_total",
				Help: "Total number of LLM API calls",
			},
			[]string{"model", "status"},
		),
		llmLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reactor_llm_latency_seconds",
				Help:    "LLM API call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"model"},
		),
	}
}

// RecordEventEmitted counts an emitted change event
func (c *Collector) RecordEventEmitted(changeType string) {
	c.eventsEmitted.WithLabelValues(changeType).Inc()
}

// RecordSubscriberPanic counts a panicking handler
func (c *Collector) RecordSubscriberPanic(changeType string) {
	c.subscriberPanics.WithLabelValues(changeType).Inc()
}

func (c *Collector) RecordGenerationStarted(changeType string) {
	c.generations.WithLabelValues(changeType).Inc()
}

func (c *Collector) RecordGenerationFinished(changeType, status string, duration time.Duration) {
	c.generationsDone.WithLabelValues(changeType, status).Inc()
	c.generationTime.WithLabelValues(changeType).Observe(duration.Seconds())
}

func (c *Collector) RecordActionFinished(changeType, action, status string, duration time.Duration) {
	c.actionsDone.WithLabelValues(changeType, action, status).Inc()
	c.actionTime.WithLabelValues(changeType, action).Observe(duration.Seconds())
}

// RecordWaitTimeout counts a wait that gave up
func (c *Collector) RecordWaitTimeout(changeType string) {
	c.waitTimeouts.WithLabelValues(changeType).Inc()
}

// SetActiveGenerations sets the number of running generations
func (c *Collector) SetActiveGenerations(n int) {
	c.activeGenerations.Set(float64(n))
}

// ObserveLLMLatency records the latency and outcome of an LLM API call
func (c *Collector) ObserveLLMLatency(model string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.llmCalls.WithLabelValues(model, status).Inc()
	c.llmLatency.WithLabelValues(model).Observe(duration.Seconds())
}
