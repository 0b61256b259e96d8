package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shopharvest/crawler/internal/engine"
)

// PrometheusSink exports attempt and run metrics. It owns all collectors for
// the extraction engine.
type PrometheusSink struct {
	attemptsTotal   *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	runsCompleted   *prometheus.CounterVec
	stageTasks      *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "extractor_attempts_total",
			Help: "Task attempts partitioned by stage and outcome.",
		}, []string{"stage", "outcome"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "extractor_attempt_duration_seconds",
			Help:    "Attempt latency partitioned by stage and outcome.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"stage", "outcome"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "extractor_runs_completed_total",
			Help: "Pipeline runs partitioned by final state.",
		}, []string{"final_state"}),
		stageTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "extractor_stage_tasks_total",
			Help: "Terminal task counts per stage and result, added at run end.",
		}, []string{"stage", "result"}),
	}
	for _, collector := range []prometheus.Collector{
		s.attemptsTotal,
		s.attemptDuration,
		s.runsCompleted,
		s.stageTasks,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register extractor collector: %w", err)
		}
	}
	return s, nil
}

// Attempt updates the per-attempt collectors. Safe for concurrent use.
func (s *PrometheusSink) Attempt(_ context.Context, evt engine.AttemptEvent) error {
	stage := string(evt.Stage)
	outcome := string(evt.Outcome)
	s.attemptsTotal.WithLabelValues(stage, outcome).Inc()
	if evt.Duration > 0 {
		s.attemptDuration.WithLabelValues(stage, outcome).Observe(evt.Duration.Seconds())
	}
	return nil
}

// Report records the run's final state and terminal stage counts.
func (s *PrometheusSink) Report(_ context.Context, rep engine.RunReport) error {
	s.runsCompleted.WithLabelValues(string(rep.FinalState)).Inc()
	for stage, sr := range rep.Stages {
		s.stageTasks.WithLabelValues(string(stage), "succeeded").Add(float64(sr.Succeeded))
		s.stageTasks.WithLabelValues(string(stage), "failed_permanent").Add(float64(sr.FailedPermanent))
	}
	return nil
}

// Close implements the sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
