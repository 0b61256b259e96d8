package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/shopharvest/crawler/internal/engine"
)

// LogSink emits structured logs for attempt outcomes and run reports. Useful
// during development or audits where no durable sink is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Attempt logs one attempt event with structured fields.
func (s *LogSink) Attempt(_ context.Context, evt engine.AttemptEvent) error {
	s.logger.Info("attempt",
		zap.String("task_id", evt.TaskID),
		zap.String("stage", string(evt.Stage)),
		zap.String("outcome", string(evt.Outcome)),
		zap.Duration("duration", evt.Duration),
		zap.String("identity", evt.Identity),
		zap.String("error", evt.Error),
	)
	return nil
}

// Report logs the final run report.
func (s *LogSink) Report(_ context.Context, rep engine.RunReport) error {
	fields := []zap.Field{
		zap.String("final_state", string(rep.FinalState)),
		zap.Time("started_at", rep.StartedAt),
		zap.Time("finished_at", rep.FinishedAt),
	}
	if rep.Reason != "" {
		fields = append(fields, zap.String("reason", rep.Reason))
	}
	for stage, sr := range rep.Stages {
		fields = append(fields,
			zap.Int(string(stage)+"_attempted", sr.Attempted),
			zap.Int(string(stage)+"_succeeded", sr.Succeeded),
			zap.Int(string(stage)+"_failed_permanent", sr.FailedPermanent),
		)
	}
	s.logger.Info("run report", fields...)
	return nil
}

// Close implements the sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
