package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-importer/internal/progress"
)

// LogSink emits structured logs for each tick. Row error lines are logged at
// Warn so they surface without a durable store.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each tick in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Tick) error {
	for _, tick := range batch {
		fields := []zap.Field{
			zap.String("job_id", tick.JobID),
			zap.String("stage", string(tick.Stage)),
			zap.Int64("processed", tick.Processed),
			zap.Int64("total", tick.Total),
			zap.Int64("row_errors", tick.RowErrors),
		}
		for _, line := range tick.Lines {
			s.logger.Warn(line, zap.String("job_id", tick.JobID))
		}
		switch tick.Stage {
		case progress.StageJobStart:
			s.logger.Info("import started", fields...)
		case progress.StageJobDone:
			s.logger.Info("import completed", append(fields, zap.Duration("dur", tick.Dur))...)
		case progress.StageJobError:
			s.logger.Error("import failed", append(fields,
				zap.Duration("dur", tick.Dur),
				zap.String("message", tick.Message))...)
		default:
			s.logger.Debug("import progress", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
