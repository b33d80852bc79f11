package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/progress"
)

// LogSink writes each event as a debug log line.
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

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("pass", evt.Pass),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Stage == progress.StageItemDone {
			fields = append(fields,
				zap.String("category_id", evt.CategoryID),
				zap.Int("sequence", evt.Sequence),
				zap.String("outcome", evt.Outcome),
				zap.Int64("bytes", evt.Bytes),
			)
		} else {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
