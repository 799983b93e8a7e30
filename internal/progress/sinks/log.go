package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-crawler/internal/progress"
)

// LogSink writes every event as a debug entry.
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
			zap.String("request_id", evt.RequestID),
			zap.String("stage", string(evt.Stage)),
			zap.Int("results", evt.Results),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Kind != "" {
			fields = append(fields, zap.String("kind", evt.Kind))
		}
		if evt.Site != "" {
			fields = append(fields, zap.String("site", evt.Site), zap.String("keyword", evt.Keyword))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress", fields...)
	}
	return nil
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}
