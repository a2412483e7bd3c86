// Package ingest connects stream sources to the tracker: raw envelope
// lines come in from SSE or Kafka, parsed task events go into the
// store. Every error on this path is non-fatal; a bad line is counted
// and logged, never allowed to stall the stream.
package ingest

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tasktrack-io/tasktrack/internal/domain"
	"github.com/tasktrack-io/tasktrack/internal/stream"
	"github.com/tasktrack-io/tasktrack/internal/tracker"
	"github.com/tasktrack-io/tasktrack/pkg/telemetry"
)

// Pipeline decodes envelopes, extracts task events and applies them to
// the tracker.
type Pipeline struct {
	tracker *tracker.Tracker
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewPipeline wires a pipeline to the tracker.
func NewPipeline(tr *tracker.Tracker, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		tracker: tr,
		logger:  logger,
		tracer:  otel.Tracer("tasktrack/ingest"),
	}
}

// HandleLine processes one raw envelope line. The returned error is
// ErrNotRunning or a context error only; envelope-level failures are
// absorbed here.
func (p *Pipeline) HandleLine(ctx context.Context, line []byte) error {
	ctx, span := p.tracer.Start(ctx, "ingest.line")
	defer span.End()

	env, err := stream.DecodeEnvelope(line)
	if err != nil {
		telemetry.IngestParseFailures.Inc()
		p.logger.Debug("undecodable envelope", slog.String("error", err.Error()))
		return nil
	}
	telemetry.IngestEnvelopes.WithLabelValues(string(env.Kind)).Inc()
	if env.Kind == stream.KindUnrecognized {
		return nil
	}

	events := stream.Parse(env)
	span.SetAttributes(attribute.Int("events", len(events)))

	for _, ev := range events {
		telemetry.IngestEvents.WithLabelValues(string(ev.Kind)).Inc()
		if err := p.tracker.Ingest(ctx, ev); err != nil {
			var unknown *domain.UnknownTaskReferenceError
			var invalid *domain.InvalidTransitionError
			switch {
			case errors.As(err, &unknown):
				p.logger.Debug("progress for unknown task dropped",
					slog.String("tool", unknown.ToolName))
			case errors.As(err, &invalid):
				p.logger.Warn("stream event rejected by state machine",
					slog.String("task_id", invalid.TaskID),
					slog.String("from", string(invalid.From)),
					slog.String("trigger", string(invalid.Trigger)),
				)
			default:
				return err
			}
		}
	}
	return nil
}
