package ingest

import (
	"context"
	"log/slog"

	"github.com/tasktrack-io/tasktrack/internal/kafka"
)

// DefaultEventsTopic is the chat envelope topic consumed when none is
// configured.
const DefaultEventsTopic = "chat.events"

// KafkaSource feeds envelope messages from a Kafka topic into the
// pipeline. The pipeline absorbs envelope-level failures, so offsets
// commit even for lines that parse to nothing; only tracker shutdown
// stops consumption.
type KafkaSource struct {
	consumer kafka.Consumer
	pipeline *Pipeline
	logger   *slog.Logger
}

// NewKafkaSource wires a consumer to the pipeline.
func NewKafkaSource(consumer kafka.Consumer, pipeline *Pipeline, logger *slog.Logger) *KafkaSource {
	return &KafkaSource{consumer: consumer, pipeline: pipeline, logger: logger}
}

// Run consumes until ctx is cancelled.
func (s *KafkaSource) Run(ctx context.Context) error {
	defer s.consumer.Close()
	return s.consumer.Subscribe(ctx, func(msgCtx context.Context, msg kafka.Message) error {
		return s.pipeline.HandleLine(msgCtx, msg.Value)
	})
}
