package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tasktrack-io/tasktrack/internal/tracker"
)

// DefaultJournalTopic is where journal entries are published unless
// configured otherwise.
const DefaultJournalTopic = "task.journal"

// JournalSink publishes journal entries to a Kafka topic, keyed by task
// id so one task's history lands on one partition in order.
type JournalSink struct {
	producer Producer
	topic    string
}

// NewJournalSink wraps a producer as a journal sink.
func NewJournalSink(producer Producer, topic string) *JournalSink {
	if topic == "" {
		topic = DefaultJournalTopic
	}
	return &JournalSink{producer: producer, topic: topic}
}

func (s *JournalSink) Name() string { return "kafka" }

func (s *JournalSink) Append(ctx context.Context, entry tracker.JournalEntry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry %d: %w", entry.Seq, err)
	}
	return s.producer.Publish(ctx, s.topic, entry.TaskID, value)
}

func (s *JournalSink) Close() error { return s.producer.Close() }
