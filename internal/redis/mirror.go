package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tasktrack-io/tasktrack/internal/domain"
	"github.com/tasktrack-io/tasktrack/internal/tracker"
)

const (
	mirrorTTL     = 24 * time.Hour
	journalStream = "tasktrack:journal"
	// journalMaxLen bounds the stream with approximate trimming.
	journalMaxLen = 100_000
)

func stateKey(taskID string) string { return "task:state:" + taskID }
func metaKey(taskID string) string  { return "task:meta:" + taskID }

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

// Mirror is the Redis journal sink. Each entry updates the per-task
// state and meta keys and appends to the journal stream, so other
// processes can read current task state without asking the tracker.
// Redis is a read replica here, never a source of truth.
type Mirror struct {
	client *redis.Client
}

// NewMirror creates a Redis-backed journal sink.
func NewMirror(client *redis.Client) *Mirror {
	return &Mirror{client: client}
}

func (m *Mirror) Name() string { return "redis" }

// Append mirrors one journal entry. The status, snapshot and stream
// append go in one pipeline round trip.
func (m *Mirror) Append(ctx context.Context, entry tracker.JournalEntry) error {
	meta, err := json.Marshal(entry.Task)
	if err != nil {
		return fmt.Errorf("marshal task snapshot: %w", err)
	}

	pipe := m.client.Pipeline()
	if entry.Trigger == domain.TriggerPruned {
		pipe.Del(ctx, stateKey(entry.TaskID), metaKey(entry.TaskID))
	} else {
		pipe.Set(ctx, stateKey(entry.TaskID), string(entry.To), mirrorTTL)
		pipe.Set(ctx, metaKey(entry.TaskID), meta, mirrorTTL)
	}
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: journalStream,
		MaxLen: journalMaxLen,
		Approx: true,
		Values: map[string]any{
			"seq":     entry.Seq,
			"task_id": entry.TaskID,
			"from":    string(entry.From),
			"to":      string(entry.To),
			"trigger": string(entry.Trigger),
			"reason":  entry.Reason,
			"at":      entry.At.Format(time.RFC3339Nano),
			"task":    meta,
		},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis mirror entry %d for %s: %w", entry.Seq, entry.TaskID, err)
	}
	return nil
}

// GetStatus reads the mirrored status for a task.
func (m *Mirror) GetStatus(ctx context.Context, taskID string) (domain.Status, error) {
	val, err := m.client.Get(ctx, stateKey(taskID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", &domain.TaskNotFoundError{TaskID: taskID}
		}
		return "", fmt.Errorf("redis get status for %s: %w", taskID, err)
	}
	return domain.Status(val), nil
}

// GetTask reads the mirrored task snapshot.
func (m *Mirror) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	data, err := m.client.Get(ctx, metaKey(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &domain.TaskNotFoundError{TaskID: taskID}
		}
		return nil, fmt.Errorf("redis get meta for %s: %w", taskID, err)
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("unmarshal task snapshot: %w", err)
	}
	return &task, nil
}
