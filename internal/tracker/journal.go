package tracker

import (
	"context"
	"time"

	"github.com/tasktrack-io/tasktrack/internal/domain"
)

// JournalEntry is one record in the append-only action log. Every
// mutation (creation, transition, prune) produces exactly one entry.
type JournalEntry struct {
	Seq     uint64         `json:"seq"`
	TaskID  string         `json:"task_id"`
	From    domain.Status  `json:"from,omitempty"`
	To      domain.Status  `json:"to"`
	Trigger domain.Trigger `json:"trigger"`
	Reason  string         `json:"reason,omitempty"`
	At      time.Time      `json:"at"`

	// Task is a snapshot of the task after the mutation, so sinks can
	// mirror full state without reading the store.
	Task *domain.Task `json:"task"`
}

// JournalSink receives journal entries asynchronously. Sinks are
// pass-through: they are fed by the log and are never a source of
// truth. Append errors are logged and counted, never propagated back
// into the mutation path.
type JournalSink interface {
	Name() string
	Append(ctx context.Context, entry JournalEntry) error
}

// Journal returns a copy of the append-only action log. Pruning tasks
// from the live store never shrinks it.
func (t *Tracker) Journal(ctx context.Context) ([]JournalEntry, error) {
	var entries []JournalEntry
	err := t.do(ctx, func() {
		entries = append(entries, t.entries...)
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
