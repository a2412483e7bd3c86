package tracker

import (
	"context"

	"github.com/tasktrack-io/tasktrack/internal/domain"
	"github.com/tasktrack-io/tasktrack/pkg/telemetry"
)

// ChangeKind describes what happened to the task carried by a Change.
type ChangeKind string

const (
	// ChangeSnapshot is the first message on every subscription: the
	// full live set at subscribe time, carried in Tasks.
	ChangeSnapshot ChangeKind = "snapshot"
	ChangeCreated  ChangeKind = "created"
	ChangeUpdated  ChangeKind = "updated"
	ChangeRemoved  ChangeKind = "removed"
)

// Change is one store notification. Task is set for created, updated
// and removed; Tasks only for the initial snapshot. Both are clones and
// safe to retain.
type Change struct {
	Kind  ChangeKind     `json:"kind"`
	Task  *domain.Task   `json:"task,omitempty"`
	Tasks []*domain.Task `json:"tasks,omitempty"`
}

type subscriber struct {
	id uint64
	ch chan Change
}

// Subscription is a live feed of store changes. The channel is closed
// when the subscription is cancelled or the tracker shuts down.
type Subscription struct {
	t  *Tracker
	id uint64
	ch chan Change
}

// Changes returns the receive side of the feed.
func (s *Subscription) Changes() <-chan Change { return s.ch }

// Unsubscribe detaches the feed and closes its channel. Safe to call
// after tracker shutdown.
func (s *Subscription) Unsubscribe() {
	_ = s.t.do(context.Background(), func() {
		if sub, ok := s.t.subs[s.id]; ok {
			delete(s.t.subs, s.id)
			close(sub.ch)
		}
	})
}

// Subscribe registers a change feed. The first message is a snapshot of
// every live task, then one Change per mutation in journal order. Slow
// consumers lose changes rather than stalling the store: once the
// buffer is full, further changes are dropped for that subscriber.
func (t *Tracker) Subscribe(ctx context.Context) (*Subscription, error) {
	var sub *Subscription
	err := t.do(ctx, func() {
		t.nextSub++
		s := &subscriber{id: t.nextSub, ch: make(chan Change, subscriberBuffer)}
		t.subs[s.id] = s

		snapshot := make([]*domain.Task, 0, len(t.order))
		for _, id := range t.order {
			snapshot = append(snapshot, t.tasks[id].Clone())
		}
		s.ch <- Change{Kind: ChangeSnapshot, Tasks: snapshot}

		sub = &Subscription{t: t, id: s.id, ch: s.ch}
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// publish fans a change out to every subscriber. Runs on the actor
// goroutine only.
func (t *Tracker) publish(change Change) {
	for _, sub := range t.subs {
		select {
		case sub.ch <- change:
		default:
			telemetry.TrackerSubscriberDrops.Inc()
		}
	}
}
