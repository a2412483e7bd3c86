package tracker

import (
	"context"
	"log/slog"
	"sort"

	"github.com/tasktrack-io/tasktrack/internal/domain"
)

// Filter selects which tasks a query returns.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterActive    Filter = "active"
	FilterCompleted Filter = "completed"
	FilterFailed    Filter = "failed"
)

// SortBy selects the primary sort key.
type SortBy string

const (
	SortCreated  SortBy = "created"
	SortUpdated  SortBy = "updated"
	SortPriority SortBy = "priority"
	SortStatus   SortBy = "status"
)

// Order selects the sort direction.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

func (f Filter) match(task *domain.Task) bool {
	switch f {
	case FilterActive:
		return !task.Status.IsTerminal()
	case FilterCompleted:
		return task.Status == domain.StatusCompleted
	case FilterFailed:
		return task.Status == domain.StatusFailed
	default:
		return true
	}
}

// cmpTasks compares by the primary key only: -1, 0 or 1. Priority uses
// the fixed weights (urgent > high > normal > low); status uses the
// fixed display order (running first).
func cmpTasks(a, b *domain.Task, sortBy SortBy) int {
	switch sortBy {
	case SortUpdated:
		return a.UpdatedAt.Compare(b.UpdatedAt)
	case SortPriority:
		return a.Priority.Weight() - b.Priority.Weight()
	case SortStatus:
		// Lower display order sorts first: running ahead of terminal.
		return a.Status.DisplayOrder() - b.Status.DisplayOrder()
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func sortTasks(list []*domain.Task, sortBy SortBy, order Order) {
	sort.SliceStable(list, func(i, j int) bool {
		c := cmpTasks(list[i], list[j], sortBy)
		if order == OrderDesc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		// Fixed tie-break: creation time, then id, always ascending.
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}

// Query returns a filtered, sorted snapshot of the live store. The
// result is recomputed from canonical state inside the mutation loop,
// so it is never stale and never shares memory with the store.
func (t *Tracker) Query(ctx context.Context, filter Filter, sortBy SortBy, order Order) ([]*domain.Task, error) {
	var list []*domain.Task
	err := t.do(ctx, func() {
		for _, id := range t.order {
			if task := t.tasks[id]; filter.match(task) {
				list = append(list, task.Clone())
			}
		}
	})
	if err != nil {
		return nil, err
	}
	sortTasks(list, sortBy, order)
	return list, nil
}

// Get returns one task by id.
func (t *Tracker) Get(ctx context.Context, taskID string) (*domain.Task, error) {
	var (
		task   *domain.Task
		retErr error
	)
	err := t.do(ctx, func() {
		if found, ok := t.tasks[taskID]; ok {
			task = found.Clone()
		} else {
			retErr = &domain.TaskNotFoundError{TaskID: taskID}
		}
	})
	if err != nil {
		return nil, err
	}
	return task, retErr
}

// Counts returns the number of live tasks per status.
func (t *Tracker) Counts(ctx context.Context) (map[domain.Status]int, error) {
	counts := make(map[domain.Status]int)
	err := t.do(ctx, func() {
		for status, n := range t.counts {
			if n > 0 {
				counts[status] = n
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// Active returns all non-terminal tasks in creation order.
func (t *Tracker) Active(ctx context.Context) ([]*domain.Task, error) {
	return t.Query(ctx, FilterActive, SortCreated, OrderAsc)
}

// Completed returns all completed tasks in creation order.
func (t *Tracker) Completed(ctx context.Context) ([]*domain.Task, error) {
	return t.Query(ctx, FilterCompleted, SortCreated, OrderAsc)
}

// Recent returns the currently-relevant view: tasks in status display
// order (running first), most recently updated first within a status,
// capped at the configured presentable limit.
func (t *Tracker) Recent(ctx context.Context) ([]*domain.Task, error) {
	var list []*domain.Task
	err := t.do(ctx, func() {
		for _, id := range t.order {
			list = append(list, t.tasks[id].Clone())
		}
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		if a, b := list[i].Status.DisplayOrder(), list[j].Status.DisplayOrder(); a != b {
			return a < b
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	if len(list) > t.recentLimit {
		list = list[:t.recentLimit]
	}
	return list, nil
}

// Prune removes terminal tasks that fell out of the retention window:
// everything except the most recent retainRecent terminal tasks and any
// task completed within retainWindow. The append-only journal keeps
// their full history. Returns how many tasks were removed.
func (t *Tracker) Prune(ctx context.Context) (int, error) {
	pruned := 0
	err := t.do(ctx, func() {
		now := t.now()

		var terminal []*domain.Task
		for _, id := range t.order {
			if task := t.tasks[id]; task.Status.IsTerminal() {
				terminal = append(terminal, task)
			}
		}
		// Most recently completed first; the head of this list is
		// always retained.
		sort.SliceStable(terminal, func(i, j int) bool {
			return terminal[i].CompletedAt.After(*terminal[j].CompletedAt)
		})

		for i, task := range terminal {
			if i < t.retainRecent {
				continue
			}
			if now.Sub(*task.CompletedAt) <= t.retainWindow {
				continue
			}
			t.remove(task, domain.TriggerPruned, "retention window elapsed")
			pruned++
		}
	})
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		t.logger.Info("pruned terminal tasks", slog.Int("count", pruned))
	}
	return pruned, nil
}

// ClearTerminal removes every terminal task from the live store
// immediately, regardless of retention. The journal is unaffected.
func (t *Tracker) ClearTerminal(ctx context.Context) (int, error) {
	cleared := 0
	err := t.do(ctx, func() {
		for _, id := range append([]string(nil), t.order...) {
			task := t.tasks[id]
			if task.Status.IsTerminal() {
				t.remove(task, domain.TriggerPruned, "cleared")
				cleared++
			}
		}
	})
	if err != nil {
		return 0, err
	}
	return cleared, nil
}

// InterruptStalled marks running tasks with no stream activity for the
// quiet period as interrupted. Scheduled by the caller; the mutation
// itself goes through the same serialized path as every other writer.
func (t *Tracker) InterruptStalled(ctx context.Context) (int, error) {
	interrupted := 0
	err := t.do(ctx, func() {
		now := t.now()
		for _, id := range t.order {
			task := t.tasks[id]
			if task.Status != domain.StatusRunning {
				continue
			}
			last, ok := t.lastEvent[id]
			if !ok {
				last = task.UpdatedAt
			}
			if now.Sub(last) < t.quietPeriod {
				continue
			}
			if err := t.applyTransition(task, domain.TriggerStreamLost, "no stream activity", nil); err == nil {
				interrupted++
			}
		}
	})
	if err != nil {
		return 0, err
	}
	if interrupted > 0 {
		t.logger.Warn("interrupted stalled tasks", slog.Int("count", interrupted))
	}
	return interrupted, nil
}

// MarkStreamLost interrupts every running task for the session, or for
// all sessions when sessionID is empty. Called by ingestion when the
// upstream stream drops without terminal events.
func (t *Tracker) MarkStreamLost(ctx context.Context, sessionID string) (int, error) {
	interrupted := 0
	err := t.do(ctx, func() {
		for _, id := range t.order {
			task := t.tasks[id]
			if task.Status != domain.StatusRunning {
				continue
			}
			if sessionID != "" && task.SessionID != sessionID {
				continue
			}
			if err := t.applyTransition(task, domain.TriggerStreamLost, "stream terminated", nil); err == nil {
				interrupted++
			}
		}
	})
	if err != nil {
		return 0, err
	}
	return interrupted, nil
}
