package tracker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tasktrack-io/tasktrack/internal/domain"
	"github.com/tasktrack-io/tasktrack/pkg/telemetry"
)

// Action is a user-issued control action.
type Action string

const (
	ActionStart  Action = "start"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionCancel Action = "cancel"
	ActionRetry  Action = "retry"
)

func (a Action) trigger() (domain.Trigger, bool) {
	switch a {
	case ActionStart:
		return domain.TriggerStart, true
	case ActionPause:
		return domain.TriggerPause, true
	case ActionResume:
		return domain.TriggerResume, true
	case ActionCancel:
		return domain.TriggerCancel, true
	case ActionRetry:
		return domain.TriggerRetry, true
	}
	return "", false
}

// Dispatch validates and applies one control action. On success the
// updated task is returned; on TaskNotFound or InvalidTransition the
// store is untouched and the error is returned synchronously.
func (t *Tracker) Dispatch(ctx context.Context, action Action, taskID, reason string) (*domain.Task, error) {
	trigger, ok := action.trigger()
	if !ok {
		return nil, fmt.Errorf("unknown action %q", action)
	}

	var (
		updated *domain.Task
		retErr  error
	)
	err := t.do(ctx, func() {
		task, found := t.tasks[taskID]
		if !found {
			retErr = &domain.TaskNotFoundError{TaskID: taskID}
			return
		}
		if retErr = t.applyTransition(task, trigger, reason, nil); retErr != nil {
			return
		}
		updated = task.Clone()
	})
	if err != nil {
		return nil, err
	}
	if retErr != nil {
		telemetry.DispatchActions.WithLabelValues(string(action), "error").Inc()
		return nil, retErr
	}
	telemetry.DispatchActions.WithLabelValues(string(action), "ok").Inc()

	// Cancelling is local bookkeeping only; ask upstream to stop via
	// the hook, off the mutation path.
	if action == ActionCancel && t.abort != nil {
		go t.abort(context.WithoutCancel(ctx), taskID, reason)
	}

	t.logger.Info("action dispatched",
		slog.String("task_id", taskID),
		slog.String("action", string(action)),
		slog.String("status", string(updated.Status)),
	)
	return updated, nil
}

// BatchOutcome classifies the per-task result of a batch dispatch.
type BatchOutcome string

const (
	OutcomeSuccess           BatchOutcome = "success"
	OutcomeAlreadyTerminal   BatchOutcome = "already-terminal"
	OutcomeNotFound          BatchOutcome = "not-found"
	OutcomeInvalidTransition BatchOutcome = "invalid-transition"
)

// BatchResult is the outcome of one task within a batch.
type BatchResult struct {
	TaskID  string       `json:"task_id"`
	Outcome BatchOutcome `json:"outcome"`
	Error   string       `json:"error,omitempty"`
}

// DispatchBatch applies one action to every task id. Failures are
// per-task and never abort the batch. Cancel targeting a task that is
// already terminal is a no-op success, reported as already-terminal.
// The whole batch is applied atomically with respect to other writers.
func (t *Tracker) DispatchBatch(ctx context.Context, action Action, taskIDs []string) ([]BatchResult, error) {
	trigger, ok := action.trigger()
	if !ok {
		return nil, fmt.Errorf("unknown action %q", action)
	}

	results := make([]BatchResult, 0, len(taskIDs))
	var cancelled []string
	err := t.do(ctx, func() {
		for _, id := range taskIDs {
			task, found := t.tasks[id]
			if !found {
				results = append(results, BatchResult{TaskID: id, Outcome: OutcomeNotFound})
				continue
			}
			if action == ActionCancel && task.Status.IsTerminal() {
				results = append(results, BatchResult{TaskID: id, Outcome: OutcomeAlreadyTerminal})
				continue
			}
			if err := t.applyTransition(task, trigger, "", nil); err != nil {
				results = append(results, BatchResult{TaskID: id, Outcome: OutcomeInvalidTransition, Error: err.Error()})
				continue
			}
			results = append(results, BatchResult{TaskID: id, Outcome: OutcomeSuccess})
			if action == ActionCancel {
				cancelled = append(cancelled, id)
			}
		}
	})
	if err != nil {
		return nil, err
	}

	if t.abort != nil {
		for _, id := range cancelled {
			go t.abort(context.WithoutCancel(ctx), id, "")
		}
	}
	for _, r := range results {
		telemetry.DispatchActions.WithLabelValues(string(action), string(r.Outcome)).Inc()
	}
	return results, nil
}
