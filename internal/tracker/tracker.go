// Package tracker owns the canonical task state. All mutation (stream
// events, dispatched user actions, creation, pruning) funnels through
// one actor goroutine, so concurrent writers never interleave partial
// updates and every reader sees one well-defined status per task.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tasktrack-io/tasktrack/internal/domain"
	"github.com/tasktrack-io/tasktrack/internal/stream"
	"github.com/tasktrack-io/tasktrack/pkg/telemetry"
)

// ErrNotRunning is returned when the tracker loop has stopped before a
// call could be served.
var ErrNotRunning = errors.New("tracker is not running")

// AbortFunc is the side-channel hook invoked after a task is cancelled
// so the caller can request an upstream abort. Cancellation itself is
// local bookkeeping; stopping the producing process is external.
type AbortFunc func(ctx context.Context, taskID, reason string)

const (
	defaultRetainRecent = 50
	defaultRetainWindow = 10 * time.Second
	defaultRecentLimit  = 3
	defaultQuietPeriod  = 30 * time.Second

	sinkBuffer       = 256
	subscriberBuffer = 64
)

// Tracker is the single-writer task store plus its dispatcher and
// query surface.
type Tracker struct {
	logger *slog.Logger
	now    func() time.Time

	cmds    chan func()
	stopped chan struct{}
	once    sync.Once

	tasks  map[string]*domain.Task
	order  []string // ids in creation order
	counts map[domain.Status]int

	// lastEvent tracks stream activity per task for the stall sweep.
	lastEvent map[string]time.Time

	seq     uint64
	entries []JournalEntry
	sinkCh  chan JournalEntry
	sinks   []JournalSink
	sinkWG  sync.WaitGroup

	subs    map[uint64]*subscriber
	nextSub uint64

	abort AbortFunc

	retainRecent int
	retainWindow time.Duration
	recentLimit  int
	quietPeriod  time.Duration
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithLogger(l *slog.Logger) Option  { return func(t *Tracker) { t.logger = l } }

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }
func WithAbortHook(fn AbortFunc) Option { return func(t *Tracker) { t.abort = fn } }
func WithSinks(s ...JournalSink) Option { return func(t *Tracker) { t.sinks = append(t.sinks, s...) } }
func WithRecentLimit(n int) Option      { return func(t *Tracker) { t.recentLimit = n } }
func WithQuietPeriod(d time.Duration) Option {
	return func(t *Tracker) { t.quietPeriod = d }
}
func WithRetention(keep int, window time.Duration) Option {
	return func(t *Tracker) {
		t.retainRecent = keep
		t.retainWindow = window
	}
}

// New constructs a Tracker. Call Run before using it.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		logger:       slog.Default(),
		now:          time.Now,
		cmds:         make(chan func()),
		stopped:      make(chan struct{}),
		tasks:        make(map[string]*domain.Task),
		counts:       make(map[domain.Status]int),
		lastEvent:    make(map[string]time.Time),
		sinkCh:       make(chan JournalEntry, sinkBuffer),
		subs:         make(map[uint64]*subscriber),
		retainRecent: defaultRetainRecent,
		retainWindow: defaultRetainWindow,
		recentLimit:  defaultRecentLimit,
		quietPeriod:  defaultQuietPeriod,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run processes commands until ctx is cancelled. It owns the task map
// exclusively: nothing outside this loop ever touches it.
func (t *Tracker) Run(ctx context.Context) error {
	t.sinkWG.Add(1)
	go t.runSinks()

	for {
		select {
		case <-ctx.Done():
			t.shutdown()
			return nil
		case fn := <-t.cmds:
			fn()
		}
	}
}

func (t *Tracker) shutdown() {
	t.once.Do(func() { close(t.stopped) })
	for id, sub := range t.subs {
		close(sub.ch)
		delete(t.subs, id)
	}
	close(t.sinkCh)
	t.sinkWG.Wait()
}

// do runs fn on the actor goroutine and waits for it to finish.
func (t *Tracker) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case t.cmds <- wrapped:
	case <-t.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	// Once admitted the command always runs; wait so callers can read
	// their captured results safely.
	select {
	case <-done:
		return nil
	case <-t.stopped:
		return ErrNotRunning
	}
}

// CreateRequest describes an explicitly created task (plan step or
// user-visible unit of work, as opposed to stream-detected tasks).
type CreateRequest struct {
	ID           string
	Title        string
	Description  string
	Type         domain.TaskType
	Priority     domain.Priority
	TotalSteps   int
	SessionID    string
	MessageID    string
	ParentTaskID string
	ToolName     string
}

// Create adds a new pending task. The parent, if given, must exist and
// must not produce a cycle in the task tree.
func (t *Tracker) Create(ctx context.Context, req CreateRequest) (*domain.Task, error) {
	var (
		created *domain.Task
		retErr  error
	)
	err := t.do(ctx, func() {
		created, retErr = t.applyCreate(req)
	})
	if err != nil {
		return nil, err
	}
	return created, retErr
}

func (t *Tracker) applyCreate(req CreateRequest) (*domain.Task, error) {
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	if _, exists := t.tasks[id]; exists {
		return nil, fmt.Errorf("task %s already exists", id)
	}

	if req.ParentTaskID != "" {
		parent, ok := t.tasks[req.ParentTaskID]
		if !ok {
			return nil, &domain.TaskNotFoundError{TaskID: req.ParentTaskID}
		}
		// A fresh id can only cycle if it appears in its own ancestry.
		for p := parent; p != nil; {
			if p.ID == id {
				return nil, &domain.CycleError{TaskID: id, ParentTaskID: req.ParentTaskID}
			}
			p = t.tasks[p.ParentTaskID]
		}
	}

	now := t.now()
	task := &domain.Task{
		ID:           id,
		Title:        req.Title,
		Description:  req.Description,
		Type:         req.Type,
		Status:       domain.StatusPending,
		Priority:     req.Priority,
		Progress:     domain.Progress{TotalSteps: req.TotalSteps},
		CreatedAt:    now,
		UpdatedAt:    now,
		SessionID:    req.SessionID,
		MessageID:    req.MessageID,
		ParentTaskID: req.ParentTaskID,
		ToolName:     req.ToolName,
	}
	if task.Type == "" {
		task.Type = domain.TypeCustom
	}
	if task.Title == "" {
		task.Title = string(task.Type)
	}
	if task.Priority == "" {
		task.Priority = domain.PriorityNormal
	}
	task.Progress.Normalize()

	t.insert(task)
	if req.ParentTaskID != "" {
		parent := t.tasks[req.ParentTaskID]
		parent.ChildTaskIDs = append(parent.ChildTaskIDs, id)
		parent.UpdatedAt = now
	}
	t.record(task, "", domain.TriggerCreated, "")
	return task.Clone(), nil
}

// Ingest applies one parsed stream event. Returned errors are
// non-fatal by contract: the caller logs them and the stream continues.
// A duplicate detection for a still-live tool is suppressed silently.
func (t *Tracker) Ingest(ctx context.Context, ev stream.TaskEvent) error {
	var retErr error
	err := t.do(ctx, func() {
		switch ev.Kind {
		case stream.EventDetected:
			retErr = t.applyDetection(ev)
		case stream.EventProgress:
			retErr = t.applyProgress(ev)
		}
	})
	if err != nil {
		return err
	}
	return retErr
}

func (t *Tracker) applyDetection(ev stream.TaskEvent) error {
	// Dedup: repeated envelopes describing the same call must not fork
	// a second task while the first is still live.
	if t.latestLive(ev.ToolName) != nil {
		telemetry.TrackerDroppedEvents.WithLabelValues("duplicate_detection").Inc()
		return nil
	}

	now := t.now()
	task := &domain.Task{
		ID:                uuid.New().String(),
		Title:             ev.ToolName,
		Type:              domain.TypeForTool(ev.ToolName),
		Status:            domain.StatusPending,
		Priority:          domain.PriorityNormal,
		Progress:          domain.Progress{TotalSteps: 1},
		CreatedAt:         now,
		UpdatedAt:         now,
		SessionID:         ev.SessionID,
		ToolName:          ev.ToolName,
		Args:              ev.Args,
		ArgsLowConfidence: ev.ArgsLowConfidence,
	}
	t.insert(task)
	t.lastEvent[task.ID] = now
	t.record(task, "", domain.TriggerCreated, "")
	return nil
}

func (t *Tracker) applyProgress(ev stream.TaskEvent) error {
	task := t.latestLive(ev.ToolName)
	if task == nil {
		// Progress with no live task never fabricates one.
		telemetry.TrackerDroppedEvents.WithLabelValues("unknown_task").Inc()
		return &domain.UnknownTaskReferenceError{ToolName: ev.ToolName}
	}

	var trigger domain.Trigger
	switch ev.Class {
	case stream.ClassStarting:
		trigger = domain.TriggerEventStarting
	case stream.ClassCompleted:
		trigger = domain.TriggerEventCompleted
	case stream.ClassFailed:
		trigger = domain.TriggerEventFailed
	default:
		trigger = domain.TriggerEventProgress
	}

	if err := t.applyTransition(task, trigger, ev.Description, func(task *domain.Task) {
		if ev.HasSteps {
			task.Progress.CurrentStep = ev.CurrentStep
			task.Progress.TotalSteps = ev.TotalSteps
		}
		task.Progress.CurrentStepName = ev.Description
		switch trigger {
		case domain.TriggerEventCompleted:
			task.Progress.CurrentStep = task.Progress.TotalSteps
			task.Progress.Percentage = 100
			task.Result = &domain.Result{Success: true, Data: ev.Description}
		case domain.TriggerEventFailed:
			task.Result = &domain.Result{Success: false, Error: ev.Description}
		}
		task.Progress.Normalize()
	}); err != nil {
		return err
	}

	t.lastEvent[task.ID] = t.now()
	return nil
}

// applyTransition validates (status, trigger) against the transition
// table and mutates the task. mutate, if non-nil, runs after the status
// change but before the journal entry, so the entry snapshots the final
// state. On rejection the task is untouched.
func (t *Tracker) applyTransition(task *domain.Task, trigger domain.Trigger, reason string, mutate func(*domain.Task)) error {
	to, ok := domain.Next(task.Status, trigger)
	if !ok {
		telemetry.TrackerInvalidTransitions.WithLabelValues(string(trigger)).Inc()
		return &domain.InvalidTransitionError{TaskID: task.ID, From: task.Status, Trigger: trigger}
	}

	from := task.Status
	now := t.now()
	t.counts[from]--
	t.counts[to]++
	telemetry.TrackerTasksByStatus.WithLabelValues(string(from)).Dec()
	telemetry.TrackerTasksByStatus.WithLabelValues(string(to)).Inc()

	task.Status = to
	task.UpdatedAt = now
	if task.StartedAt == nil && (to == domain.StatusStarting || to == domain.StatusRunning) {
		ts := now
		task.StartedAt = &ts
	}
	if to.IsTerminal() {
		ts := now
		task.CompletedAt = &ts
	}
	if trigger == domain.TriggerRetry {
		task.Progress = domain.Progress{TotalSteps: task.Progress.TotalSteps}
		task.Progress.Normalize()
		task.Result = nil
		task.StartedAt = nil
		task.CompletedAt = nil
	}
	if mutate != nil {
		mutate(task)
	}

	t.record(task, from, trigger, reason)
	return nil
}

// latestLive returns the most recently created non-terminal task for
// the tool name, or nil.
func (t *Tracker) latestLive(toolName string) *domain.Task {
	for i := len(t.order) - 1; i >= 0; i-- {
		task := t.tasks[t.order[i]]
		if task.ToolName == toolName && !task.Status.IsTerminal() {
			return task
		}
	}
	return nil
}

func (t *Tracker) insert(task *domain.Task) {
	t.tasks[task.ID] = task
	t.order = append(t.order, task.ID)
	t.counts[task.Status]++
	telemetry.TrackerTasksByStatus.WithLabelValues(string(task.Status)).Inc()
}

func (t *Tracker) remove(task *domain.Task, trigger domain.Trigger, reason string) {
	delete(t.tasks, task.ID)
	delete(t.lastEvent, task.ID)
	for i, id := range t.order {
		if id == task.ID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	t.counts[task.Status]--
	telemetry.TrackerTasksByStatus.WithLabelValues(string(task.Status)).Dec()
	t.record(task, task.Status, trigger, reason)
}

// record appends one journal entry, forwards it to the sinks, and
// publishes the change to subscribers. Sink I/O never blocks the
// mutation path: a full buffer drops the entry from the sink feed (the
// in-memory journal still has it).
func (t *Tracker) record(task *domain.Task, from domain.Status, trigger domain.Trigger, reason string) {
	t.seq++
	entry := JournalEntry{
		Seq:     t.seq,
		TaskID:  task.ID,
		From:    from,
		To:      task.Status,
		Trigger: trigger,
		Reason:  reason,
		At:      task.UpdatedAt,
		Task:    task.Clone(),
	}
	t.entries = append(t.entries, entry)
	telemetry.TrackerTransitions.WithLabelValues(string(trigger)).Inc()

	if len(t.sinks) > 0 {
		select {
		case t.sinkCh <- entry:
		default:
			telemetry.JournalDroppedEntries.Inc()
			t.logger.Warn("journal sink buffer full, dropping entry",
				slog.Uint64("seq", entry.Seq),
				slog.String("task_id", entry.TaskID),
			)
		}
	}

	kind := ChangeUpdated
	switch trigger {
	case domain.TriggerCreated:
		kind = ChangeCreated
	case domain.TriggerPruned:
		kind = ChangeRemoved
	}
	t.publish(Change{Kind: kind, Task: entry.Task})
}

func (t *Tracker) runSinks() {
	defer t.sinkWG.Done()
	for entry := range t.sinkCh {
		for _, sink := range t.sinks {
			if err := sink.Append(context.Background(), entry); err != nil {
				telemetry.JournalSinkErrors.WithLabelValues(sink.Name()).Inc()
				t.logger.Error("journal sink append failed",
					slog.String("sink", sink.Name()),
					slog.String("task_id", entry.TaskID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
