package tracker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasktrack-io/tasktrack/internal/domain"
	"github.com/tasktrack-io/tasktrack/internal/stream"
	"github.com/tasktrack-io/tasktrack/internal/tracker"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

func newRunning(t *testing.T, opts ...tracker.Option) *tracker.Tracker {
	t.Helper()
	base := []tracker.Option{
		tracker.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	tr := tracker.New(append(base, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = tr.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return tr
}

func detect(t *testing.T, tr *tracker.Tracker, tool string) *domain.Task {
	t.Helper()
	require.NoError(t, tr.Ingest(context.Background(), stream.TaskEvent{
		Kind:     stream.EventDetected,
		ToolName: tool,
	}))
	return findByTool(t, tr, tool)
}

func findByTool(t *testing.T, tr *tracker.Tracker, tool string) *domain.Task {
	t.Helper()
	active, err := tr.Active(context.Background())
	require.NoError(t, err)
	for i := len(active) - 1; i >= 0; i-- {
		if active[i].ToolName == tool {
			return active[i]
		}
	}
	t.Fatalf("no live task for tool %q", tool)
	return nil
}

func progress(tr *tracker.Tracker, tool string, class stream.ProgressClass, desc string) error {
	return tr.Ingest(context.Background(), stream.TaskEvent{
		Kind:        stream.EventProgress,
		ToolName:    tool,
		Class:       class,
		Description: desc,
	})
}

// driveTo walks a fresh stream-detected task to the given status.
func driveTo(t *testing.T, tr *tracker.Tracker, tool string, status domain.Status) *domain.Task {
	t.Helper()
	ctx := context.Background()
	task := detect(t, tr, tool)

	step := func(err error) { require.NoError(t, err) }
	toRunning := func() {
		step(progress(tr, tool, stream.ClassStarting, "starting"))
		step(progress(tr, tool, stream.ClassRunning, "working"))
	}

	switch status {
	case domain.StatusPending:
	case domain.StatusStarting:
		step(progress(tr, tool, stream.ClassStarting, "starting"))
	case domain.StatusRunning:
		toRunning()
	case domain.StatusPaused:
		toRunning()
		_, err := tr.Dispatch(ctx, tracker.ActionPause, task.ID, "")
		step(err)
	case domain.StatusResuming:
		toRunning()
		_, err := tr.Dispatch(ctx, tracker.ActionPause, task.ID, "")
		step(err)
		_, err = tr.Dispatch(ctx, tracker.ActionResume, task.ID, "")
		step(err)
	case domain.StatusCompleted:
		toRunning()
		step(progress(tr, tool, stream.ClassCompleted, "done"))
	case domain.StatusFailed:
		toRunning()
		step(progress(tr, tool, stream.ClassFailed, "boom"))
	case domain.StatusCancelled:
		_, err := tr.Dispatch(ctx, tracker.ActionCancel, task.ID, "")
		step(err)
	case domain.StatusInterrupted:
		toRunning()
		_, err := tr.MarkStreamLost(ctx, "")
		step(err)
	default:
		t.Fatalf("cannot drive to status %q", status)
	}

	got, err := tr.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, status, got.Status)
	return got
}

// ─── fakes ───────────────────────────────────────────────────────────────────

type recordingSink struct {
	mu      sync.Mutex
	name    string
	entries []tracker.JournalEntry
	fail    error
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Append(_ context.Context, entry tracker.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ─── creation ────────────────────────────────────────────────────────────────

func TestCreate_AppliesDefaults(t *testing.T) {
	tr := newRunning(t)

	task, err := tr.Create(context.Background(), tracker.CreateRequest{Description: "do the thing"})
	require.NoError(t, err)

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, domain.StatusPending, task.Status)
	assert.Equal(t, domain.TypeCustom, task.Type)
	assert.Equal(t, domain.PriorityNormal, task.Priority)
	assert.NotEmpty(t, task.Title)
	assert.False(t, task.CreatedAt.IsZero())
}

func TestCreate_DuplicateIDRejected(t *testing.T) {
	tr := newRunning(t)
	ctx := context.Background()

	_, err := tr.Create(ctx, tracker.CreateRequest{ID: "t-1", Title: "first"})
	require.NoError(t, err)
	_, err = tr.Create(ctx, tracker.CreateRequest{ID: "t-1", Title: "second"})
	require.Error(t, err)
}

func TestCreate_ParentLinking(t *testing.T) {
	tr := newRunning(t)
	ctx := context.Background()

	parent, err := tr.Create(ctx, tracker.CreateRequest{Title: "parent"})
	require.NoError(t, err)
	child, err := tr.Create(ctx, tracker.CreateRequest{Title: "child", ParentTaskID: parent.ID})
	require.NoError(t, err)

	got, err := tr.Get(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{child.ID}, got.ChildTaskIDs)
	assert.Equal(t, parent.ID, child.ParentTaskID)
}

func TestCreate_UnknownParentRejected(t *testing.T) {
	tr := newRunning(t)

	_, err := tr.Create(context.Background(), tracker.CreateRequest{Title: "orphan", ParentTaskID: "nope"})
	var notFound *domain.TaskNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "nope", notFound.TaskID)
}

// ─── stream ingestion ────────────────────────────────────────────────────────

func TestIngest_DetectionCreatesPendingTask(t *testing.T) {
	tr := newRunning(t)

	task := detect(t, tr, "web_search")
	assert.Equal(t, domain.StatusPending, task.Status)
	assert.Equal(t, domain.TypeForTool("web_search"), task.Type)
	assert.Equal(t, "web_search", task.ToolName)
}

func TestIngest_DuplicateDetectionSuppressed(t *testing.T) {
	tr := newRunning(t)
	ctx := context.Background()

	detect(t, tr, "web_search")
	// Second detection for a still-live tool must not fork a task.
	require.NoError(t, tr.Ingest(ctx, stream.TaskEvent{Kind: stream.EventDetected, ToolName: "web_search"}))

	active, err := tr.Active(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestIngest_DetectionAfterTerminalCreatesNewTask(t *testing.T) {
	tr := newRunning(t)

	first := driveTo(t, tr, "web_search", domain.StatusCompleted)
	second := detect(t, tr, "web_search")
	assert.NotEqual(t, first.ID, second.ID)
}

func TestIngest_ProgressWithoutTaskIsDropped(t *testing.T) {
	tr := newRunning(t)

	err := progress(tr, "generate_image", stream.ClassRunning, "rendering")
	var unknown *domain.UnknownTaskReferenceError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "generate_image", unknown.ToolName)

	active, aerr := tr.Active(context.Background())
	require.NoError(t, aerr)
	assert.Empty(t, active, "progress must never fabricate a task")
}

func TestIngest_ProgressAssociatesMostRecentLiveTask(t *testing.T) {
	tr := newRunning(t)
	ctx := context.Background()

	old := driveTo(t, tr, "web_search", domain.StatusCompleted)
	fresh := detect(t, tr, "web_search")

	require.NoError(t, progress(tr, "web_search", stream.ClassStarting, "starting"))

	got, err := tr.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStarting, got.Status)

	untouched, err := tr.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, untouched.Status)
}

func TestIngest_FullLifecycle(t *testing.T) {
	tr := newRunning(t)
	ctx := context.Background()

	task := detect(t, tr, "web_search")

	require.NoError(t, tr.Ingest(ctx, stream.TaskEvent{
		Kind: stream.EventProgress, ToolName: "web_search",
		Class: stream.ClassStarting, Description: "Starting execution",
		CurrentStep: 1, TotalSteps: 3, HasSteps: true,
	}))
	got, err := tr.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStarting, got.Status)
	assert.Equal(t, 1, got.Progress.CurrentStep)
	assert.Equal(t, 3, got.Progress.TotalSteps)
	assert.Equal(t, float64(33), got.Progress.Percentage)
	assert.NotNil(t, got.StartedAt)

	require.NoError(t, tr.Ingest(ctx, stream.TaskEvent{
		Kind: stream.EventProgress, ToolName: "web_search",
		Class: stream.ClassRunning, Description: "Fetching results",
		CurrentStep: 2, TotalSteps: 3, HasSteps: true,
	}))
	got, err = tr.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, got.Status)
	assert.Equal(t, float64(67), got.Progress.Percentage)
	assert.Equal(t, "Fetching results", got.Progress.CurrentStepName)

	require.NoError(t, progress(tr, "web_search", stream.ClassCompleted, "Completed - 2738 chars result"))
	got, err = tr.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, float64(100), got.Progress.Percentage)
	assert.Equal(t, got.Progress.TotalSteps, got.Progress.CurrentStep)
	require.NotNil(t, got.Result)
	assert.True(t, got.Result.Success)
	assert.NotNil(t, got.CompletedAt)
}

func TestIngest_FailureSetsResult(t *testing.T) {
	tr := newRunning(t)

	task := driveTo(t, tr, "execute_code", domain.StatusFailed)
	require.NotNil(t, task.Result)
	assert.False(t, task.Result.Success)
	assert.Equal(t, "boom", task.Result.Error)
	assert.NotNil(t, task.CompletedAt)
}

// ─── dispatch ────────────────────────────────────────────────────────────────

func TestDispatch_ActionMatrix(t *testing.T) {
	type pair struct {
		from    domain.Status
		action  tracker.Action
		want    domain.Status
		allowed bool
	}
	cases := []pair{
		{domain.StatusPending, tracker.ActionStart, domain.StatusStarting, true},
		{domain.StatusPending, tracker.ActionCancel, domain.StatusCancelled, true},
		{domain.StatusPending, tracker.ActionPause, "", false},
		{domain.StatusPending, tracker.ActionRetry, "", false},
		{domain.StatusStarting, tracker.ActionCancel, domain.StatusCancelled, true},
		{domain.StatusStarting, tracker.ActionPause, "", false},
		{domain.StatusRunning, tracker.ActionPause, domain.StatusPaused, true},
		{domain.StatusRunning, tracker.ActionCancel, domain.StatusCancelled, true},
		{domain.StatusRunning, tracker.ActionStart, "", false},
		{domain.StatusRunning, tracker.ActionResume, "", false},
		{domain.StatusRunning, tracker.ActionRetry, "", false},
		{domain.StatusPaused, tracker.ActionResume, domain.StatusResuming, true},
		{domain.StatusPaused, tracker.ActionCancel, domain.StatusCancelled, true},
		{domain.StatusPaused, tracker.ActionPause, "", false},
		{domain.StatusResuming, tracker.ActionCancel, domain.StatusCancelled, true},
		{domain.StatusResuming, tracker.ActionPause, "", false},
		{domain.StatusInterrupted, tracker.ActionRetry, domain.StatusPending, true},
		{domain.StatusInterrupted, tracker.ActionCancel, domain.StatusCancelled, true},
		{domain.StatusFailed, tracker.ActionRetry, domain.StatusPending, true},
		{domain.StatusFailed, tracker.ActionCancel, "", false},
		{domain.StatusCancelled, tracker.ActionRetry, domain.StatusPending, true},
		{domain.StatusCompleted, tracker.ActionCancel, "", false},
		{domain.StatusCompleted, tracker.ActionRetry, "", false},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"_"+string(tc.action), func(t *testing.T) {
			tr := newRunning(t)
			task := driveTo(t, tr, "web_search", tc.from)

			updated, err := tr.Dispatch(context.Background(), tc.action, task.ID, "test")
			if !tc.allowed {
				var invalid *domain.InvalidTransitionError
				require.ErrorAs(t, err, &invalid)
				assert.Equal(t, tc.from, invalid.From)

				// Rejection leaves the task untouched.
				got, gerr := tr.Get(context.Background(), task.ID)
				require.NoError(t, gerr)
				assert.Equal(t, tc.from, got.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, updated.Status)
		})
	}
}

func TestDispatch_UnknownTask(t *testing.T) {
	tr := newRunning(t)

	_, err := tr.Dispatch(context.Background(), tracker.ActionCancel, "missing", "")
	var notFound *domain.TaskNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestDispatch_RetryResetsExecutionState(t *testing.T) {
	tr := newRunning(t)
	ctx := context.Background()

	detect(t, tr, "web_search")
	require.NoError(t, tr.Ingest(ctx, stream.TaskEvent{
		Kind: stream.EventProgress, ToolName: "web_search",
		Class: stream.ClassStarting, Description: "starting",
		CurrentStep: 2, TotalSteps: 3, HasSteps: true,
	}))
	task := findByTool(t, tr, "web_search")
	require.NoError(t, progress(tr, "web_search", stream.ClassFailed, "boom"))

	updated, err := tr.Dispatch(ctx, tracker.ActionRetry, task.ID, "try again")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, updated.Status)
	assert.Equal(t, 0, updated.Progress.CurrentStep)
	assert.Equal(t, 3, updated.Progress.TotalSteps, "total steps survive a retry")
	assert.Equal(t, float64(0), updated.Progress.Percentage)
	assert.Nil(t, updated.Result)
	assert.Nil(t, updated.StartedAt)
	assert.Nil(t, updated.CompletedAt)
}

func TestDispatch_CancelFiresAbortHook(t *testing.T) {
	type abortCall struct{ taskID, reason string }
	calls := make(chan abortCall, 1)

	tr := newRunning(t, tracker.WithAbortHook(func(_ context.Context, taskID, reason string) {
		calls <- abortCall{taskID, reason}
	}))
	task := driveTo(t, tr, "web_search", domain.StatusRunning)

	_, err := tr.Dispatch(context.Background(), tracker.ActionCancel, task.ID, "user requested")
	require.NoError(t, err)

	select {
	case call := <-calls:
		assert.Equal(t, task.ID, call.taskID)
		assert.Equal(t, "user requested", call.reason)
	case <-time.After(time.Second):
		t.Fatal("abort hook was not invoked")
	}
}

func TestDispatch_PauseDoesNotFireAbortHook(t *testing.T) {
	calls := make(chan string, 1)
	tr := newRunning(t, tracker.WithAbortHook(func(_ context.Context, taskID, _ string) {
		calls <- taskID
	}))
	task := driveTo(t, tr, "web_search", domain.StatusRunning)

	_, err := tr.Dispatch(context.Background(), tracker.ActionPause, task.ID, "")
	require.NoError(t, err)

	select {
	case id := <-calls:
		t.Fatalf("abort hook fired for non-cancel action (task %s)", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatchBatch_MixedOutcomes(t *testing.T) {
	tr := newRunning(t)
	ctx := context.Background()

	running := driveTo(t, tr, "web_search", domain.StatusRunning)
	completed := driveTo(t, tr, "generate_image", domain.StatusCompleted)
	pending := detect(t, tr, "execute_code")

	results, err := tr.DispatchBatch(ctx, tracker.ActionCancel, []string{
		running.ID, completed.ID, pending.ID, "missing",
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, tracker.OutcomeSuccess, results[0].Outcome)
	assert.Equal(t, tracker.OutcomeAlreadyTerminal, results[1].Outcome)
	assert.Equal(t, tracker.OutcomeSuccess, results[2].Outcome)
	assert.Equal(t, tracker.OutcomeNotFound, results[3].Outcome)

	// The already-terminal task is untouched.
	got, err := tr.Get(ctx, completed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.True(t, got.Result.Success)
}

// ─── stream loss and stall sweep ─────────────────────────────────────────────

func TestMarkStreamLost_ScopedToSession(t *testing.T) {
	tr := newRunning(t)
	ctx := context.Background()

	require.NoError(t, tr.Ingest(ctx, stream.TaskEvent{
		Kind: stream.EventDetected, ToolName: "web_search", SessionID: "s1",
	}))
	require.NoError(t, progress(tr, "web_search", stream.ClassStarting, "go"))
	require.NoError(t, progress(tr, "web_search", stream.ClassRunning, "go"))
	inS1 := findByTool(t, tr, "web_search")

	require.NoError(t, tr.Ingest(ctx, stream.TaskEvent{
		Kind: stream.EventDetected, ToolName: "generate_image", SessionID: "s2",
	}))
	require.NoError(t, progress(tr, "generate_image", stream.ClassStarting, "go"))
	require.NoError(t, progress(tr, "generate_image", stream.ClassRunning, "go"))
	inS2 := findByTool(t, tr, "generate_image")

	n, err := tr.MarkStreamLost(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := tr.Get(ctx, inS1.ID)
	assert.Equal(t, domain.StatusInterrupted, got.Status)
	got, _ = tr.Get(ctx, inS2.ID)
	assert.Equal(t, domain.StatusRunning, got.Status)

	// Empty session id sweeps every running task.
	n, err = tr.MarkStreamLost(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, _ = tr.Get(ctx, inS2.ID)
	assert.Equal(t, domain.StatusInterrupted, got.Status)
}

func TestInterruptStalled_QuietPeriod(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	tr := newRunning(t, tracker.WithClock(clock), tracker.WithQuietPeriod(30*time.Second))
	ctx := context.Background()

	task := driveTo(t, tr, "web_search", domain.StatusRunning)

	advance(10 * time.Second)
	n, err := tr.InterruptStalled(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "task inside the quiet period must not be interrupted")

	advance(25 * time.Second)
	n, err = tr.InterruptStalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := tr.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInterrupted, got.Status)
}

// ─── journal and pruning ─────────────────────────────────────────────────────

func TestJournal_RecordsEveryMutation(t *testing.T) {
	tr := newRunning(t)
	ctx := context.Background()

	task := driveTo(t, tr, "web_search", domain.StatusCompleted)

	entries, err := tr.Journal(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 4) // created, starting, running, completed

	var lastSeq uint64
	for _, e := range entries {
		assert.Greater(t, e.Seq, lastSeq, "sequence numbers are strictly increasing")
		lastSeq = e.Seq
		assert.Equal(t, task.ID, e.TaskID)
		require.NotNil(t, e.Task)
	}
	assert.Equal(t, domain.TriggerCreated, entries[0].Trigger)
	assert.Equal(t, domain.StatusCompleted, entries[len(entries)-1].To)
}

func TestPrune_RetentionWindow(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	tr := newRunning(t,
		tracker.WithClock(clock),
		tracker.WithRetention(1, 10*time.Second),
	)
	ctx := context.Background()

	first := driveTo(t, tr, "web_search", domain.StatusCompleted)
	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()
	second := driveTo(t, tr, "generate_image", domain.StatusCompleted)

	journalBefore, err := tr.Journal(ctx)
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()

	pruned, err := tr.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned, "the most recent terminal task is retained")

	_, err = tr.Get(ctx, first.ID)
	var notFound *domain.TaskNotFoundError
	require.ErrorAs(t, err, &notFound)

	_, err = tr.Get(ctx, second.ID)
	require.NoError(t, err)

	// Pruning the live store never shrinks the journal.
	journalAfter, err := tr.Journal(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(journalBefore)+1, len(journalAfter))
	assert.Equal(t, domain.TriggerPruned, journalAfter[len(journalAfter)-1].Trigger)
}

func TestClearTerminal(t *testing.T) {
	tr := newRunning(t)
	ctx := context.Background()

	driveTo(t, tr, "web_search", domain.StatusCompleted)
	driveTo(t, tr, "generate_image", domain.StatusFailed)
	live := driveTo(t, tr, "execute_code", domain.StatusRunning)

	n, err := tr.ClearTerminal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := tr.Query(ctx, tracker.FilterAll, tracker.SortCreated, tracker.OrderAsc)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, live.ID, all[0].ID)
}

// ─── sinks ───────────────────────────────────────────────────────────────────

func TestSinks_ReceiveEntries(t *testing.T) {
	sink := &recordingSink{name: "recording"}
	tr := newRunning(t, tracker.WithSinks(sink))

	driveTo(t, tr, "web_search", domain.StatusCompleted)

	require.Eventually(t, func() bool {
		return sink.count() == 4
	}, time.Second, 10*time.Millisecond, "all journal entries reach the sink")
}

func TestSinks_FailureIsIsolated(t *testing.T) {
	bad := &recordingSink{name: "bad", fail: errors.New("sink down")}
	good := &recordingSink{name: "good"}
	tr := newRunning(t, tracker.WithSinks(bad, good))

	driveTo(t, tr, "web_search", domain.StatusCompleted)

	require.Eventually(t, func() bool {
		return good.count() == 4
	}, time.Second, 10*time.Millisecond, "a failing sink never blocks the others")
}

// ─── concurrency ─────────────────────────────────────────────────────────────

func TestConcurrentTerminalRace_ExactlyOneWins(t *testing.T) {
	for i := 0; i < 20; i++ {
		tr := newRunning(t)
		ctx := context.Background()
		task := driveTo(t, tr, "web_search", domain.StatusRunning)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = tr.Dispatch(ctx, tracker.ActionCancel, task.ID, "race")
		}()
		go func() {
			defer wg.Done()
			_ = progress(tr, "web_search", stream.ClassCompleted, "done")
		}()
		wg.Wait()

		got, err := tr.Get(ctx, task.ID)
		require.NoError(t, err)
		require.True(t, got.Status.IsTerminal())

		// Exactly one terminal transition made it into the journal.
		entries, err := tr.Journal(ctx)
		require.NoError(t, err)
		terminal := 0
		for _, e := range entries {
			if e.To.IsTerminal() {
				terminal++
			}
		}
		assert.Equal(t, 1, terminal)
	}
}

func TestConcurrentMixedWriters(t *testing.T) {
	tr := newRunning(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tool := string(rune('a'+n)) + "_tool"
			_ = tr.Ingest(ctx, stream.TaskEvent{Kind: stream.EventDetected, ToolName: tool})
			_ = progress(tr, tool, stream.ClassStarting, "go")
			_ = progress(tr, tool, stream.ClassRunning, "go")
			_ = progress(tr, tool, stream.ClassCompleted, "done")
		}(i)
	}
	wg.Wait()

	counts, err := tr.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, counts[domain.StatusCompleted])

	entries, err := tr.Journal(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 32)
}
