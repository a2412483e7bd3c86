package domain

import (
	"math"
	"time"
)

// Status represents the states a task can be in.
type Status string

const (
	StatusPending     Status = "pending"
	StatusStarting    Status = "starting"
	StatusRunning     Status = "running"
	StatusPaused      Status = "paused"
	StatusResuming    Status = "resuming"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
	StatusInterrupted Status = "interrupted"
)

// IsTerminal returns true if no further state transitions are possible
// except retry. Interrupted is deliberately non-terminal: it is still
// cancellable and retryable.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Capability flags are always derived from the current status, never stored.

// CanPause reports whether a pause action is accepted in this state.
func (s Status) CanPause() bool { return s == StatusRunning }

// CanResume reports whether a resume action is accepted in this state.
func (s Status) CanResume() bool { return s == StatusPaused }

// CanCancel reports whether a cancel action is accepted in this state.
func (s Status) CanCancel() bool { return !s.IsTerminal() }

// CanRetry reports whether a retry action is accepted in this state.
// Interrupted tasks are retryable so a dropped stream can be recovered.
func (s Status) CanRetry() bool {
	return s == StatusFailed || s == StatusCancelled || s == StatusInterrupted
}

// statusDisplayOrder fixes the sort position of each status in
// status-sorted views. Lower comes first.
var statusDisplayOrder = map[Status]int{
	StatusRunning:     1,
	StatusStarting:    2,
	StatusResuming:    3,
	StatusPending:     4,
	StatusPaused:      5,
	StatusCompleted:   6,
	StatusFailed:      7,
	StatusCancelled:   8,
	StatusInterrupted: 9,
}

// DisplayOrder returns the fixed sort position for status-sorted views.
// Unknown statuses sort last.
func (s Status) DisplayOrder() int {
	if o, ok := statusDisplayOrder[s]; ok {
		return o
	}
	return len(statusDisplayOrder) + 1
}

// TaskType classifies the kind of work a task tracks.
type TaskType string

const (
	TypeChatResponse    TaskType = "chat_response"
	TypeToolExecution   TaskType = "tool_execution"
	TypePlanExecution   TaskType = "plan_execution"
	TypeImageGeneration TaskType = "image_generation"
	TypeWebSearch       TaskType = "web_search"
	TypeDataAnalysis    TaskType = "data_analysis"
	TypeContentCreation TaskType = "content_creation"
	TypeCustom          TaskType = "custom"
)

// Priority orders tasks in priority-sorted views. It never affects
// state transitions.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityWeight = map[Priority]int{
	PriorityUrgent: 4,
	PriorityHigh:   3,
	PriorityNormal: 2,
	PriorityLow:    1,
}

// Weight returns the numeric sort weight of the priority. Higher is
// more urgent. Unknown priorities weigh zero.
func (p Priority) Weight() int { return priorityWeight[p] }

// Progress tracks step-wise completion of a task.
type Progress struct {
	CurrentStep        int     `json:"current_step"`
	TotalSteps         int     `json:"total_steps"`
	Percentage         float64 `json:"percentage"`
	CurrentStepName    string  `json:"current_step_name,omitempty"`
	EstimatedRemaining int     `json:"estimated_remaining_seconds,omitempty"`
	Details            string  `json:"details,omitempty"`
}

// Normalize clamps the progress fields into their valid ranges and, when
// the task has more than one step, recomputes the percentage from the
// step counters. Single-step tasks keep whatever percentage the event
// source reported.
func (p *Progress) Normalize() {
	if p.TotalSteps < 1 {
		p.TotalSteps = 1
	}
	if p.CurrentStep < 0 {
		p.CurrentStep = 0
	}
	if p.CurrentStep > p.TotalSteps {
		p.CurrentStep = p.TotalSteps
	}
	if p.TotalSteps > 1 {
		p.Percentage = math.Round(100 * float64(p.CurrentStep) / float64(p.TotalSteps))
	}
	if p.Percentage < 0 {
		p.Percentage = 0
	}
	if p.Percentage > 100 {
		p.Percentage = 100
	}
}

// Result captures the outcome of a task. Set only on completed and
// failed tasks.
type Result struct {
	Success     bool           `json:"success"`
	Data        any            `json:"data,omitempty"`
	Error       string         `json:"error,omitempty"`
	ArtifactIDs []string       `json:"artifact_ids,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Task is the core domain entity: one trackable unit of work per
// detected tool invocation or plan step.
type Task struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Type        TaskType `json:"type"`
	Status      Status   `json:"status"`
	Priority    Priority `json:"priority"`
	Progress    Progress `json:"progress"`
	Result      *Result  `json:"result,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	SessionID    string   `json:"session_id,omitempty"`
	MessageID    string   `json:"message_id,omitempty"`
	ParentTaskID string   `json:"parent_task_id,omitempty"`
	ChildTaskIDs []string `json:"child_task_ids,omitempty"`

	// ToolName links the task to the tool invocation that produced it.
	// Progress events are associated by this name.
	ToolName string `json:"tool_name,omitempty"`
	// Args are the parsed tool arguments. ArgsLowConfidence marks a
	// best-effort parse that fell back to raw-string capture.
	Args              map[string]any `json:"args,omitempty"`
	ArgsLowConfidence bool           `json:"args_low_confidence,omitempty"`
}

// Clone returns a deep copy safe to hand to readers outside the
// mutation path.
func (t *Task) Clone() *Task {
	cp := *t
	if t.StartedAt != nil {
		v := *t.StartedAt
		cp.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		cp.CompletedAt = &v
	}
	if t.Result != nil {
		r := *t.Result
		if t.Result.ArtifactIDs != nil {
			r.ArtifactIDs = append([]string(nil), t.Result.ArtifactIDs...)
		}
		if t.Result.Metadata != nil {
			r.Metadata = make(map[string]any, len(t.Result.Metadata))
			for k, v := range t.Result.Metadata {
				r.Metadata[k] = v
			}
		}
		cp.Result = &r
	}
	if t.ChildTaskIDs != nil {
		cp.ChildTaskIDs = append([]string(nil), t.ChildTaskIDs...)
	}
	if t.Args != nil {
		cp.Args = make(map[string]any, len(t.Args))
		for k, v := range t.Args {
			cp.Args[k] = v
		}
	}
	return &cp
}

// TypeForTool maps a tool name to the task type used for tasks created
// from stream detection events.
func TypeForTool(toolName string) TaskType {
	switch toolName {
	case "generate_image", "image_generation":
		return TypeImageGeneration
	case "web_search", "search":
		return TypeWebSearch
	case "data_analysis", "analyze_data":
		return TypeDataAnalysis
	case "content_creation", "generate_content":
		return TypeContentCreation
	default:
		return TypeToolExecution
	}
}
