package domain

import "fmt"

// TaskNotFoundError is returned when a task ID does not exist.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// InvalidTransitionError is returned when (status, trigger) is not in
// the transition table. The task is left unchanged.
type InvalidTransitionError struct {
	TaskID  string
	From    Status
	Trigger Trigger
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for task %s: %s does not accept %s", e.TaskID, e.From, e.Trigger)
}

// UnknownTaskReferenceError is returned when a progress event references
// a tool name with no matching non-terminal task. The event is dropped,
// never turned into a task.
type UnknownTaskReferenceError struct {
	ToolName string
}

func (e *UnknownTaskReferenceError) Error() string {
	return fmt.Sprintf("no non-terminal task for tool %q", e.ToolName)
}

// CycleError is returned when a parent/child link would form a cycle in
// the task tree.
type CycleError struct {
	TaskID       string
	ParentTaskID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("task %s cannot have parent %s: would form a cycle", e.TaskID, e.ParentTaskID)
}

// ParseError is returned when a stream envelope is not valid JSON.
// Non-fatal: the envelope is dropped and the stream continues.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed envelope: %s", e.Reason)
}
