package stream

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// EventKind discriminates parsed task events.
type EventKind string

const (
	// EventDetected signals that a new tool invocation has begun.
	EventDetected EventKind = "detected"
	// EventProgress is a status/step update for an already-known task.
	EventProgress EventKind = "progress"
)

// ProgressClass is the keyword classification of a progress event.
type ProgressClass string

const (
	ClassStarting  ProgressClass = "starting"
	ClassRunning   ProgressClass = "running"
	ClassCompleted ProgressClass = "completed"
	ClassFailed    ProgressClass = "failed"
)

// TaskEvent is one structured event extracted from an envelope.
type TaskEvent struct {
	Kind     EventKind
	ToolName string

	// Detection fields.
	Args              map[string]any
	ArgsLowConfidence bool

	// Progress fields.
	Class       ProgressClass
	Description string
	CurrentStep int
	TotalSteps  int
	HasSteps    bool

	SessionID string
	Timestamp time.Time
}

// progressRe matches "[tool] description" with an optional trailing
// "(current/total)" step counter.
var progressRe = regexp.MustCompile(`^\[(\w[\w_]*)\]\s+(.+?)(?:\s+\((\d+)/(\d+)\))?$`)

// Parse converts one envelope into zero or more task events. Input that
// matches no recognized shape yields nil, never an error.
func Parse(env Envelope) []TaskEvent {
	switch env.Kind {
	case KindMessage:
		return parseDetections(env)
	case KindProgress:
		return parseProgress(env)
	}
	return nil
}

const toolCallsMarker = "tool_calls="

var (
	nameRe    = regexp.MustCompile(`['"]name['"]\s*:\s*['"]([^'"]+)['"]`)
	argsKeyRe = regexp.MustCompile(`['"]args['"]\s*:\s*`)
)

// parseDetections extracts every (name, args) pair from a
// tool_calls=[{'name': ..., 'args': {...}}, ...] descriptor embedded in
// free text. Pairs without a name are skipped; a pair whose args don't
// parse keeps the raw text under RawArgsKey.
func parseDetections(env Envelope) []TaskEvent {
	raw := env.RawMessage
	idx := strings.Index(raw, toolCallsMarker)
	if idx < 0 {
		return nil
	}

	listStart := idx + len(toolCallsMarker)
	for listStart < len(raw) && (raw[listStart] == ' ' || raw[listStart] == '\t') {
		listStart++
	}
	if listStart >= len(raw) || raw[listStart] != '[' {
		return nil
	}
	list, _, ok := scanBalanced(raw, listStart, '[', ']')
	if !ok {
		return nil
	}
	body := list[1 : len(list)-1]

	var events []TaskEvent
	for i := 0; i < len(body); {
		if body[i] != '{' {
			i++
			continue
		}
		obj, next, ok := scanBalanced(body, i, '{', '}')
		if !ok {
			break
		}
		i = next

		m := nameRe.FindStringSubmatch(obj)
		if m == nil {
			continue
		}

		ev := TaskEvent{
			Kind:      EventDetected,
			ToolName:  m[1],
			SessionID: env.SessionID,
			Timestamp: env.Timestamp,
		}
		if loc := argsKeyRe.FindStringIndex(obj); loc != nil && loc[1] < len(obj) && obj[loc[1]] == '{' {
			argsText, _, ok := scanBalanced(obj, loc[1], '{', '}')
			if ok {
				ev.Args, ok = ParseArgs(argsText)
				ev.ArgsLowConfidence = !ok
			}
		}
		events = append(events, ev)
	}
	return events
}

// parseProgress matches "[tool] description (c/t)" and classifies the
// description by keyword, checked in priority order.
func parseProgress(env Envelope) []TaskEvent {
	m := progressRe.FindStringSubmatch(strings.TrimSpace(env.ProgressData))
	if m == nil {
		return nil
	}

	ev := TaskEvent{
		Kind:        EventProgress,
		ToolName:    m[1],
		Description: m[2],
		Class:       classify(m[2]),
		SessionID:   env.SessionID,
		Timestamp:   env.Timestamp,
	}
	if m[3] != "" && m[4] != "" {
		cur, errC := strconv.Atoi(m[3])
		total, errT := strconv.Atoi(m[4])
		if errC == nil && errT == nil {
			ev.CurrentStep = cur
			ev.TotalSteps = total
			ev.HasSteps = true
		}
	}
	return []TaskEvent{ev}
}

// classify is case-insensitive; "failed" outranks "completed" outranks
// "starting" so a description like "starting retry after failed call"
// still reads as failed.
func classify(description string) ProgressClass {
	d := strings.ToLower(description)
	switch {
	case strings.Contains(d, "failed"):
		return ClassFailed
	case strings.Contains(d, "completed"):
		return ClassCompleted
	case strings.Contains(d, "starting"):
		return ClassStarting
	default:
		return ClassRunning
	}
}

// scanBalanced returns s[start:...] spanning one balanced open/close
// run, honoring single- and double-quoted strings, plus the index just
// past the closer.
func scanBalanced(s string, start int, open, close byte) (string, int, bool) {
	depth := 0
	var inStr byte
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == inStr {
				inStr = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			inStr = c
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], i + 1, true
			}
		}
	}
	return "", len(s), false
}
