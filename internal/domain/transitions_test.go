package domain_test

import (
	"testing"

	"github.com/tasktrack-io/tasktrack/internal/domain"
)

// allowed lists every permitted (from, trigger) → to entry. The rejection
// test below derives the complement, so together they cover the full
// status × trigger grid.
var allowed = []struct {
	from    domain.Status
	trigger domain.Trigger
	to      domain.Status
}{
	{domain.StatusPending, domain.TriggerStart, domain.StatusStarting},
	{domain.StatusPending, domain.TriggerEventStarting, domain.StatusStarting},
	{domain.StatusPending, domain.TriggerCancel, domain.StatusCancelled},

	{domain.StatusStarting, domain.TriggerEventProgress, domain.StatusRunning},
	{domain.StatusStarting, domain.TriggerEventFailed, domain.StatusFailed},
	{domain.StatusStarting, domain.TriggerCancel, domain.StatusCancelled},

	{domain.StatusRunning, domain.TriggerPause, domain.StatusPaused},
	{domain.StatusRunning, domain.TriggerEventProgress, domain.StatusRunning},
	{domain.StatusRunning, domain.TriggerEventCompleted, domain.StatusCompleted},
	{domain.StatusRunning, domain.TriggerEventFailed, domain.StatusFailed},
	{domain.StatusRunning, domain.TriggerCancel, domain.StatusCancelled},
	{domain.StatusRunning, domain.TriggerStreamLost, domain.StatusInterrupted},

	{domain.StatusPaused, domain.TriggerResume, domain.StatusResuming},
	{domain.StatusPaused, domain.TriggerCancel, domain.StatusCancelled},

	{domain.StatusResuming, domain.TriggerEventProgress, domain.StatusRunning},
	{domain.StatusResuming, domain.TriggerCancel, domain.StatusCancelled},

	{domain.StatusInterrupted, domain.TriggerRetry, domain.StatusPending},
	{domain.StatusInterrupted, domain.TriggerCancel, domain.StatusCancelled},

	{domain.StatusFailed, domain.TriggerRetry, domain.StatusPending},
	{domain.StatusCancelled, domain.TriggerRetry, domain.StatusPending},
}

var allStatuses = []domain.Status{
	domain.StatusPending, domain.StatusStarting, domain.StatusRunning,
	domain.StatusPaused, domain.StatusResuming, domain.StatusCompleted,
	domain.StatusFailed, domain.StatusCancelled, domain.StatusInterrupted,
}

var allTriggers = []domain.Trigger{
	domain.TriggerStart, domain.TriggerPause, domain.TriggerResume,
	domain.TriggerCancel, domain.TriggerRetry,
	domain.TriggerEventStarting, domain.TriggerEventProgress,
	domain.TriggerEventCompleted, domain.TriggerEventFailed,
	domain.TriggerStreamLost,
}

func TestNext_AllowedTransitions(t *testing.T) {
	for _, tt := range allowed {
		t.Run(string(tt.from)+"/"+string(tt.trigger), func(t *testing.T) {
			to, ok := domain.Next(tt.from, tt.trigger)
			if !ok {
				t.Fatalf("Next(%q, %q) rejected, want %q", tt.from, tt.trigger, tt.to)
			}
			if to != tt.to {
				t.Errorf("Next(%q, %q) = %q, want %q", tt.from, tt.trigger, to, tt.to)
			}
		})
	}
}

func TestNext_RejectsEverythingElse(t *testing.T) {
	allowedSet := make(map[[2]string]bool, len(allowed))
	for _, tt := range allowed {
		allowedSet[[2]string{string(tt.from), string(tt.trigger)}] = true
	}
	for _, from := range allStatuses {
		for _, trigger := range allTriggers {
			if allowedSet[[2]string{string(from), string(trigger)}] {
				continue
			}
			if to, ok := domain.Next(from, trigger); ok {
				t.Errorf("Next(%q, %q) = %q, want rejection", from, trigger, to)
			}
		}
	}
}

func TestNext_CompletedIsFullyTerminal(t *testing.T) {
	for _, trigger := range allTriggers {
		if _, ok := domain.Next(domain.StatusCompleted, trigger); ok {
			t.Errorf("completed accepts %q, want no transitions at all", trigger)
		}
	}
}

func TestTriggerIsAction(t *testing.T) {
	actions := []domain.Trigger{
		domain.TriggerStart, domain.TriggerPause, domain.TriggerResume,
		domain.TriggerCancel, domain.TriggerRetry,
	}
	for _, trg := range actions {
		if !trg.IsAction() {
			t.Errorf("IsAction(%q) = false, want true", trg)
		}
	}
	events := []domain.Trigger{
		domain.TriggerEventStarting, domain.TriggerEventProgress,
		domain.TriggerEventCompleted, domain.TriggerEventFailed,
		domain.TriggerStreamLost, domain.TriggerCreated,
	}
	for _, trg := range events {
		if trg.IsAction() {
			t.Errorf("IsAction(%q) = true, want false", trg)
		}
	}
}
