package agent

import (
	"context"
	"time"
)

// EventType identifies a semantic event emitted during a run.
type EventType string

const (
	EventThinking    EventType = "agent.thinking"
	EventSkillCalled EventType = "agent.skill.called"
	EventFinal       EventType = "agent.final"
	EventError       EventType = "agent.error"
)

// Event captures a semantic streaming/logging event.
type Event struct {
	Type      EventType
	RunID     string
	AccountID string
	SessionID string
	Turn      int
	Timestamp time.Time
	Payload   map[string]any
}

// EventEmitter receives semantic events. Implementations must not block
// for long; they run on the orchestrator goroutine.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// EventEmitterFunc adapts a function to EventEmitter.
type EventEmitterFunc func(ctx context.Context, event Event)

// Emit calls f.
func (f EventEmitterFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// NoopEventEmitter discards events.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}
