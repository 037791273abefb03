package core

import (
	"context"
	"time"
)

// EventType identifies a semantic event emitted by agents or the orchestrator.
type EventType string

const (
	EventAgentThinking     EventType = "agent.thinking"
	EventAgentToolCall     EventType = "agent.tool.call"
	EventAgentObservation  EventType = "agent.observation"
	EventAgentFinished     EventType = "agent.finished"
	EventAgentError        EventType = "agent.error"
	EventRunStarted        EventType = "run.started"
	EventRunCompleted      EventType = "run.completed"
	EventCoordinatorJudged EventType = "coordinator.judged"
)

// Event captures a semantic streaming/logging event.
type Event struct {
	Type      EventType
	Agent     string
	RunID     string
	Timestamp time.Time
	Payload   map[string]any
}

// EventEmitter receives semantic events.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NoopEventEmitter is a default no-op implementation.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}

// NewEvent builds a default event with timestamp.
func NewEvent(eventType EventType, agent string, runID string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		Agent:     agent,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
