// Package schema defines the data structures shared by the Veridis core, its API and the SDK.
package schema

import "time"

// Level is the severity of an ingested event.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Status is the coarse system status derived from the most recent event.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusAlert      Status = "alert"
)

// StatusFromLevel maps an event level to the derived system status.
func StatusFromLevel(l Level) Status {
	switch l {
	case LevelCritical:
		return StatusAlert
	case LevelWarning:
		return StatusProcessing
	default:
		return StatusIdle
	}
}

// Event is a normalized event. Every field except Payload is always set.
type Event struct {
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SystemState is a consistent snapshot of the event store.
type SystemState struct {
	Status       Status    `json:"status"`
	LastEvent    *Event    `json:"lastEvent"`
	RecentEvents []Event   `json:"recentEvents"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// AssistantReply is the short human-readable summary derived from a SystemState.
type AssistantReply struct {
	OK               bool      `json:"ok"`
	Status           Status    `json:"status"`
	Summary          string    `json:"summary"`
	SuggestedActions []string  `json:"suggestedActions"`
	UpdatedAt        time.Time `json:"updatedAt"`
	LastEvent        *Event    `json:"lastEvent"`
	RecentEvents     []Event   `json:"recentEvents,omitempty"`
}
