// Package assistant turns a system state snapshot into a short operator summary.
package assistant

import (
	"github.com/642studio/Veridis/pkg/schema"
)

// VerboseEvents is the number of events attached to a verbose reply.
const VerboseEvents = 10

var suggestions = map[schema.Status][]string{
	schema.StatusAlert:      {"Review alert details", "Run the relevant runbook", "Notify owner"},
	schema.StatusProcessing: {"Monitor progress", "Check event stream", "Wait for completion"},
	schema.StatusIdle:       {"Check system status", "Emit a test event", "Review recent changes"},
}

// Query summarizes state. The reported status is derived from the level of the
// last event, so an empty store is always idle. With verbose set the reply also
// carries up to VerboseEvents recent events, newest first.
func Query(state schema.SystemState, verbose bool) schema.AssistantReply {
	status := schema.StatusIdle
	if state.LastEvent != nil {
		status = schema.StatusFromLevel(state.LastEvent.Level)
	}

	reply := schema.AssistantReply{
		OK:               true,
		Status:           status,
		Summary:          summary(state.LastEvent),
		SuggestedActions: append([]string(nil), suggestions[status]...),
		UpdatedAt:        state.UpdatedAt,
		LastEvent:        state.LastEvent,
	}

	if verbose {
		recent := state.RecentEvents
		if len(recent) > VerboseEvents {
			recent = recent[len(recent)-VerboseEvents:]
		}
		reply.RecentEvents = make([]schema.Event, 0, len(recent))
		for i := len(recent) - 1; i >= 0; i-- {
			reply.RecentEvents = append(reply.RecentEvents, recent[i])
		}
	}
	return reply
}

func summary(last *schema.Event) string {
	if last == nil {
		return "System is idle. No recent activity."
	}
	switch last.Level {
	case schema.LevelCritical:
		return "Critical alert: " + last.Message
	case schema.LevelWarning:
		return "Attention required: " + last.Message
	default:
		return "Info: " + last.Message
	}
}
