package sdk

import (
	"errors"

	"github.com/642studio/Veridis/pkg/schema"
)

var (
	// ErrNotConnected is returned by the remote client after Close or when no connection could be made.
	ErrNotConnected = errors.New("not connected to veridis core")
	// ErrProtocol is returned when the daemon replies with something the client cannot parse.
	ErrProtocol = errors.New("unexpected reply from veridis core")
	// ErrOutcomeUnknown is returned when the connection broke after a mutating
	// command was sent. The daemon may or may not have applied it; the client
	// does not resend it.
	ErrOutcomeUnknown = errors.New("connection lost before the reply; the command may have been applied")
)

// --- Functional Interfaces (Interface Segregation) ---

// EventSink accepts raw events. Ingestion never rejects an event; malformed
// fields are replaced by defaults.
type EventSink interface {
	IngestEvent(input any) (schema.SystemState, error)
}

// StateReader exposes the derived system state and the event history.
type StateReader interface {
	GetState() (schema.SystemState, error)
	// GetEvents returns up to limit events, newest first.
	GetEvents(limit int) ([]schema.Event, error)
	// GetAlerts returns the critical events among the limit most recent ones.
	GetAlerts(limit int) ([]schema.Event, error)
}

// Authorizer manages users, roles and invite codes.
type Authorizer interface {
	OnboardUser(externalID, name, origin string) (schema.UserRecord, error)
	// CreateInvite issues a dev invite code. A nil ttlHours selects the default TTL.
	CreateInvite(creatorExternalID string, ttlHours *float64) (schema.InviteCode, error)
	RedeemInvite(externalID, code string) (schema.UserRecord, error)
	CheckPermission(externalID, action string) (schema.Decision, error)
	RoleOf(externalID string) (schema.Role, error)
}

// Assistant summarizes the system state for operators.
type Assistant interface {
	AssistantQuery(verbose bool) (schema.AssistantReply, error)
}

// --- Composite Interfaces ---

// Hub is the complete Veridis core surface. The embedded hub and the remote
// client both implement it, so callers do not care which one they hold.
type Hub interface {
	EventSink
	StateReader
	Authorizer
	Assistant
}
