// Package hub wires the event store, the authorization service and the
// assistant into the single facade served by the API, the TCP router and the SDK.
package hub

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/642studio/Veridis/internal/assistant"
	"github.com/642studio/Veridis/internal/authz"
	"github.com/642studio/Veridis/internal/events"
	"github.com/642studio/Veridis/pkg/schema"
)

// ErrInvalidTTL is returned for a ttlHours that is not a finite number.
var ErrInvalidTTL = &authz.Error{Code: authz.CodeInvalidInput, Message: "ttlHours must be a finite number"}

// Hub owns one event store and one authorization service.
type Hub struct {
	events *events.Store
	authz  *authz.Service
	log    zerolog.Logger
}

// New returns a hub over the given components.
func New(store *events.Store, svc *authz.Service, log zerolog.Logger) *Hub {
	return &Hub{events: store, authz: svc, log: log}
}

// Events returns the underlying event store.
func (h *Hub) Events() *events.Store { return h.events }

// Authz returns the underlying authorization service.
func (h *Hub) Authz() *authz.Service { return h.authz }

func (h *Hub) IngestEvent(input any) (schema.SystemState, error) {
	return h.events.Append(input), nil
}

func (h *Hub) GetState() (schema.SystemState, error) {
	return h.events.State(), nil
}

func (h *Hub) GetEvents(limit int) ([]schema.Event, error) {
	return h.events.Recent(limit), nil
}

func (h *Hub) GetAlerts(limit int) ([]schema.Event, error) {
	return h.events.Alerts(limit), nil
}

func (h *Hub) OnboardUser(externalID, name, origin string) (schema.UserRecord, error) {
	return h.authz.Onboard(externalID, name, origin)
}

// CreateInvite converts ttlHours to a duration. Zero or negative values yield
// a code that is already expired.
func (h *Hub) CreateInvite(creatorExternalID string, ttlHours *float64) (schema.InviteCode, error) {
	ttl := h.authz.DefaultTTL()
	if ttlHours != nil {
		hours := *ttlHours
		if math.IsNaN(hours) || math.IsInf(hours, 0) {
			return schema.InviteCode{}, ErrInvalidTTL
		}
		// Clamp so the multiplication cannot overflow time.Duration.
		const maxHours = float64(math.MaxInt64 / int64(time.Hour))
		hours = math.Max(-maxHours, math.Min(maxHours, hours))
		ttl = time.Duration(hours * float64(time.Hour))
	}
	return h.authz.CreateInviteCode(creatorExternalID, ttl)
}

func (h *Hub) RedeemInvite(externalID, code string) (schema.UserRecord, error) {
	return h.authz.RedeemInviteCode(externalID, code)
}

func (h *Hub) CheckPermission(externalID, action string) (schema.Decision, error) {
	return h.authz.CheckAction(externalID, action), nil
}

func (h *Hub) RoleOf(externalID string) (schema.Role, error) {
	return h.authz.RoleOf(externalID), nil
}

func (h *Hub) AssistantQuery(verbose bool) (schema.AssistantReply, error) {
	return assistant.Query(h.events.State(), verbose), nil
}
