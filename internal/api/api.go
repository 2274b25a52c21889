// Package api exposes the hub over HTTP with gin.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/642studio/Veridis/internal/events"
	"github.com/642studio/Veridis/pkg/sdk"
)

type Handler struct {
	Hub sdk.Hub
	Log zerolog.Logger
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "service": "veridis-core"})
}

func (h *Handler) GetState(c *gin.Context) {
	state, err := h.Hub.GetState()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// PostEvent accepts any body. Malformed JSON is not rejected: the event is
// recorded with default fields like any other incomplete input.
func (h *Handler) PostEvent(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.fail(c, errInvalidBody)
		return
	}
	state, err := h.Hub.IngestEvent(json.RawMessage(body))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, state)
}

func (h *Handler) GetEvents(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	evs, err := h.Hub.GetEvents(limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "events": evs})
}

func (h *Handler) GetAlerts(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	alerts, err := h.Hub.GetAlerts(limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "alerts": alerts})
}

func (h *Handler) AssistantQuery(c *gin.Context) {
	var input struct {
		Verbose bool `json:"verbose"`
	}
	// The body is optional.
	if err := c.ShouldBindJSON(&input); err != nil && !errors.Is(err, io.EOF) {
		h.fail(c, errInvalidBody)
		return
	}
	reply, err := h.Hub.AssistantQuery(input.Verbose)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (h *Handler) Onboard(c *gin.Context) {
	var input struct {
		ExternalID string `json:"externalId" binding:"required"`
		Name       string `json:"name"`
		Origin     string `json:"origin"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		h.fail(c, errInvalidBody)
		return
	}
	user, err := h.Hub.OnboardUser(input.ExternalID, input.Name, input.Origin)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "user": user})
}

func (h *Handler) CreateInvite(c *gin.Context) {
	var input struct {
		CreatorExternalID string   `json:"creatorExternalId" binding:"required"`
		TTLHours          *float64 `json:"ttlHours"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		h.fail(c, errInvalidBody)
		return
	}
	invite, err := h.Hub.CreateInvite(input.CreatorExternalID, input.TTLHours)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "invite": invite})
}

func (h *Handler) Redeem(c *gin.Context) {
	var input struct {
		ExternalID string `json:"externalId" binding:"required"`
		Code       string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		h.fail(c, errInvalidBody)
		return
	}
	user, err := h.Hub.RedeemInvite(input.ExternalID, input.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "user": user})
}

func (h *Handler) Check(c *gin.Context) {
	var input struct {
		ExternalID string `json:"externalId" binding:"required"`
		Action     string `json:"action" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		h.fail(c, errInvalidBody)
		return
	}
	d, err := h.Hub.CheckPermission(input.ExternalID, input.Action)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "allowed": d.Allowed, "role": d.Role})
}

func (h *Handler) GetRole(c *gin.Context) {
	id := c.Param("id")
	role, err := h.Hub.RoleOf(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "externalId": id, "role": role})
}

// queryLimit reads ?limit=, defaulting to events.DefaultQueryLimit. Range
// clamping is left to the store.
func queryLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return events.DefaultQueryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errInvalidLimit
	}
	return n, nil
}
