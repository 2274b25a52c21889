package schema

import "time"

// Role is the only authorization axis. lite ⊂ dev ⊂ god.
type Role string

const (
	RoleLite Role = "lite"
	RoleDev  Role = "dev"
	RoleGod  Role = "god"
)

// UserRecord represents an identity known to the authorization store,
// keyed by its external (chat platform) id.
type UserRecord struct {
	ExternalID string    `json:"externalId"`
	Name       string    `json:"name,omitempty"`
	Origin     string    `json:"origin,omitempty"`
	Role       Role      `json:"role"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// InviteCode is a single-use, time-limited code that grants RoleGrant when redeemed.
// UsedAt is nil until the code is redeemed.
type InviteCode struct {
	Code                string     `json:"code"`
	RoleGrant           Role       `json:"roleGrant"`
	CreatedAt           time.Time  `json:"createdAt"`
	ExpiresAt           time.Time  `json:"expiresAt"`
	CreatedByExternalID string     `json:"createdByExternalId"`
	UsedAt              *time.Time `json:"usedAt,omitempty"`
	UsedByExternalID    string     `json:"usedByExternalId,omitempty"`
}

// Used reports whether the code has already been redeemed.
func (c InviteCode) Used() bool {
	return c.UsedAt != nil
}

// ExpiredAt reports whether the code is expired at instant now. The expiry
// instant itself is already expired.
func (c InviteCode) ExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Decision is the result of a permission check.
type Decision struct {
	Allowed bool `json:"allowed"`
	Role    Role `json:"role"`
}

// RoleInfo is the reply to a role lookup.
type RoleInfo struct {
	ExternalID string `json:"externalId"`
	Role       Role   `json:"role"`
}

// Profile carries the optional descriptive fields of an onboard request.
type Profile struct {
	Name   string `json:"name,omitempty"`
	Origin string `json:"origin,omitempty"`
}
