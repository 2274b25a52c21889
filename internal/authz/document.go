package authz

import "github.com/642studio/Veridis/pkg/schema"

// Document is the persisted authorization store: users keyed by external id
// and invite codes keyed by code.
type Document struct {
	Users       map[string]schema.UserRecord `json:"users"`
	InviteCodes map[string]schema.InviteCode `json:"inviteCodes"`
}

// NewDocument returns an empty document with both maps allocated.
func NewDocument() *Document {
	return &Document{
		Users:       make(map[string]schema.UserRecord),
		InviteCodes: make(map[string]schema.InviteCode),
	}
}

// Clone returns a deep copy. Mutations are applied to a clone and only
// published once the clone has been written to disk.
func (d *Document) Clone() *Document {
	c := &Document{
		Users:       make(map[string]schema.UserRecord, len(d.Users)),
		InviteCodes: make(map[string]schema.InviteCode, len(d.InviteCodes)),
	}
	for k, u := range d.Users {
		c.Users[k] = u
	}
	for k, ic := range d.InviteCodes {
		if ic.UsedAt != nil {
			t := *ic.UsedAt
			ic.UsedAt = &t
		}
		c.InviteCodes[k] = ic
	}
	return c
}

// ensureMaps fills in maps missing from a partially written document.
func (d *Document) ensureMaps() {
	if d.Users == nil {
		d.Users = make(map[string]schema.UserRecord)
	}
	if d.InviteCodes == nil {
		d.InviteCodes = make(map[string]schema.InviteCode)
	}
}
