package authz

import (
	"sort"

	"github.com/642studio/Veridis/pkg/schema"
)

// Actions every identity may perform.
var liteActions = []string{
	"chat.qa.public",
	"submit.idea",
}

// Actions added on top of liteActions for developers.
var devActions = []string{
	"video.pipeline.run",
	"files.rw.videogen",
	"files.rw.brain",
	"n8n.workflows.run",
	"n8n.workflows.list",
}

// allowSets is closed: an action missing from a role's set is denied.
// god is not listed because it is allowed everything.
var allowSets = map[schema.Role]map[string]struct{}{
	schema.RoleLite: setOf(liteActions),
	schema.RoleDev:  setOf(liteActions, devActions),
}

func setOf(groups ...[]string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, g := range groups {
		for _, a := range g {
			set[a] = struct{}{}
		}
	}
	return set
}

// Allows reports whether role may perform action.
func Allows(role schema.Role, action string) bool {
	if role == schema.RoleGod {
		return true
	}
	_, ok := allowSets[role][action]
	return ok
}

// Actions lists the explicitly granted actions of role in sorted order.
// It returns nil for god, which is not restricted to a list.
func Actions(role schema.Role) []string {
	set, ok := allowSets[role]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// ParseRole validates a role name.
func ParseRole(s string) (schema.Role, bool) {
	switch r := schema.Role(s); r {
	case schema.RoleLite, schema.RoleDev, schema.RoleGod:
		return r, true
	}
	return "", false
}
