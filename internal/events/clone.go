package events

import "github.com/642studio/Veridis/pkg/schema"

// cloneValue deep-copies the JSON-shaped values (objects and arrays) that can
// appear in an event payload. Scalars, json.Number included, are returned as is.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}

func cloneEvent(ev schema.Event) schema.Event {
	ev.Payload = cloneValue(ev.Payload)
	return ev
}
