// Package events holds the event normalization rules and the bounded event/state store.
package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/642studio/Veridis/pkg/schema"
)

const (
	defaultType    = "unknown"
	defaultSource  = "unknown"
	defaultMessage = "Event received"
)

// timestampLayouts are tried in order when parsing an inbound timestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalize turns an arbitrary inbound payload into a well-formed Event.
// It never fails: anything that is not an object degrades to the defaulted event.
// Raw JSON ([]byte, json.RawMessage) is decoded first; any other value is read
// through its JSON encoding, so maps of other element types and structs keep
// their fields.
func Normalize(input any, now time.Time) schema.Event {
	ev := schema.Event{
		Type:      defaultType,
		Source:    defaultSource,
		Level:     schema.LevelInfo,
		Message:   defaultMessage,
		Timestamp: now.UTC(),
	}

	data, ok := asObject(input)
	if !ok {
		return ev
	}

	ev.Type = nonBlank(data["type"], defaultType)
	ev.Source = nonBlank(data["source"], defaultSource)
	ev.Message = nonBlank(data["message"], defaultMessage)
	ev.Level = NormalizeLevel(data["level"])
	ev.Payload = cloneValue(data["payload"])
	if ts, ok := parseTimestamp(data["timestamp"]); ok {
		ev.Timestamp = ts
	}
	return ev
}

// NormalizeLevel returns the level named by v, or info for anything unrecognized.
func NormalizeLevel(v any) schema.Level {
	s, _ := v.(string)
	switch l := schema.Level(s); l {
	case schema.LevelInfo, schema.LevelWarning, schema.LevelCritical:
		return l
	}
	return schema.LevelInfo
}

func asObject(input any) (map[string]any, bool) {
	switch v := input.(type) {
	case map[string]any:
		return v, v != nil
	case json.RawMessage:
		return decodeObject(v)
	case []byte:
		return decodeObject(v)
	case nil:
		return nil, false
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		return decodeObject(raw)
	}
}

// decodeObject keeps numbers as json.Number so payload values are served
// back exactly as they were received.
func decodeObject(raw []byte) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil || m == nil {
		return nil, false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, false
	}
	return m, true
}

// nonBlank keeps string values verbatim unless they are empty after trimming.
func nonBlank(v any, fallback string) string {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func parseTimestamp(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
