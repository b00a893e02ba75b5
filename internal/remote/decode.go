package remote

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rohankatakam/dashi/internal/errors"
	"github.com/rohankatakam/dashi/internal/models"
)

// Field names tried, in order, for the required parts of a RemoteEvent
var (
	idFields         = []string{"id", "hash", "key", "number"}
	timestampFields  = []string{"date", "timestamp", "created_on", "created", "updated_on"}
	resolvedByFields = []string{"resolved_by", "resolvedBy"}
)

// timestampLayouts covers RFC 3339 and the offset-without-colon form Jira uses
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
}

// DecodeEvent extracts the required fields of a paginated API item. The
// item itself is kept as the event's Fields.
func DecodeEvent(item map[string]any) (models.RemoteEvent, error) {
	event := models.RemoteEvent{Fields: item}

	for _, key := range idFields {
		if v, ok := item[key]; ok && v != nil {
			event.ID = stringValue(v)
			break
		}
	}
	if event.ID == "" {
		return models.RemoteEvent{}, errors.ValidationError("item has no id")
	}

	found := false
	for _, key := range timestampFields {
		v, ok := item[key]
		if !ok || v == nil {
			continue
		}
		ts, err := ParseTimestamp(v)
		if err != nil {
			return models.RemoteEvent{}, errors.ValidationErrorf("item %s: %v", event.ID, err)
		}
		event.Timestamp = ts
		found = true
		break
	}
	if !found {
		return models.RemoteEvent{}, errors.ValidationErrorf("item %s has no timestamp", event.ID)
	}

	for _, key := range resolvedByFields {
		if v, ok := item[key]; ok && v != nil {
			event.ResolvedBy = stringValue(v)
			break
		}
	}

	return event, nil
}

// ParseTimestamp accepts an ISO 8601 string or epoch milliseconds and
// returns the instant in UTC.
func ParseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case string:
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", t)
	case json.Number:
		ms, err := t.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("unparseable timestamp %s", t)
		}
		return time.UnixMilli(ms).UTC(), nil
	case float64:
		return time.UnixMilli(int64(t)).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Lookup walks nested objects, e.g. Lookup(item, "author", "raw")
func Lookup(item map[string]any, path ...string) (any, bool) {
	var current any = item
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok || current == nil {
			return nil, false
		}
	}
	return current, true
}

// LookupString is Lookup for string leaves
func LookupString(item map[string]any, path ...string) string {
	v, ok := Lookup(item, path...)
	if !ok {
		return ""
	}
	return stringValue(v)
}
