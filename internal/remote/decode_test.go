package remote

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name       string
		item       map[string]any
		wantID     string
		wantTime   time.Time
		wantSolver string
	}{
		{
			name:     "bitbucket commit",
			item:     map[string]any{"hash": "abc", "date": "2015-01-05T10:00:00+01:00"},
			wantID:   "abc",
			wantTime: time.Date(2015, 1, 5, 9, 0, 0, 0, time.UTC),
		},
		{
			name:     "numeric id and epoch millis",
			item:     map[string]any{"id": json.Number("42"), "timestamp": json.Number("1420452000000")},
			wantID:   "42",
			wantTime: time.Date(2015, 1, 5, 10, 0, 0, 0, time.UTC),
		},
		{
			name:       "jira style with resolver",
			item:       map[string]any{"key": "OPS-1", "created": "2015-01-05T10:00:00.000+0000", "resolved_by": "bob@x.com"},
			wantID:     "OPS-1",
			wantTime:   time.Date(2015, 1, 5, 10, 0, 0, 0, time.UTC),
			wantSolver: "bob@x.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := DecodeEvent(tt.item)
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, event.ID)
			assert.True(t, tt.wantTime.Equal(event.Timestamp), "got %v", event.Timestamp)
			assert.Equal(t, tt.wantSolver, event.ResolvedBy)
			assert.Equal(t, tt.item, event.Fields)
		})
	}
}

func TestDecodeEvent_MissingFields(t *testing.T) {
	_, err := DecodeEvent(map[string]any{"date": "2015-01-05T10:00:00Z"})
	assert.ErrorContains(t, err, "no id")

	_, err = DecodeEvent(map[string]any{"id": "x"})
	assert.ErrorContains(t, err, "no timestamp")

	_, err = DecodeEvent(map[string]any{"id": "x", "date": "last tuesday"})
	assert.ErrorContains(t, err, "unparseable timestamp")
}

func TestLookupString(t *testing.T) {
	item := map[string]any{
		"author": map[string]any{
			"raw":  "Alice <alice@x.com>",
			"user": map[string]any{"display_name": "Alice A"},
		},
	}

	assert.Equal(t, "Alice A", LookupString(item, "author", "user", "display_name"))
	assert.Equal(t, "Alice <alice@x.com>", LookupString(item, "author", "raw"))
	assert.Equal(t, "", LookupString(item, "author", "missing"))
	assert.Equal(t, "", LookupString(item, "author", "raw", "deeper"))
}
