package models

import (
	"encoding/json"
	"testing"

	"github.com/dmitrijs2005/fedisync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemFromRaw(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		wantID string
		err    bool
	}{
		{"object", `{"id":"109","content":"x"}`, "109", false},
		{"bare string", `"110"`, "110", false},
		{"bare number", `111`, "111", false},
		{"numeric id", `{"id": 5}`, "5", false},
		{"object without id", `{"content":"x"}`, "", true},
		{"empty string", `""`, "", true},
		{"array", `[1]`, "", true},
		{"empty", ``, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := ItemFromRaw(json.RawMessage(tt.raw))
			if tt.err {
				require.ErrorIs(t, err, common.ErrInvalidDocument)
				return
			}
			require.NoError(t, err)
			id, ok := item.ID()
			require.True(t, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestItemAccessors(t *testing.T) {
	item := Item{"id": "1", "account": map[string]any{"url": "https://d/@bob"}, "n": 2}
	assert.Equal(t, "1", item.String("id"))
	assert.Equal(t, "", item.String("n"))
	assert.Equal(t, "https://d/@bob", item.Object("account").String("url"))
	assert.Nil(t, item.Object("missing"))
}

func TestSource(t *testing.T) {
	assert.Equal(t, "bob@example.org", Source("@bob", "example.org"))
	assert.Equal(t, "bob@example.org", Source("bob", "example.org"))
}
