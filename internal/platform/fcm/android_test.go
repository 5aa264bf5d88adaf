package fcm_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-worker/internal/platform/fcm"
)

func decode(t *testing.T, v any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestAndroidConfig(t *testing.T) {
	t.Run("Notification block carries channel and sound", func(t *testing.T) {
		got := decode(t, fcm.AndroidConfig(true, "Title", "Body", "centry_invites_v6"))

		assert.Equal(t, "HIGH", got["priority"])
		notification, ok := got["notification"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "Title", notification["title"])
		assert.Equal(t, "Body", notification["body"])
		assert.Equal(t, "centry_invites_v6", notification["channel_id"])
		assert.Equal(t, "default", notification["sound"])
	})

	t.Run("Channel id is omitted when not configured", func(t *testing.T) {
		got := decode(t, fcm.AndroidConfig(true, "Title", "Body", ""))
		notification := got["notification"].(map[string]any)
		assert.NotContains(t, notification, "channel_id")
	})

	t.Run("Data-only shape has priority and nothing else", func(t *testing.T) {
		got := decode(t, fcm.AndroidConfig(false, "Title", "Body", "centry_invites_v6"))
		assert.Equal(t, map[string]any{"priority": "HIGH"}, got)
	})
}
