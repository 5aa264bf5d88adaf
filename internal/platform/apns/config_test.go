package apns_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-worker/internal/platform/apns"
)

func TestConfig(t *testing.T) {
	t.Run("Alert shape when notification is included", func(t *testing.T) {
		cfg := apns.Config(true, "Trip update", "Bring boots")

		raw, err := json.Marshal(cfg)
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"headers": {"apns-priority": "10"},
			"payload": {"aps": {"alert": {"title": "Trip update", "body": "Bring boots"}, "sound": "default"}}
		}`, string(raw))
	})

	t.Run("Silent shape carries no alert", func(t *testing.T) {
		cfg := apns.Config(false, "Ann left the plan", "ignored")

		raw, err := json.Marshal(cfg)
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"headers": {"apns-priority": "10"},
			"payload": {"aps": {"content-available": 1}}
		}`, string(raw))
		assert.NotContains(t, string(raw), "alert")
	})
}
