package postgres

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-worker/pkg/dispatch"
)

func TestBuildPatch(t *testing.T) {
	t.Run("Status only", func(t *testing.T) {
		sql, args, err := buildPatch("d1", dispatch.DeliveryPatch{Status: dispatch.StatusSent})
		require.NoError(t, err)
		assert.Equal(t, "UPDATE notification_deliveries SET status = $1 WHERE id = $2::uuid", sql)
		assert.Equal(t, []any{"SENT", "d1"}, args)
	})

	t.Run("All fields in stable order", func(t *testing.T) {
		reason := "gateway send failed"
		sql, args, err := buildPatch("d1", dispatch.DeliveryPatch{
			Status: dispatch.StatusFailed,
			Reason: &reason,
			Debug:  &dispatch.DebugTrace{DeliveryID: "d1", UserID: "u1", Attempts: []dispatch.Attempt{}},
		})
		require.NoError(t, err)
		assert.Equal(t,
			"UPDATE notification_deliveries SET status = $1, reason = $2, debug = $3::jsonb WHERE id = $4::uuid",
			sql)
		require.Len(t, args, 4)
		assert.Equal(t, "FAILED", args[0])
		assert.Equal(t, reason, args[1])
		assert.Equal(t, "d1", args[3])

		var debug map[string]any
		require.NoError(t, json.Unmarshal([]byte(args[2].(string)), &debug))
		assert.Equal(t, "d1", debug["delivery_id"])
		assert.Equal(t, []any{}, debug["attempts"])
	})

	t.Run("Key columns are compared uncast so their indexes apply", func(t *testing.T) {
		sql, _, err := buildPatch("d1", dispatch.DeliveryPatch{Status: dispatch.StatusSent})
		require.NoError(t, err)
		assert.NotContains(t, sql, "id::text")
		assert.Contains(t, tokensQuery, "app_user_id = $1::uuid")
		assert.NotContains(t, tokensQuery, "app_user_id::text")
	})

	t.Run("Empty patch renders nothing", func(t *testing.T) {
		sql, args, err := buildPatch("d1", dispatch.DeliveryPatch{})
		require.NoError(t, err)
		assert.Empty(t, sql)
		assert.Nil(t, args)
	})
}
