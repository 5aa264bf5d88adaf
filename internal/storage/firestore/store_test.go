//go:build integration

package firestore_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/tinywideclouds/go-push-worker/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-worker/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupSuite(t *testing.T) (context.Context, *firestore.Client, *fs.DeliveryStore) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)

	projectID := "test-push-worker"
	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return ctx, client, fs.NewDeliveryStore(client, newTestLogger())
}

func seedDelivery(t *testing.T, ctx context.Context, client *firestore.Client, id, userID, status string, createdAt time.Time) {
	t.Helper()
	_, err := client.Collection(fs.DeliveriesCollection).Doc(id).Set(ctx, map[string]any{
		"user_id":    userID,
		"channel":    dispatch.PushChannel,
		"status":     status,
		"payload":    map[string]any{"type": "PLAN_MEMBER_LEFT", "left_nickname": "Ann"},
		"created_at": createdAt,
	})
	require.NoError(t, err)
}

func TestDeliveryStore_Integration(t *testing.T) {
	ctx, client, store := setupSuite(t)
	base := time.Now().Add(-time.Hour)

	seedDelivery(t, ctx, client, "d2", "u1", "PENDING", base.Add(2*time.Minute))
	seedDelivery(t, ctx, client, "d1", "u1", "PENDING", base.Add(time.Minute))
	seedDelivery(t, ctx, client, "d0", "u1", "SENT", base)

	t.Run("Fetches pending deliveries oldest first", func(t *testing.T) {
		deliveries, err := store.FetchPendingDeliveries(ctx, 50)
		require.NoError(t, err)
		require.Len(t, deliveries, 2)
		assert.Equal(t, "d1", deliveries[0].ID)
		assert.Equal(t, "d2", deliveries[1].ID)
		assert.Equal(t, "Ann", deliveries[0].Payload["left_nickname"])
	})

	t.Run("Limit caps the batch", func(t *testing.T) {
		deliveries, err := store.FetchPendingDeliveries(ctx, 1)
		require.NoError(t, err)
		require.Len(t, deliveries, 1)
		assert.Equal(t, "d1", deliveries[0].ID)
	})

	t.Run("Patch leaves unspecified fields untouched", func(t *testing.T) {
		reason := "no device tokens"
		err := store.PatchDelivery(ctx, "d1", dispatch.DeliveryPatch{
			Status: dispatch.StatusSkipped,
			Reason: &reason,
			Debug:  &dispatch.DebugTrace{DeliveryID: "d1", UserID: "u1", Stage: "tokens", Attempts: []dispatch.Attempt{}},
		})
		require.NoError(t, err)

		snap, err := client.Collection(fs.DeliveriesCollection).Doc("d1").Get(ctx)
		require.NoError(t, err)
		data := snap.Data()
		assert.Equal(t, "SKIPPED", data["status"])
		assert.Equal(t, reason, data["reason"])
		assert.Equal(t, "u1", data["user_id"])
		debug := data["debug"].(map[string]any)
		assert.Equal(t, "tokens", debug["stage"])

		pending, err := store.FetchPendingDeliveries(ctx, 50)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "d2", pending[0].ID)
	})

	t.Run("Patching a missing delivery is a store error", func(t *testing.T) {
		err := store.PatchDelivery(ctx, "nope", dispatch.DeliveryPatch{Status: dispatch.StatusSent})
		assert.ErrorIs(t, err, dispatch.ErrStore)
	})
}

func TestUndecodableDeliveryStillReturned_Integration(t *testing.T) {
	ctx, client, store := setupSuite(t)
	base := time.Now().Add(-time.Hour)

	_, err := client.Collection(fs.DeliveriesCollection).Doc("bad").Set(ctx, map[string]any{
		"user_id":    "u9",
		"channel":    dispatch.PushChannel,
		"status":     "PENDING",
		"payload":    "not-a-map",
		"created_at": base,
	})
	require.NoError(t, err)
	seedDelivery(t, ctx, client, "good", "u1", "PENDING", base.Add(time.Minute))

	deliveries, err := store.FetchPendingDeliveries(ctx, 50)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	assert.Equal(t, "bad", deliveries[0].ID)
	assert.Equal(t, "u9", deliveries[0].UserID)
	assert.Nil(t, deliveries[0].Payload)
	assert.Equal(t, "good", deliveries[1].ID)

	reason := "no device tokens"
	require.NoError(t, store.PatchDelivery(ctx, "bad", dispatch.DeliveryPatch{Status: dispatch.StatusSkipped, Reason: &reason}))

	snap, err := client.Collection(fs.DeliveriesCollection).Doc("bad").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SKIPPED", snap.Data()["status"])

	pending, err := store.FetchPendingDeliveries(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "good", pending[0].ID)
}

func TestTokenLifecycle_Integration(t *testing.T) {
	ctx, _, store := setupSuite(t)

	require.NoError(t, store.RegisterToken(ctx, "u1", "token-android-1", dispatch.PlatformAndroid))
	require.NoError(t, store.RegisterToken(ctx, "u1", "token-ios-1", dispatch.PlatformIOS))
	require.NoError(t, store.RegisterToken(ctx, "u2", "token-other", dispatch.PlatformAndroid))

	tokens, err := store.FetchEnabledTokens(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, tokens, 2)

	require.NoError(t, store.DisableToken(ctx, "token-android-1"))
	// Idempotent, including for tokens that never existed.
	require.NoError(t, store.DisableToken(ctx, "token-android-1"))
	require.NoError(t, store.DisableToken(ctx, "never-registered"))

	tokens, err = store.FetchEnabledTokens(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "token-ios-1", tokens[0].Token)
	assert.Equal(t, dispatch.PlatformIOS, tokens[0].Platform)

	others, err := store.FetchEnabledTokens(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, others, 1)
}
