package postgrest_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-worker/internal/storage/postgrest"
	"github.com/tinywideclouds/go-push-worker/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T, handler http.HandlerFunc) *postgrest.DeliveryStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := postgrest.NewDeliveryStore(postgrest.Config{
		BaseURL:    server.URL + "/",
		ServiceKey: "service-key",
	}, server.Client(), newTestLogger())
	require.NoError(t, err)
	return store
}

func assertAuthHeaders(t *testing.T, r *http.Request) {
	assert.Equal(t, "service-key", r.Header.Get("apikey"))
	assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
}

func TestNewDeliveryStore_RequiresCredentials(t *testing.T) {
	_, err := postgrest.NewDeliveryStore(postgrest.Config{BaseURL: "http://localhost"}, nil, newTestLogger())
	assert.Error(t, err)
}

func TestFetchPendingDeliveries(t *testing.T) {
	ctx := context.Background()

	t.Run("Builds the filtered ordered query", func(t *testing.T) {
		store := newStore(t, func(w http.ResponseWriter, r *http.Request) {
			assertAuthHeaders(t, r)
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/rest/v1/notification_deliveries", r.URL.Path)
			q := r.URL.Query()
			assert.Equal(t, "id,user_id,payload", q.Get("select"))
			assert.Equal(t, "eq.PUSH", q.Get("channel"))
			assert.Equal(t, "eq.PENDING", q.Get("status"))
			assert.Equal(t, "created_at.asc", q.Get("order"))
			assert.Equal(t, "50", q.Get("limit"))

			_, _ = w.Write([]byte(`[
				{"id":"d1","user_id":"u1","payload":{"type":"PLAN_MEMBER_LEFT","left_nickname":"Ann"}},
				{"id":"d2","user_id":"u2","payload":null}
			]`))
		})

		deliveries, err := store.FetchPendingDeliveries(ctx, 50)
		require.NoError(t, err)
		require.Len(t, deliveries, 2)
		assert.Equal(t, "d1", deliveries[0].ID)
		assert.Equal(t, "u1", deliveries[0].UserID)
		assert.Equal(t, "Ann", deliveries[0].Payload["left_nickname"])
		assert.Equal(t, dispatch.StatusPending, deliveries[0].Status)
		assert.Nil(t, deliveries[1].Payload)
	})

	t.Run("Non-success response is a store error", func(t *testing.T) {
		store := newStore(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"JWT expired"}`))
		})

		_, err := store.FetchPendingDeliveries(ctx, 50)
		require.Error(t, err)
		assert.ErrorIs(t, err, dispatch.ErrStore)
		assert.Contains(t, err.Error(), "JWT expired")
	})

	t.Run("Malformed body is a store error", func(t *testing.T) {
		store := newStore(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{not json`))
		})

		_, err := store.FetchPendingDeliveries(ctx, 50)
		assert.ErrorIs(t, err, dispatch.ErrStore)
	})
}

func TestFetchEnabledTokens(t *testing.T) {
	store := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		assertAuthHeaders(t, r)
		assert.Equal(t, "/rest/v1/user_device_tokens", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "token,platform", q.Get("select"))
		assert.Equal(t, "eq.u1", q.Get("app_user_id"))
		assert.Equal(t, "eq.true", q.Get("enabled"))

		_, _ = w.Write([]byte(`[{"token":"t-ios","platform":"ios"},{"token":"t-and","platform":"android"}]`))
	})

	tokens, err := store.FetchEnabledTokens(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	// Store order is preserved.
	assert.Equal(t, "t-ios", tokens[0].Token)
	assert.Equal(t, dispatch.PlatformIOS, tokens[0].Platform)
	assert.Equal(t, dispatch.PlatformAndroid, tokens[1].Platform)
}

func TestPatchDelivery(t *testing.T) {
	ctx := context.Background()

	t.Run("Sends only supplied fields", func(t *testing.T) {
		var got map[string]any
		store := newStore(t, func(w http.ResponseWriter, r *http.Request) {
			assertAuthHeaders(t, r)
			assert.Equal(t, http.MethodPatch, r.Method)
			assert.Equal(t, "eq.d1", r.URL.Query().Get("id"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusNoContent)
		})

		err := store.PatchDelivery(ctx, "d1", dispatch.DeliveryPatch{
			Status: dispatch.StatusSent,
			Debug:  &dispatch.DebugTrace{DeliveryID: "d1", UserID: "u1", Attempts: []dispatch.Attempt{{Platform: "android", OK: true}}},
		})
		require.NoError(t, err)

		assert.Equal(t, "SENT", got["status"])
		assert.NotContains(t, got, "reason")
		debug := got["debug"].(map[string]any)
		assert.Equal(t, "d1", debug["delivery_id"])
		assert.Len(t, debug["attempts"], 1)
	})

	t.Run("Reason is included when set", func(t *testing.T) {
		var got map[string]any
		store := newStore(t, func(w http.ResponseWriter, r *http.Request) {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusNoContent)
		})

		reason := "no device tokens"
		require.NoError(t, store.PatchDelivery(ctx, "d1", dispatch.DeliveryPatch{Status: dispatch.StatusSkipped, Reason: &reason}))
		assert.Equal(t, "SKIPPED", got["status"])
		assert.Equal(t, reason, got["reason"])
	})

	t.Run("Empty patch makes no request", func(t *testing.T) {
		called := false
		store := newStore(t, func(w http.ResponseWriter, r *http.Request) { called = true })

		require.NoError(t, store.PatchDelivery(ctx, "d1", dispatch.DeliveryPatch{}))
		assert.False(t, called)
	})
}

func TestDisableToken(t *testing.T) {
	var rawQuery string
	var got map[string]any
	store := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/rest/v1/user_device_tokens", r.URL.Path)
		rawQuery = r.URL.RawQuery
		assert.Equal(t, "eq.abc:def/+=", r.URL.Query().Get("token"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, store.DisableToken(context.Background(), "abc:def/+="))
	assert.Equal(t, false, got["enabled"])
	assert.NotContains(t, rawQuery, "+=", "token must be url-encoded")
}
