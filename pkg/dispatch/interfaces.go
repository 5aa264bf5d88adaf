// --- File: pkg/dispatch/interfaces.go ---
package dispatch

import (
	"context"
)

// DeliveryStore defines the contract for the delivery queue and the device-token registry.
// Every mutation is a single-row patch keyed by delivery id or exact token value.
type DeliveryStore interface {
	// FetchPendingDeliveries returns up to limit PENDING deliveries on the push channel,
	// oldest first.
	FetchPendingDeliveries(ctx context.Context, limit int) ([]Delivery, error)

	// FetchEnabledTokens returns the enabled device tokens of a user in store order.
	FetchEnabledTokens(ctx context.Context, userID string) ([]DeviceToken, error)

	// PatchDelivery applies a partial update. Nil fields of the patch are left untouched.
	PatchDelivery(ctx context.Context, id string, patch DeliveryPatch) error

	// DisableToken sets enabled=false for the exact token value. It must be idempotent.
	DisableToken(ctx context.Context, token string) error
}

// TokenSource hands out bearer tokens for the push gateway.
type TokenSource interface {
	AccessToken(ctx context.Context) (AccessToken, error)
}

// Sender delivers one built message to the push gateway.
// Failures are reported in the SendResult, never as a returned error.
type Sender interface {
	Send(ctx context.Context, accessToken string, msg *Message) SendResult
}
