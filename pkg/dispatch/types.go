// Package dispatch holds the domain model shared by the delivery worker's stores,
// the gateway sender and the orchestrator.
package dispatch

import (
	"time"
)

// PushChannel is the delivery channel handled by this worker.
const PushChannel = "PUSH"

// Status is the lifecycle state of a Delivery.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
)

// Terminal reports whether the worker may leave a delivery in this state.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusSkipped
}

// Platform of a registered device.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// Delivery is one queued notification for one recipient.
// Payload stays weakly typed here; the pipeline projects it into a typed variant.
type Delivery struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Payload   map[string]any `json:"payload"`
	Channel   string         `json:"channel,omitempty"`
	Status    Status         `json:"status,omitempty"`
	Reason    *string        `json:"reason,omitempty"`
	Debug     *DebugTrace    `json:"debug,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}

// DeviceToken is one device registration of a user.
type DeviceToken struct {
	Token    string   `json:"token"`
	Platform Platform `json:"platform"`
	UserID   string   `json:"app_user_id,omitempty"`
	Enabled  bool     `json:"enabled,omitempty"`
}

// DeliveryPatch is a partial update of a delivery row.
type DeliveryPatch struct {
	Status Status
	Reason *string
	Debug  *DebugTrace
}

// AccessToken is a short-lived gateway bearer token.
type AccessToken struct {
	Value     string    `json:"access_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the token is still usable for at least skew.
func (t AccessToken) Valid(now time.Time, skew time.Duration) bool {
	return t.Value != "" && now.Add(skew).Before(t.ExpiresAt)
}

// SendResult is the outcome of one gateway call.
// HTTPStatus is zero when no response was received.
type SendResult struct {
	OK           bool
	HTTPStatus   int
	ErrorText    string
	Unregistered bool
	// Err wraps ErrGateway or ErrTransport when OK is false.
	Err error
}

// Classification is the shape decision recorded in the debug trace.
type Classification struct {
	InternalInvite       bool `json:"internal_invite"`
	InviteResultForOwner bool `json:"invite_result_for_owner"`
	InviteeInteractive   bool `json:"invitee_interactive"`
	MemberLeft           bool `json:"member_left"`
	IncludeNotification  bool `json:"include_notification"`
}

// Attempt records one per-token gateway call.
type Attempt struct {
	Platform            string  `json:"platform"`
	IncludeNotification bool    `json:"include_notification"`
	OK                  bool    `json:"ok"`
	HTTPStatus          *int    `json:"http_status,omitempty"`
	ErrorShort          *string `json:"error_short,omitempty"`
}

// DebugTrace is persisted on every terminal transition.
type DebugTrace struct {
	At             time.Time       `json:"at"`
	DeliveryID     string          `json:"delivery_id"`
	UserID         string          `json:"user_id"`
	Stage          string          `json:"stage,omitempty"`
	Error          string          `json:"error,omitempty"`
	Classification *Classification `json:"classification,omitempty"`
	Attempts       []Attempt       `json:"attempts"`
}
