package dispatch

import (
	"firebase.google.com/go/v4/messaging"
	"github.com/sideshow/apns2/payload"
)

// Message is the FCM HTTP v1 message body for one device token.
// The firebase messaging types carry the v1 wire names, so they are used as-is.
type Message struct {
	Token        string                   `json:"token"`
	Notification *messaging.Notification  `json:"notification,omitempty"`
	Data         map[string]string        `json:"data"`
	Android      *messaging.AndroidConfig `json:"android,omitempty"`
	APNS         *APNSConfig              `json:"apns,omitempty"`
}

// APNSConfig is the apns block of a v1 message. Payload renders as {"aps": {...}}.
type APNSConfig struct {
	Headers map[string]string `json:"headers,omitempty"`
	Payload *payload.Payload  `json:"payload,omitempty"`
}

// HasOSNotification reports whether any part of the message would make the OS render a banner.
func (m *Message) HasOSNotification() bool {
	if m.Notification != nil {
		return true
	}
	return m.Android != nil && m.Android.Notification != nil
}
