// Package fcm shapes the Android part of a gateway message and sends messages to the
// FCM HTTP v1 API.
package fcm

import (
	"firebase.google.com/go/v4/messaging"
)

const (
	PriorityHigh = "HIGH"
	DefaultSound = "default"
)

// AndroidConfig builds the android block. Without include there is no notification
// block, so the OS never auto-renders the message.
func AndroidConfig(include bool, title, body, channelID string) *messaging.AndroidConfig {
	cfg := &messaging.AndroidConfig{Priority: PriorityHigh}
	if !include {
		return cfg
	}
	cfg.Notification = &messaging.AndroidNotification{
		Title:     title,
		Body:      body,
		ChannelID: channelID,
		Sound:     DefaultSound,
	}
	return cfg
}
