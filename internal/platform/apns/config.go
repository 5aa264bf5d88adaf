// Package apns shapes the iOS part of a gateway message.
package apns

import (
	"strconv"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"

	"github.com/tinywideclouds/go-push-worker/pkg/dispatch"
)

const (
	HeaderPriority = "apns-priority"
	DefaultSound   = "default"
)

// Config builds the apns block. With include the OS shows an alert with the default sound,
// otherwise the push is silent (content-available) and the app renders it from data.
// Both shapes are sent at immediate priority.
func Config(include bool, title, body string) *dispatch.APNSConfig {
	var aps *payload.Payload
	if include {
		aps = payload.NewPayload().
			AlertTitle(title).
			AlertBody(body).
			Sound(DefaultSound)
	} else {
		aps = payload.NewPayload().ContentAvailable()
	}

	return &dispatch.APNSConfig{
		Headers: map[string]string{HeaderPriority: strconv.Itoa(apns2.PriorityHigh)},
		Payload: aps,
	}
}
