package dispatch

import "errors"

var (
	// ErrAuth means no gateway access token could be obtained. It aborts an invocation.
	ErrAuth = errors.New("gateway auth failed")
	// ErrStore wraps any read or write failure against the delivery store.
	ErrStore = errors.New("store request failed")
	// ErrNoTokens marks a delivery whose recipient has no enabled device tokens.
	ErrNoTokens = errors.New("no device tokens")
	// ErrGateway is a non-success response from the push gateway.
	ErrGateway = errors.New("gateway rejected message")
	// ErrTransport is a network failure while talking to the push gateway.
	ErrTransport = errors.New("gateway transport failed")
	// ErrAlreadyRunning is returned when an invocation overlaps a running one.
	ErrAlreadyRunning = errors.New("invocation already running")
)
