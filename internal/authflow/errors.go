// Package authflow drives the OAuth2 device-code grant without blocking the
// caller. Each authentication attempt is a session keyed by an arbitrary id,
// so one manager serves a single desktop user or many concurrent web
// sessions alike. Polling is caller-driven: a UI timer or an HTTP request
// calls PollStatus until the session reaches a terminal state.
package authflow

import "errors"

// Sentinel errors. Use errors.Is to check.
var (
	// ErrFlowInit is returned when a device flow cannot be started, most
	// commonly because the OAuth client id is missing or rejected by the
	// identity provider. The wrapped message carries the provider's literal
	// error description — client registration problems are the most common
	// real-world failure and must stay diagnosable.
	ErrFlowInit = errors.New("authflow: device flow initiation failed")

	// ErrNoSession is returned when the session id is unknown — never
	// started, already consumed, or garbage-collected after expiry.
	ErrNoSession = errors.New("authflow: no such session")
)
