package authflow

import (
	"sync"
	"time"
)

// State is the lifecycle position of one device-flow session.
// Pending is re-entered on every poll while the provider reports
// authorization_pending or slow_down; all other states are absorbing.
type State string

const (
	StatePending       State = "pending"
	StateAuthenticated State = "authenticated"
	StateExpired       State = "expired"
	StateDenied        State = "denied"
	StateError         State = "error"
)

// Terminal reports whether the state absorbs further polls.
func (s State) Terminal() bool {
	return s != StatePending
}

// Status is the result of one PollStatus call. Message carries the
// provider's error description verbatim when State is StateError.
type Status struct {
	State   State
	Message string
}

// FlowInfo is what a caller displays to the user after starting a flow.
type FlowInfo struct {
	UserCode        string
	VerificationURI string
	ExpiresIn       time.Duration
	Interval        time.Duration
}

// session is one in-flight authentication attempt. The mutex serializes
// polls for this session only: device-code redemption succeeds exactly
// once, so two concurrent polls must never race a redemption request.
// Sessions never share locks, keeping independent flows independent.
type session struct {
	mu sync.Mutex

	id              string
	deviceCode      string
	userCode        string
	verificationURI string
	interval        time.Duration
	startedAt       time.Time
	expiresAt       time.Time

	state   State
	message string
	// consumed is set after a terminal status has been returned to the
	// caller once, making the session eligible for pruning.
	consumed bool
}
