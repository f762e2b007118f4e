package enroll

import "errors"

// Timing constants from SPEC_FULL.md §4.3, carried over unchanged from the
// values the original implementation used.
const (
	// KeepaliveInterval is the period between keepalive probes on an
	// ENROLLED neighbour flow.
	KeepaliveInterval = 5000 // milliseconds
	// KeepaliveThreshold is the number of consecutive missed keepalives
	// before a neighbour flow is declared dead.
	KeepaliveThreshold = 3
	// Timeout is how long a flow waits for a response before aborting and,
	// for an initiator, retrying.
	Timeout = 1500 // milliseconds
	// MaxAttempts bounds the number of M_CONNECT attempts an initiator
	// makes before giving up.
	MaxAttempts = 3
)

// ErrProtocolViolation means a message arrived that the current state does
// not accept.
var ErrProtocolViolation = errors.New("enroll: protocol violation")

// ErrTimeout means the enrolment timer fired before the expected response
// arrived.
var ErrTimeout = errors.New("enroll: timed out waiting for peer")

// ErrAttemptsExhausted means the initiator retried MaxAttempts times
// without success.
var ErrAttemptsExhausted = errors.New("enroll: exceeded maximum connect attempts")
