// Package enroll implements the neighbour enrolment state machine as a
// pure function of (state, event, context) -> (state, actions), per
// SPEC_FULL.md §4.3 and §9: Transition never performs I/O, starts a timer
// itself, or touches the RIB. Everything it decides to do is returned as
// data in an Action slice for the caller (pkg/neighbor's driver) to carry
// out.
package enroll

import "fmt"

// State is one node of the 8-state enrolment machine.
type State int

const (
	// StateNone is the idle state before enrolment begins.
	StateNone State = iota
	// StateIWaitConnectR: initiator sent M_CONNECT, awaiting M_CONNECT_R.
	StateIWaitConnectR
	// StateSWaitStart: slave sent M_CONNECT_R, awaiting the initiator's M_START.
	StateSWaitStart
	// StateIWaitStartR: initiator sent M_START, awaiting M_START_R.
	StateIWaitStartR
	// StateSWaitStopR: slave sent M_STOP, awaiting M_STOP_R.
	StateSWaitStopR
	// StateIWaitStop: initiator received M_START_R, awaiting M_STOP.
	StateIWaitStop
	// StateIWaitStart: initiator received a non-early M_STOP, awaiting a
	// follow-up M_START(status). Never exercised on the wire in practice;
	// see Transition's handling of this state.
	StateIWaitStart
	// StateEnrolled is the terminal, steady state: the neighbour is up.
	StateEnrolled
)

// String renders the state for logging.
func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateIWaitConnectR:
		return "I_WAIT_CONNECT_R"
	case StateSWaitStart:
		return "S_WAIT_START"
	case StateIWaitStartR:
		return "I_WAIT_START_R"
	case StateSWaitStopR:
		return "S_WAIT_STOP_R"
	case StateIWaitStop:
		return "I_WAIT_STOP"
	case StateIWaitStart:
		return "I_WAIT_START"
	case StateEnrolled:
		return "ENROLLED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Context carries everything Transition needs to decide an outcome but
// does not itself own: identity of the two endpoints, retry bookkeeping,
// and any value a preceding driver-side step already resolved (such as an
// address handed out by the RIB's allocator before this call).
type Context struct {
	// Initiator is true for the neighbour that sent the first M_CONNECT.
	Initiator bool
	// LocalAddress is this IPCP's own address in the DIF.
	LocalAddress uint64
	// LocalLowerDIFs are the lower DIFs this IPCP is willing to advertise.
	LocalLowerDIFs []string
	// PeerAddress is the neighbour's address, once learned.
	PeerAddress uint64
	// EnrollAttempts is the number of M_CONNECT attempts made so far,
	// including the current one; an initiator's abort is final once it
	// reaches MaxAttempts.
	EnrollAttempts int
	// MaxAttempts bounds EnrollAttempts before a final failure.
	MaxAttempts int
	// ResolvedPeerAddress is the address to hand the peer in M_START_R,
	// resolved by the driver (via the RIB's allocator) before calling
	// Transition when the peer's M_START carried address 0.
	ResolvedPeerAddress uint64
}
