package enroll

import (
	"github.com/rina-project/ipcpd/internal/cdap"
	"github.com/rina-project/ipcpd/pkg/ribtypes"
)

// ActionKind identifies one side effect Transition is asking its caller to
// perform. Transition never performs these itself.
type ActionKind int

const (
	// ActionSend asks the driver to write Action.Msg to the management flow.
	ActionSend ActionKind = iota
	// ActionStartTimer (re)arms the per-flow enrolment timer.
	ActionStartTimer
	// ActionCancelTimer disarms it.
	ActionCancelTimer
	// ActionResetSession discards any partially-buffered CDAP frame,
	// since an aborted enrolment may retry over the same transport flow.
	ActionResetSession
	// ActionCommitSelfEdge asks the RIB to install the (local,peer)
	// LowerFlow edge now that both sides agree on addresses.
	ActionCommitSelfEdge
	// ActionPushSnapshot asks the RIB to send its current DFT/LFDB/
	// Neighbor-Candidates snapshot to the newly enrolled neighbour.
	ActionPushSnapshot
	// ActionAdoptAddress asks the driver to record Action.Address as this
	// IPCP's own address (only happens to the initiator, handed an
	// address by the slave it enrolled against).
	ActionAdoptAddress
	// ActionRecordCandidate asks the RIB to remember Action.Candidate.
	ActionRecordCandidate
	// ActionDispatchToRIB hands an already-ENROLLED-state message (DFT/
	// LFDB/Neighbors/keepalive traffic) to the RIB's object handlers.
	ActionDispatchToRIB
	// ActionSignalDone wakes whatever goroutine is blocked waiting for
	// this enrolment to finish, with a nil error.
	ActionSignalDone
	// ActionSignalAborted wakes it with Action.Err. Only emitted once
	// retries (if any) are exhausted; see Transition's timeout handling.
	ActionSignalAborted
)

// Action is one instruction Transition returns for its caller to execute.
type Action struct {
	Kind      ActionKind
	Msg       *cdap.Message
	Address   uint64
	Candidate ribtypes.NeighborCandidate
	Err       error
}
