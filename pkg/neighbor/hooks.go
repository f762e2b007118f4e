// Package neighbor drives one enrolled (or enrolling) peer: the set of
// management/data flows to it, the CDAP session on each, and the
// enrolment FSM from pkg/enroll. It never imports pkg/rib directly —
// everything it needs to do to the RIB goes through the RIBHooks
// interface injected at construction, so the ownership direction stays
// RIB -> Neighbor -> Flow with no back-pointers (SPEC_FULL.md §9).
package neighbor

import (
	"context"

	"github.com/rina-project/ipcpd/internal/cdap"
	"github.com/rina-project/ipcpd/pkg/ribtypes"
)

// RIBHooks is the set of RIB operations a Flow's enrolment driver needs to
// call while executing enroll.Action values. pkg/rib's RIB type implements
// this; tests can supply a fake.
type RIBHooks interface {
	// AllocateAddress hands out a fresh address for a peer that requested
	// one (advertised address 0 in its M_START), per the address pool +
	// candidate-set collision check described in SPEC_FULL.md §4.3.
	AllocateAddress(ctx context.Context) (ribtypes.Address, error)
	// CommitSelfEdge installs the (local, peer) LowerFlow edge once an
	// enrolment completes.
	CommitSelfEdge(ctx context.Context, peerAddress ribtypes.Address, cost uint32) error
	// PushSnapshot sends the RIB's current DFT/LFDB/Neighbor-Candidates
	// state to the given flow, newly enrolled.
	PushSnapshot(ctx context.Context, send func(*cdap.Message) error) error
	// RecordCandidate remembers a neighbor candidate learned during
	// enrolment or from a Neighbors-object push.
	RecordCandidate(ctx context.Context, candidate ribtypes.NeighborCandidate) error
	// Dispatch hands an ENROLLED-state CDAP message (DFT/LFDB/Neighbors/
	// keepalive object traffic) to the RIB's object handlers.
	Dispatch(ctx context.Context, peerAddress ribtypes.Address, msg *cdap.Message) error
	// MarkEdgeFailed records that the LowerFlow edge to peerAddress is no
	// longer believed up, following a missed-keepalive threshold.
	MarkEdgeFailed(ctx context.Context, peerAddress ribtypes.Address)
}
