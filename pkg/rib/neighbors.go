package rib

import (
	"context"
	"fmt"

	"github.com/rina-project/ipcpd/internal/cdap"
	"github.com/rina-project/ipcpd/pkg/ribtypes"
)

// NeighborsHandler applies an inbound M_CREATE on the Neighbors object:
// self-entries are ignored, and candidates without a lower DIF in common
// with this IPCP are discarded since they cannot be reached without
// another layer (spec.md §4.4 neighbors_handler).
func (r *RIB) NeighborsHandler(ctx context.Context, msg *cdap.Message) error {
	if msg.OpCode != cdap.MCreate {
		return fmt.Errorf("rib: neighbors_handler: unexpected op %s", msg.OpCode)
	}

	wire, err := cdap.DecodeNeighborsSlice(msg.ObjValue)
	if err != nil {
		return fmt.Errorf("rib: decode neighbors object: %w", err)
	}

	for _, w := range wire {
		candidate := ribtypes.NeighborCandidate{APN: w.APN, API: w.API, Address: w.Address, LowerDIFs: w.LowerDIFs}
		_ = r.RecordCandidate(ctx, candidate)
	}
	return nil
}

// RecordCandidate implements neighbor.RIBHooks: it remembers a neighbor
// candidate learned during enrolment or from a Neighbors-object push,
// ignoring self-entries and candidates sharing no lower DIF with this
// IPCP (spec.md §4.4 neighbors_handler).
func (r *RIB) RecordCandidate(_ context.Context, candidate ribtypes.NeighborCandidate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if candidate.Address == r.localAddress {
		return nil
	}
	if !candidate.SharesLowerDIF(r.localLowerDIFs) {
		return nil
	}
	r.candidates[candidate.APN+"|"+candidate.API] = candidate
	return nil
}

// Dispatch implements neighbor.RIBHooks: it routes an ENROLLED-state
// CDAP message to the matching RIB object handler, or answers a
// keepalive M_READ directly with M_READ_R (spec.md §4.4
// keepalive_handler).
func (r *RIB) Dispatch(ctx context.Context, peerAddress ribtypes.Address, msg *cdap.Message) error {
	switch msg.ObjClass {
	case cdap.ObjClassDFT:
		return r.DFTHandler(ctx, peerAddress, msg)
	case cdap.ObjClassLFDB:
		return r.LFDBHandler(ctx, peerAddress, msg)
	case cdap.ObjClassNeighbors:
		return r.NeighborsHandler(ctx, msg)
	default:
		return fmt.Errorf("rib: dispatch: unknown object class %q", msg.ObjClass)
	}
}
