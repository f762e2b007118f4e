package rib

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/rina-project/ipcpd/internal/cdap"
	"github.com/rina-project/ipcpd/internal/logger"
	"github.com/rina-project/ipcpd/pkg/ribtypes"
)

// dftObjectUpdate builds the M_CREATE CDAP message carrying entries as
// the DFT object's nested value (spec.md §4.4 dft_handler/appl_register).
func dftObjectUpdate(entries []ribtypes.DFTEntry) *cdap.Message {
	wire := make([]cdap.DFTEntryWire, len(entries))
	for i, e := range entries {
		wire[i] = cdap.DFTEntryWire{ApplName: e.ApplName, Address: e.Address, Timestamp: e.Timestamp}
	}
	value, _ := cdap.EncodeDFTSlice(wire)
	return &cdap.Message{OpCode: cdap.MCreate, ObjClass: cdap.ObjClassDFT, ObjName: cdap.ObjNameDFT, ObjValue: value}
}

// dftObjectDelete builds the M_DELETE counterpart of dftObjectUpdate.
func dftObjectDelete(entries []ribtypes.DFTEntry) *cdap.Message {
	msg := dftObjectUpdate(entries)
	msg.OpCode = cdap.MDelete
	return msg
}

func lfdbObjectUpdate(flows []ribtypes.LowerFlow) *cdap.Message {
	wire := make([]cdap.LowerFlowWire, len(flows))
	for i, f := range flows {
		wire[i] = cdap.LowerFlowWire{
			SrcAddress: f.SrcAddress, DstAddress: f.DstAddress, Cost: f.Cost,
			SequenceNumber: f.SequenceNumber, Age: f.Age, State: f.State,
		}
	}
	value, _ := cdap.EncodeLFDBSlice(wire)
	return &cdap.Message{OpCode: cdap.MCreate, ObjClass: cdap.ObjClassLFDB, ObjName: cdap.ObjNameLFDB, ObjValue: value}
}

func neighborsObjectUpdate(candidates []ribtypes.NeighborCandidate) *cdap.Message {
	wire := make([]cdap.NeighborCandidateWire, len(candidates))
	for i, c := range candidates {
		wire[i] = cdap.NeighborCandidateWire{APN: c.APN, API: c.API, Address: c.Address, LowerDIFs: c.LowerDIFs}
	}
	value, _ := cdap.EncodeNeighborsSlice(wire)
	return &cdap.Message{OpCode: cdap.MCreate, ObjClass: cdap.ObjClassNeighbors, ObjName: cdap.ObjNameNeighbors, ObjValue: value}
}

// neighsSyncObjExcluding fans msg out to every registered neighbor except
// excluded, tolerating per-recipient send failures (spec.md §4.4: "Fan-out
// may drop a recipient whose send returns an error; the recipient's
// keepalive timer is still relied on to evict the dead peer.").
func (r *RIB) neighsSyncObjExcluding(ctx context.Context, excluded ribtypes.Address, msg *cdap.Message) {
	r.mu.RLock()
	targets := make([]fanOutTarget, 0, len(r.neighbors))
	for addr, sender := range r.neighbors {
		if addr == excluded {
			continue
		}
		targets = append(targets, fanOutTarget{addr: addr, flow: sender})
	}
	r.mu.RUnlock()

	fanOut(ctx, targets, msg)
}

// neighsSyncObjAll fans msg out to every registered neighbor.
func (r *RIB) neighsSyncObjAll(ctx context.Context, _ bool, msg *cdap.Message) {
	r.neighsSyncObjExcluding(ctx, 0, msg)
}

// PushSnapshot implements neighbor.RIBHooks: it chunks the RIB's current
// DFT/LFDB/Neighbor-Candidate contents into M_CREATE messages of at most
// syncChunkSize entries each and hands them to send, in that order
// (spec.md §4.4 sync_neigh, used as the post-enrolment full snapshot).
func (r *RIB) PushSnapshot(ctx context.Context, send func(*cdap.Message) error) error {
	r.mu.RLock()
	dftEntries := make([]ribtypes.DFTEntry, 0, len(r.dft))
	for _, e := range r.dft {
		dftEntries = append(dftEntries, e)
	}
	lfdbEntries := make([]ribtypes.LowerFlow, 0, len(r.lfdb))
	for _, f := range r.lfdb {
		lfdbEntries = append(lfdbEntries, f)
	}
	candidateEntries := make([]ribtypes.NeighborCandidate, 0, len(r.candidates))
	for _, c := range r.candidates {
		candidateEntries = append(candidateEntries, c)
	}
	chunk := r.syncChunkSize
	r.mu.RUnlock()

	for start := 0; start < len(dftEntries); start += chunk {
		end := min(start+chunk, len(dftEntries))
		if err := send(dftObjectUpdate(dftEntries[start:end])); err != nil {
			return err
		}
	}
	for start := 0; start < len(lfdbEntries); start += chunk {
		end := min(start+chunk, len(lfdbEntries))
		if err := send(lfdbObjectUpdate(lfdbEntries[start:end])); err != nil {
			return err
		}
	}
	for start := 0; start < len(candidateEntries); start += chunk {
		end := min(start+chunk, len(candidateEntries))
		if err := send(neighborsObjectUpdate(candidateEntries[start:end])); err != nil {
			return err
		}
	}
	return nil
}

// flowSender is the minimum surface neighsSyncObjExcluding needs from a
// registered neighbor's management flow, satisfied by *neighbor.Flow.
type flowSender interface {
	Send(ctx context.Context, msg *cdap.Message) error
}

type fanOutTarget struct {
	addr ribtypes.Address
	flow flowSender
}

// fanOut sends msg to every target concurrently via an errgroup
// (golang.org/x/sync/errgroup) so one slow neighbor cannot stall the
// others; per-recipient errors are logged, never returned, matching the
// "drop a recipient whose send returns an error" fan-out rule.
func fanOut(ctx context.Context, targets []fanOutTarget, msg *cdap.Message) {
	var g errgroup.Group
	for _, t := range targets {
		t := t
		g.Go(func() error {
			if err := t.flow.Send(ctx, msg); err != nil {
				logger.WarnCtx(ctx, "rib: fan-out send failed",
					logger.PeerAddress(uint64(t.addr)), logger.ObjClass(msg.ObjClass), logger.Err(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}
