package rib

import (
	"context"
	"fmt"

	"github.com/rina-project/ipcpd/internal/cdap"
	"github.com/rina-project/ipcpd/pkg/ribtypes"
)

// ApplRegister installs a local DFT entry for name and pushes it to every
// enrolled neighbor as M_CREATE. Fails if a local entry for name already
// exists (spec.md §4.4 appl_register, req.reg=true branch).
func (r *RIB) ApplRegister(ctx context.Context, name ribtypes.Name) error {
	key := name.String()

	r.mu.Lock()
	if _, ok := r.registered[key]; ok {
		r.mu.Unlock()
		return ErrAlreadyRegistered
	}
	entry := ribtypes.DFTEntry{ApplName: name, Address: r.localAddress, Timestamp: now(), LocalFlag: true}
	r.dft[entry.Key()] = entry
	r.registered[key] = struct{}{}
	r.mu.Unlock()

	r.neighsSyncObjAll(ctx, true, dftObjectUpdate([]ribtypes.DFTEntry{entry}))
	return nil
}

// ApplUnregister removes the local DFT entry for name and pushes
// M_DELETE to every enrolled neighbor (spec.md §4.4 appl_register,
// req.reg=false branch).
func (r *RIB) ApplUnregister(ctx context.Context, name ribtypes.Name) error {
	key := name.String()

	r.mu.Lock()
	if _, ok := r.registered[key]; !ok {
		r.mu.Unlock()
		return ErrNotRegistered
	}
	entry := ribtypes.DFTEntry{ApplName: name, Address: r.localAddress}
	existing, ok := r.dft[entry.Key()]
	if ok {
		entry = existing
	}
	delete(r.dft, entry.Key())
	delete(r.registered, key)
	r.mu.Unlock()

	r.neighsSyncObjAll(ctx, false, dftObjectDelete([]ribtypes.DFTEntry{entry}))
	return nil
}

// DFTHandler applies an inbound M_CREATE/M_DELETE on the DFT object from
// senderAddress, per-entry keyed by (name, address). On add, an entry
// replaces the current slot only if absent or the incoming timestamp is
// greater; a losing incoming entry causes an M_DELETE of itself to be
// re-propagated to every neighbor except the sender. Accumulated applied adds/deletes are fanned out to
// every neighbor except the sender (spec.md §4.4 dft_handler).
func (r *RIB) DFTHandler(ctx context.Context, senderAddress ribtypes.Address, msg *cdap.Message) error {
	wire, err := cdap.DecodeDFTSlice(msg.ObjValue)
	if err != nil {
		return fmt.Errorf("rib: decode dft object: %w", err)
	}

	var applied, collided, deleted []ribtypes.DFTEntry

	r.mu.Lock()
	switch msg.OpCode {
	case cdap.MCreate:
		for _, w := range wire {
			incoming := ribtypes.DFTEntry{ApplName: w.ApplName, Address: w.Address, Timestamp: w.Timestamp}
			key := incoming.Key()
			existing, ok := r.dft[key]
			if !ok || w.Timestamp > existing.Timestamp {
				r.dft[key] = incoming
				applied = append(applied, incoming)
			} else if w.Timestamp < existing.Timestamp {
				collided = append(collided, incoming)
			}
			// Equal timestamps on distinct entries are treated as
			// already converged: neither applied nor collided.
		}
	case cdap.MDelete:
		for _, w := range wire {
			incoming := ribtypes.DFTEntry{ApplName: w.ApplName, Address: w.Address, Timestamp: w.Timestamp}
			key := incoming.Key()
			if _, ok := r.dft[key]; ok {
				delete(r.dft, key)
				deleted = append(deleted, incoming)
			}
		}
	default:
		r.mu.Unlock()
		return fmt.Errorf("rib: dft_handler: unexpected op %s", msg.OpCode)
	}
	r.mu.Unlock()

	if len(collided) > 0 {
		r.neighsSyncObjExcluding(ctx, senderAddress, dftObjectDelete(collided))
	}
	if len(applied) > 0 {
		r.neighsSyncObjExcluding(ctx, senderAddress, dftObjectUpdate(applied))
	}
	if len(deleted) > 0 {
		r.neighsSyncObjExcluding(ctx, senderAddress, dftObjectDelete(deleted))
	}
	return nil
}
