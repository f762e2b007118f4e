package rib

import (
	"context"

	"github.com/rina-project/ipcpd/pkg/ribtypes"
)

// addressPool hands out addresses from a fixed [start, end] range,
// avoiding anything already held locally or by a known candidate.
type addressPool struct {
	start, end ribtypes.Address
	next       ribtypes.Address
}

func newAddressPool(start, end ribtypes.Address) *addressPool {
	return &addressPool{start: start, end: end, next: start}
}

// AllocateAddress returns a fresh address not currently held by any
// neighbor candidate or local entity, satisfying the RIBHooks contract
// used during enrolment (SPEC_FULL.md §4.3) and exposed for direct
// kernel-driven "assign me an address" requests.
func (r *RIB) AllocateAddress(_ context.Context) (ribtypes.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allocateAddressLocked()
}

func (r *RIB) allocateAddressLocked() (ribtypes.Address, error) {
	if r.pool.start == 0 || r.pool.end < r.pool.start {
		return 0, ErrPoolExhausted
	}
	held := r.heldAddressesLocked()
	for i := ribtypes.Address(0); i <= r.pool.end-r.pool.start; i++ {
		candidate := r.pool.start + (r.pool.next-r.pool.start+i)%(r.pool.end-r.pool.start+1)
		if candidate == 0 || candidate == r.localAddress || held[candidate] {
			continue
		}
		r.pool.next = candidate + 1
		return candidate, nil
	}
	return 0, ErrPoolExhausted
}

// heldAddressesLocked returns the set of addresses already claimed by a
// known candidate; allocateAddressLocked skips the local address
// separately. Together these are the only collision-avoidance guarantee
// address_allocate makes (spec.md §4.4).
func (r *RIB) heldAddressesLocked() map[ribtypes.Address]bool {
	held := make(map[ribtypes.Address]bool, len(r.candidates)+1)
	for _, c := range r.candidates {
		if c.Address != 0 {
			held[c.Address] = true
		}
	}
	return held
}

// SetAddress changes the local address, rewrites every local-flagged DFT
// entry to the new address with a bumped timestamp, and returns the
// rewritten entries so the caller can propagate the delta (spec.md
// §4.4's set_address). The RIB mutex is released before propagation.
func (r *RIB) SetAddress(ctx context.Context, newAddress ribtypes.Address) ([]ribtypes.DFTEntry, error) {
	r.mu.Lock()
	old := r.localAddress
	r.localAddress = newAddress

	var rewritten []ribtypes.DFTEntry
	for key, entry := range r.dft {
		if !entry.LocalFlag || entry.Address != old {
			continue
		}
		delete(r.dft, key)
		entry.Address = newAddress
		entry.Timestamp = now()
		r.dft[entry.Key()] = entry
		rewritten = append(rewritten, entry)
	}
	r.mu.Unlock()

	if len(rewritten) > 0 {
		r.neighsSyncObjAll(ctx, true, dftObjectUpdate(rewritten))
	}
	return rewritten, nil
}
