// Package rib implements the Resource Information Base: the replicated,
// eventually-consistent store of DFT (application->address), LFDB
// (link-state topology) and Neighbor-Candidate records that gossip keeps
// in sync across enrolled peers. All mutation happens under a single
// mutex; propagation to neighbors is fanned out after the mutation that
// triggered it commits, never while the mutex is held.
package rib

import (
	"sync"
	"time"

	"github.com/rina-project/ipcpd/pkg/ribtypes"
)

// RIB is the per-IPCP resource information base: DFT, LFDB,
// Neighbor-Candidates, the registered-neighbors table used for fan-out,
// and this IPCP's own address/address-pool state.
//
// Structurally this is the teacher's pkg/registry.Registry pattern — one
// RWMutex guarding several named-resource maps, with register/lookup
// methods per map — specialized to the RIB's three object classes
// instead of share/cache/store maps.
type RIB struct {
	mu sync.RWMutex

	localAddress   ribtypes.Address
	localLowerDIFs []string
	syncChunkSize  int

	dft        map[ribtypes.DFTKey]ribtypes.DFTEntry
	lfdb       map[ribtypes.LowerFlowKey]ribtypes.LowerFlow
	candidates map[string]ribtypes.NeighborCandidate

	registered map[string]struct{} // local app names registered via ApplRegister

	// neighbors holds the current management-flow sender for each
	// enrolled peer, keyed by peer address. The caller (pkg/neighbor's
	// owner, typically cmd/ipcpd's wiring) registers/unregisters it as
	// enrolment completes or the mgmt flow is re-elected; the RIB itself
	// never constructs or owns a neighbor.Neighbor, which keeps this
	// package free to test fan-out against a fake sender.
	neighbors map[ribtypes.Address]flowSender

	pool *addressPool

	selfSeq uint64 // sequence counter for this IPCP's own LFDB edges
}

// Config is the fixed configuration an RIB is constructed with.
type Config struct {
	LocalAddress   ribtypes.Address
	LocalLowerDIFs []string
	PoolStart      ribtypes.Address
	PoolEnd        ribtypes.Address
	SyncChunkSize  int
}

// New constructs an empty RIB for one IPCP.
func New(cfg Config) *RIB {
	chunk := cfg.SyncChunkSize
	if chunk <= 0 {
		chunk = 64
	}
	return &RIB{
		localAddress:   cfg.LocalAddress,
		localLowerDIFs: cfg.LocalLowerDIFs,
		syncChunkSize:  chunk,
		dft:            make(map[ribtypes.DFTKey]ribtypes.DFTEntry),
		lfdb:           make(map[ribtypes.LowerFlowKey]ribtypes.LowerFlow),
		candidates:     make(map[string]ribtypes.NeighborCandidate),
		registered:     make(map[string]struct{}),
		neighbors:      make(map[ribtypes.Address]flowSender),
		pool:           newAddressPool(cfg.PoolStart, cfg.PoolEnd),
	}
}

// LocalAddress reports this IPCP's current address.
func (r *RIB) LocalAddress() ribtypes.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.localAddress
}

// RegisterNeighbor records sender as the current management-flow sender
// for addr, called once a Neighbor's management flow reaches ENROLLED or
// is re-elected after the previous one failed.
func (r *RIB) RegisterNeighbor(addr ribtypes.Address, sender flowSender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.neighbors[addr] = sender
}

// UnregisterNeighbor removes addr from the fan-out table, called when a
// Neighbor's last flow is pruned.
func (r *RIB) UnregisterNeighbor(addr ribtypes.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.neighbors, addr)
}

// RequireNeighbor reports ErrUnknownNeighbor if addr has no registered
// management-flow sender.
func (r *RIB) RequireNeighbor(addr ribtypes.Address) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.neighbors[addr]; !ok {
		return ErrUnknownNeighbor
	}
	return nil
}

// Snapshot returns copies of the RIB's DFT, LFDB and Neighbor-Candidate
// contents; the package's tests use it to inspect RIB state.
func (r *RIB) Snapshot() (dft []ribtypes.DFTEntry, lfdb []ribtypes.LowerFlow, candidates []ribtypes.NeighborCandidate) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.dft {
		dft = append(dft, e)
	}
	for _, f := range r.lfdb {
		lfdb = append(lfdb, f)
	}
	for _, c := range r.candidates {
		candidates = append(candidates, c)
	}
	return dft, lfdb, candidates
}

// now returns a wall-clock nanosecond timestamp for DFTEntry.Timestamp /
// LowerFlow sequencing. Kept as a var so tests can stub it.
var now = func() int64 { return time.Now().UnixNano() }
