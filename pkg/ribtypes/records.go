package ribtypes

// DFTEntry is a single Directory Forwarding Table record: which address
// hosts appl_name, and when that mapping was last asserted.
//
// Timestamp is the sole conflict-resolution key for two entries at the
// same (ApplName, Address) slot: the higher timestamp wins. LocalFlag
// marks entries this IPCP itself installed via an app-register request;
// they must always carry the local address (see RIB invariant in SPEC_FULL.md §3).
type DFTEntry struct {
	ApplName  Name
	Address   Address
	Timestamp int64
	LocalFlag bool
}

// Key identifies the DFT slot this entry occupies.
func (e DFTEntry) Key() DFTKey {
	return DFTKey{ApplName: e.ApplName.String(), Address: e.Address}
}

// DFTKey is the (name, address) slot a DFTEntry occupies. A name may have
// several DFTKeys at once (replica entries at different addresses), which
// is the whole point of DFT being a multi-mapping.
type DFTKey struct {
	ApplName string
	Address  Address
}

// LowerFlowState is the link-state health of a LowerFlow record.
type LowerFlowState int

const (
	// LowerFlowStateUnknown is the zero value and never valid on the wire.
	LowerFlowStateUnknown LowerFlowState = iota
	// LowerFlowStateActive means the edge is believed up.
	LowerFlowStateActive
	// LowerFlowStateFailed means the edge is believed down.
	LowerFlowStateFailed
)

// LowerFlow is a link-state record describing one edge of the DIF's
// topology graph, originated by SrcAddress.
//
// Conflict resolution is per-originator sequence number: a record with a
// greater SequenceNumber always overrides the local copy; at equal
// sequence numbers, LowerFlowStateActive overrides LowerFlowStateFailed.
type LowerFlow struct {
	SrcAddress     Address
	DstAddress     Address
	Cost           uint32
	SequenceNumber uint64
	Age            uint32
	State          LowerFlowState
}

// LowerFlowKey identifies the directed edge a LowerFlow describes.
type LowerFlowKey struct {
	Src Address
	Dst Address
}

// Key returns the (src,dst) slot this record occupies in the LFDB.
func (f LowerFlow) Key() LowerFlowKey {
	return LowerFlowKey{Src: f.SrcAddress, Dst: f.DstAddress}
}

// Supersedes reports whether candidate should replace current in the LFDB,
// per the sequence-number/state precedence rule.
func Supersedes(current, candidate LowerFlow) bool {
	if candidate.SequenceNumber != current.SequenceNumber {
		return candidate.SequenceNumber > current.SequenceNumber
	}
	return candidate.State == LowerFlowStateActive && current.State != LowerFlowStateActive
}

// NeighborCandidate is a peer this IPCP could reach if a common lower DIF
// exists: a name, its known address, and the lower DIFs it was seen over.
type NeighborCandidate struct {
	APN        string
	API        string
	Address    Address
	LowerDIFs  []string
}

// SharesLowerDIF reports whether the candidate and the local IPCP have at
// least one lower DIF in common, the precondition for being reachable.
func (c NeighborCandidate) SharesLowerDIF(localLowerDIFs []string) bool {
	for _, have := range localLowerDIFs {
		for _, want := range c.LowerDIFs {
			if have == want {
				return true
			}
		}
	}
	return false
}
