package neighbor

import (
	"context"
	"sync"

	"github.com/rina-project/ipcpd/pkg/ribtypes"
)

// Neighbor is a peer IPCP reachable over one or more management/data
// flows. Most neighbors have exactly one flow; several are possible when
// two lower DIFs connect the same pair of IPCPs. Exactly one flow is
// elected "mgmt": the one the enrolment handshake and RIB object traffic
// rides on.
type Neighbor struct {
	mu sync.RWMutex

	Name    ribtypes.Name
	Address ribtypes.Address

	flows      map[ribtypes.PortID]*Flow
	mgmtPortID ribtypes.PortID
	hasMgmt    bool
}

// NewNeighbor returns an empty Neighbor for name/address, with no flows yet.
func NewNeighbor(name ribtypes.Name, address ribtypes.Address) *Neighbor {
	return &Neighbor{
		Name:    name,
		Address: address,
		flows:   make(map[ribtypes.PortID]*Flow),
	}
}

// AddFlow registers a new flow under portID. The first flow added becomes
// the management flow; later flows are held as standby capacity in case
// the mgmt flow's underlying N-1 DIF fails.
func (n *Neighbor) AddFlow(portID ribtypes.PortID, flow *Flow) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.flows[portID] = flow
	if !n.hasMgmt {
		n.mgmtPortID = portID
		n.hasMgmt = true
	}
}

// RemoveFlow drops portID's flow, closing it and, if it was the mgmt
// flow, electing the next-lowest remaining port as the new one.
func (n *Neighbor) RemoveFlow(portID ribtypes.PortID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if f, ok := n.flows[portID]; ok {
		f.Close()
		delete(n.flows, portID)
	}

	if n.hasMgmt && n.mgmtPortID == portID {
		n.hasMgmt = false
		for candidate := range n.flows {
			if !n.hasMgmt || candidate < n.mgmtPortID {
				n.mgmtPortID = candidate
				n.hasMgmt = true
			}
		}
	}
}

// MgmtFlow returns the current management flow, or nil if the neighbor
// has no flows at all.
func (n *Neighbor) MgmtFlow() *Flow {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.hasMgmt {
		return nil
	}
	return n.flows[n.mgmtPortID]
}

// Flow returns the flow registered under portID, if any.
func (n *Neighbor) Flow(portID ribtypes.PortID) (*Flow, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	f, ok := n.flows[portID]
	return f, ok
}

// Enrolled reports whether the management flow has completed enrolment.
func (n *Neighbor) Enrolled() bool {
	f := n.MgmtFlow()
	return f != nil && f.State().String() == "ENROLLED"
}

// Close tears down every flow on the neighbor.
func (n *Neighbor) Close(_ context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, f := range n.flows {
		f.Close()
	}
	n.flows = make(map[ribtypes.PortID]*Flow)
	n.hasMgmt = false
}
