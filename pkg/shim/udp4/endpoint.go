package udp4

import "net"

// endpoint tracks one remote peer a registered application is exchanging
// datagrams with. anchored implements spec.md §9's Redesign Note
// explicitly: false until the first inbound datagram confirms (or
// corrects) the remote port, after which the port must match exactly.
type endpoint struct {
	remote   *net.UDPAddr
	portID   uint32
	anchored bool
}

// endpointTable tracks endpoints per locally-registered application name,
// keyed by the remote address string (host:port).
type endpointTable struct {
	byAppl map[string]map[string]*endpoint
}

func newEndpointTable() *endpointTable {
	return &endpointTable{byAppl: make(map[string]map[string]*endpoint)}
}

func (t *endpointTable) get(applName, remoteKey string) (*endpoint, bool) {
	m, ok := t.byAppl[applName]
	if !ok {
		return nil, false
	}
	ep, ok := m[remoteKey]
	return ep, ok
}

func (t *endpointTable) set(applName, remoteKey string, ep *endpoint) {
	m, ok := t.byAppl[applName]
	if !ok {
		m = make(map[string]*endpoint)
		t.byAppl[applName] = m
	}
	m[remoteKey] = ep
}

func (t *endpointTable) delete(applName, remoteKey string) {
	if m, ok := t.byAppl[applName]; ok {
		delete(m, remoteKey)
	}
}

func (t *endpointTable) deleteApp(applName string) {
	delete(t.byAppl, applName)
}
