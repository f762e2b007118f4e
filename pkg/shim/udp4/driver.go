// Package udp4 implements the UDP shim IPCP: application names resolve to
// IPv4 addresses, each registered application listens on the fixed port
// FixedPort, and an inbound datagram from an unknown peer synthesises a
// flow-allocation-request up to the kernel (spec.md §4.5/§6, scenario S6).
package udp4

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rina-project/ipcpd/internal/kernelchan"
	"github.com/rina-project/ipcpd/internal/logger"
)

// udpConn is the subset of *net.UDPConn Driver needs, abstracted so tests
// can run the read loop over loopback sockets without binding FixedPort.
type udpConn interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	Close() error
}

// Driver is the shim-udp4 Driver (pkg/shim.Driver).
type Driver struct {
	resolver  *Resolver
	kernel    *kernelchan.Client
	localAddr net.IP
	listen    func(addr *net.UDPAddr) (udpConn, error)

	mu        sync.Mutex
	conns     map[string]udpConn // applName -> bound socket
	endpoints *endpointTable
}

// NewDriver constructs a shim-udp4 Driver bound to localAddr.
func NewDriver(resolver *Resolver, kernel *kernelchan.Client, localAddr net.IP) *Driver {
	return &Driver{
		resolver:  resolver,
		kernel:    kernel,
		localAddr: localAddr,
		listen:    defaultListen,
		conns:     make(map[string]udpConn),
		endpoints: newEndpointTable(),
	}
}

func defaultListen(addr *net.UDPAddr) (udpConn, error) {
	return net.ListenUDP("udp4", addr)
}

func (d *Driver) Name() string { return "shim-udp4" }

// RegisterApp opens the fixed-port socket backing applName's registration
// and starts its read loop. Mirrors RIB.ApplRegister's kernel-facing
// counterpart for this transport.
func (d *Driver) RegisterApp(ctx context.Context, applName string) error {
	d.mu.Lock()
	if _, exists := d.conns[applName]; exists {
		d.mu.Unlock()
		return fmt.Errorf("udp4: %q already registered", applName)
	}
	d.mu.Unlock()

	conn, err := d.listen(&net.UDPAddr{IP: d.localAddr, Port: FixedPort})
	if err != nil {
		return fmt.Errorf("udp4: listen for %q: %w", applName, err)
	}

	d.mu.Lock()
	d.conns[applName] = conn
	d.mu.Unlock()

	go d.readLoop(ctx, applName, conn)
	return nil
}

// UnregisterApp closes applName's socket and discards its endpoints.
func (d *Driver) UnregisterApp(applName string) error {
	d.mu.Lock()
	conn, exists := d.conns[applName]
	if !exists {
		d.mu.Unlock()
		return fmt.Errorf("udp4: %q not registered", applName)
	}
	delete(d.conns, applName)
	d.endpoints.deleteApp(applName)
	d.mu.Unlock()

	return conn.Close()
}

// Serve blocks until ctx is cancelled; registered applications' read loops
// run independently, started by RegisterApp as registrations happen.
func (d *Driver) Serve(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, conn := range d.conns {
		_ = conn.Close()
		delete(d.conns, name)
	}
	return nil
}

func (d *Driver) readLoop(ctx context.Context, applName string, conn udpConn) {
	buf := make([]byte, 65536)
	for {
		n, remoteAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				logger.Warn("udp4: read failed", "appl", applName, "error", err)
			}
			return
		}

		d.mu.Lock()
		_, known := d.endpoints.get(applName, remoteAddr.String())
		d.mu.Unlock()

		if !known {
			if oldKey, unanchored, found := d.findUnanchoredByHost(applName, remoteAddr); found {
				// S6/Redesign-Note transition: the well-known-port
				// datagram's endpoint is corrected to the ephemeral port
				// the peer actually sends from, not treated as a new peer.
				d.anchorEndpoint(ctx, applName, oldKey, unanchored, remoteAddr)
			} else {
				d.handleNewEndpoint(ctx, applName, remoteAddr)
			}
		}

		// Data delivery over an already-anchored endpoint's port-id is
		// in-kernel fast-path behaviour, out of scope here
		// (SPEC_FULL.md §11).
		_ = n
	}
}

// findUnanchoredByHost returns the un-anchored endpoint already tracked for
// remoteAddr's host under a different source port, if any.
func (d *Driver) findUnanchoredByHost(applName string, remoteAddr *net.UDPAddr) (string, *endpoint, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, ep := range d.endpoints.byAppl[applName] {
		if ep.anchored || key == remoteAddr.String() {
			continue
		}
		if ep.remote.IP.Equal(remoteAddr.IP) {
			return key, ep, true
		}
	}
	return "", nil, false
}

func (d *Driver) handleNewEndpoint(ctx context.Context, applName string, remoteAddr *net.UDPAddr) {
	resp, err := d.kernel.IssueRequest(ctx, kernelchan.MsgFAReqArrived, kernelchan.EncodeFARequest(kernelchan.FARequest{
		SrcPortID: 0,
		SrcAppl:   remoteAddr.String(),
		DstAppl:   applName,
	}))
	if err != nil {
		logger.Warn("udp4: kernel rejected implicit allocation", "appl", applName, "remote", remoteAddr, "error", err)
		return
	}
	kresp, err := kernelchan.DecodeFAResponse(resp.Payload)
	if err != nil {
		logger.Warn("udp4: malformed kernel FA_RESP", "error", err)
		return
	}

	d.mu.Lock()
	d.endpoints.set(applName, remoteAddr.String(), &endpoint{remote: remoteAddr, portID: kresp.DstPortID, anchored: false})
	d.mu.Unlock()
}

func (d *Driver) anchorEndpoint(ctx context.Context, applName, oldKey string, ep *endpoint, remoteAddr *net.UDPAddr) {
	d.mu.Lock()
	d.endpoints.delete(applName, oldKey)
	ep.remote = remoteAddr
	ep.anchored = true
	d.endpoints.set(applName, remoteAddr.String(), ep)
	d.mu.Unlock()

	if _, err := d.kernel.IssueRequest(ctx, kernelchan.MsgFlowCfgUpdate, kernelchan.EncodeFlowCfgUpdate(kernelchan.FlowCfgUpdate{PortID: ep.portID})); err != nil {
		logger.Warn("udp4: flow cfg update failed", "port_id", ep.portID, "error", err)
	}
}

// AllocateOutbound resolves remoteApplName, targets a new endpoint at its
// fixed port, and completes the kernel FA_REQ/FA_RESP round trip via
// Client.AllocateFlow, the outbound counterpart to handleNewEndpoint.
func (d *Driver) AllocateOutbound(ctx context.Context, applName, remoteApplName string) (uint32, error) {
	d.mu.Lock()
	_, registered := d.conns[applName]
	d.mu.Unlock()
	if !registered {
		return 0, fmt.Errorf("udp4: %q is not a locally registered application", applName)
	}

	ip, err := d.resolver.Resolve(remoteApplName)
	if err != nil {
		return 0, err
	}
	remoteAddr := &net.UDPAddr{IP: ip, Port: FixedPort}

	resp, err := d.kernel.AllocateFlow(ctx, 0, applName, remoteApplName)
	if err != nil {
		return 0, fmt.Errorf("udp4: allocate outbound flow: %w", err)
	}

	d.mu.Lock()
	d.endpoints.set(applName, remoteAddr.String(), &endpoint{remote: remoteAddr, portID: resp.DstPortID, anchored: true})
	d.mu.Unlock()

	return resp.DstPortID, nil
}
