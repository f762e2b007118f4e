package commands

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rina-project/ipcpd/internal/kernelchan"
	"github.com/rina-project/ipcpd/internal/logger"
	"github.com/rina-project/ipcpd/pkg/config"
	"github.com/rina-project/ipcpd/pkg/enroll"
	"github.com/rina-project/ipcpd/pkg/eventloop"
	"github.com/rina-project/ipcpd/pkg/neighbor"
	"github.com/rina-project/ipcpd/pkg/rib"
	"github.com/rina-project/ipcpd/pkg/ribtypes"
	"github.com/rina-project/ipcpd/pkg/shim"
	"github.com/rina-project/ipcpd/pkg/shim/hv"
	"github.com/rina-project/ipcpd/pkg/shim/udp4"
)

// lowerFlowStaleAge is how many aging ticks a FAILED LFDB edge survives
// before PruneStaleLowerFlows evicts it.
const lowerFlowStaleAge = 300

// daemon wires the kernel control channel, the RIB, the event loop and
// the shim registry into one running normal IPCP. It implements the
// three narrow interfaces pkg/ctrlsock.Config expects (Enroller,
// ApplRegistrar, DriverController), so that package never imports
// pkg/enroll, pkg/neighbor, pkg/rib or pkg/shim directly.
type daemon struct {
	cfg    *config.Config
	kernel *kernelchan.Client
	rib    *rib.RIB
	loop   *eventloop.EventLoop
	shims  *shim.Registry

	mu        sync.Mutex
	neighbors map[string]*neighbor.Neighbor // by peer Name.String()
	byPort    map[uint32]*neighbor.Flow
}

func newDaemon(cfg *config.Config, kernel *kernelchan.Client, r *rib.RIB, loop *eventloop.EventLoop, shims *shim.Registry) *daemon {
	return &daemon{
		cfg:       cfg,
		kernel:    kernel,
		rib:       r,
		loop:      loop,
		shims:     shims,
		neighbors: make(map[string]*neighbor.Neighbor),
		byPort:    make(map[uint32]*neighbor.Flow),
	}
}

// Enroll implements pkg/ctrlsock.Enroller: it allocates an N-1 flow to
// neighborName over supportingDIF, drives the initiator side of the
// enrolment handshake, and on success registers the neighbor's
// management flow as the RIB's fan-out target for its address.
//
// Grounded on Neighbor::alloc_flow (uipcp-normal-enroll.cpp): the local
// and peer IPCP names double as the management flow's application names,
// so there is no separate "management AE" to register.
func (d *daemon) Enroll(ctx context.Context, neighborName, supportingDIF string) error {
	peerName := ribtypes.Name{APN: neighborName}

	resp, err := d.kernel.AllocateFlow(ctx, 0, d.cfg.IPCP.APN, neighborName)
	if err != nil {
		return fmt.Errorf("ipcpd: allocate flow to %s: %w", neighborName, err)
	}

	writer := kernelchan.NewFlowWriter(d.kernel, resp.DstPortID)
	flow := neighbor.NewFlow(true, d.rib.LocalAddress(), d.cfg.IPCP.LowerDIFs, d.enrollMaxAttempts(), writer, d.rib)

	nb := neighbor.NewNeighbor(peerName, 0)
	nb.AddFlow(ribtypes.PortID(resp.DstPortID), flow)

	d.mu.Lock()
	d.neighbors[peerName.String()] = nb
	d.byPort[resp.DstPortID] = flow
	d.mu.Unlock()

	if err := flow.StartEnrollment(ctx); err != nil {
		d.removeFlow(resp.DstPortID)
		return fmt.Errorf("ipcpd: enrolment with %s failed: %w", neighborName, err)
	}

	addr := flow.PeerAddress()
	nb.Address = addr
	d.rib.RegisterNeighbor(addr, flow)
	go flow.RunKeepalive(ctx)

	logger.Info("ipcpd: enrolled", "neighbor", neighborName, "address", addr, "supporting_dif", supportingDIF)
	return nil
}

func (d *daemon) enrollMaxAttempts() int {
	if d.cfg.Enroll.MaxAttempts > 0 {
		return d.cfg.Enroll.MaxAttempts
	}
	return 3
}

// ApplRegister implements pkg/ctrlsock.ApplRegistrar: forward the
// (un)registration to the kernel and, on success, mirror it into the RIB
// so it is advertised to every enrolled neighbor (spec.md §4.4).
func (d *daemon) ApplRegister(ctx context.Context, applName string, register bool) error {
	if err := d.kernel.ApplRegister(ctx, applName, register); err != nil {
		return err
	}
	name := ribtypes.Name{APN: applName}
	if register {
		return d.rib.ApplRegister(ctx, name)
	}
	return d.rib.ApplUnregister(ctx, name)
}

// StartDriver implements pkg/ctrlsock.DriverController.
func (d *daemon) StartDriver(ctx context.Context, name string) error {
	driver, err := d.shimFactory(name)
	if err != nil {
		return err
	}
	return d.shims.Start(ctx, driver)
}

// StopDriver implements pkg/ctrlsock.DriverController.
func (d *daemon) StopDriver(ctx context.Context, name string) error {
	return d.shims.Stop(ctx, name)
}

// shimFactory constructs a shim Driver instance for name from this
// instance's configuration, bridging shim.Registry.Start's instance-based
// API to ctrlsock's name-based CREATE command.
func (d *daemon) shimFactory(name string) (shim.Driver, error) {
	switch name {
	case "shim-hv":
		cfg := d.cfg.Shims.HV
		listener, err := hv.ListenVsock(cfg.ControlPort)
		if err != nil {
			return nil, fmt.Errorf("ipcpd: shim-hv listen: %w", err)
		}
		return hv.NewDriver(listener, hv.DialVsock, d.kernel), nil

	case "shim-udp4":
		cfg := d.cfg.Shims.UDP4
		localAddr := net.ParseIP(cfg.ListenAddr)
		if localAddr == nil {
			return nil, fmt.Errorf("ipcpd: shim-udp4 listen_addr %q is not a valid IPv4 address", cfg.ListenAddr)
		}
		return udp4.NewDriver(udp4.NewResolver(cfg.Resolver), d.kernel, localAddr), nil

	default:
		return nil, fmt.Errorf("ipcpd: unknown shim driver %q", name)
	}
}

// startEnabledShims starts every shim this instance's configuration
// enables, rather than waiting for an external ctrlsock CREATE command.
func (d *daemon) startEnabledShims(ctx context.Context) error {
	if d.cfg.Shims.HV.Enabled {
		if err := d.StartDriver(ctx, "shim-hv"); err != nil {
			return err
		}
		logger.Info("ipcpd: shim started", "driver", "shim-hv")
	}
	if d.cfg.Shims.UDP4.Enabled {
		if err := d.StartDriver(ctx, "shim-udp4"); err != nil {
			return err
		}
		logger.Info("ipcpd: shim started", "driver", "shim-udp4")
	}
	return nil
}

// bootstrapNeighbors enrolls every statically-configured neighbor,
// logging rather than failing startup on an individual failure so one
// unreachable peer does not block the rest (SPEC_FULL.md §10, recovered
// from the original's static rina-config.c neighbor list).
func (d *daemon) bootstrapNeighbors(ctx context.Context) {
	for _, n := range d.cfg.Enroll.Neighbors {
		go func(n config.BootstrapNeighbor) {
			if err := d.Enroll(ctx, n.APN, n.LowerDIF); err != nil {
				logger.Warn("ipcpd: bootstrap enrolment failed", "neighbor", n.APN, "error", err)
			}
		}(n)
	}
}

// onUpCall is the kernelchan.UpCallHandler: every kernel-originated
// message lands here on the Client's read goroutine and is posted onto
// the event loop thread, since neither a Flow's FSM nor the RIB may be
// mutated concurrently with the loop's own dispatch (spec.md §5).
func (d *daemon) onUpCall(msg kernelchan.Message) {
	ctx := context.Background()
	switch msg.Type {
	case kernelchan.MsgFAReqArrived:
		req, err := kernelchan.DecodeFARequest(msg.Payload)
		if err != nil {
			logger.Warn("ipcpd: malformed FA_REQ_ARRIVED dropped", "error", err)
			return
		}
		d.loop.Post(func() { d.handleFAReqArrived(ctx, req) })

	case kernelchan.MsgSDUArrived:
		req, err := kernelchan.DecodeSDU(msg.Payload)
		if err != nil {
			logger.Warn("ipcpd: malformed SDU_ARRIVED dropped", "error", err)
			return
		}
		d.loop.Post(func() { d.handleSDUArrived(ctx, req) })

	default:
		logger.Warn("ipcpd: unexpected up-call", "type", msg.Type)
	}
}

// handleFAReqArrived answers an inbound flow-allocation request. A
// request addressed to this IPCP's own name is the acceptor side of a
// neighbor's enrolment attempt; anything else is a data flow for a
// locally ApplRegister'd application, accepted unconditionally since this
// IPCP implements no in-kernel data plane to forward its bytes through
// (SPEC_FULL.md §11).
func (d *daemon) handleFAReqArrived(ctx context.Context, req kernelchan.FARequest) {
	if req.DstAppl != d.cfg.IPCP.APN {
		if err := d.kernel.AcceptFlow(ctx, req.SrcPortID, 0, true); err != nil {
			logger.Warn("ipcpd: accept data flow failed", "appl", req.DstAppl, "error", err)
		}
		return
	}
	d.acceptInbound(ctx, req)
}

// acceptInbound accepts a management-flow request and starts the
// acceptor side of enrolment on a fresh Flow/Neighbor pair.
func (d *daemon) acceptInbound(ctx context.Context, req kernelchan.FARequest) {
	if err := d.kernel.AcceptFlow(ctx, req.SrcPortID, 0, true); err != nil {
		logger.Warn("ipcpd: accept management flow failed", "peer", req.SrcAppl, "error", err)
		return
	}

	peerName := ribtypes.Name{APN: req.SrcAppl}
	writer := kernelchan.NewFlowWriter(d.kernel, req.SrcPortID)
	flow := neighbor.NewFlow(false, d.rib.LocalAddress(), d.cfg.IPCP.LowerDIFs, d.enrollMaxAttempts(), writer, d.rib)

	nb := neighbor.NewNeighbor(peerName, 0)
	nb.AddFlow(ribtypes.PortID(req.SrcPortID), flow)

	d.mu.Lock()
	d.neighbors[peerName.String()] = nb
	d.byPort[req.SrcPortID] = flow
	d.mu.Unlock()

	logger.Info("ipcpd: accepted management flow", "peer", req.SrcAppl, "port_id", req.SrcPortID)
}

// handleSDUArrived feeds bytes arrived on a management flow's port-id
// into that flow's CDAP session, and registers the flow with the RIB the
// moment an acceptor-side handshake reaches ENROLLED (the peer address
// that fan-out is keyed on is only known once the handshake gets there).
func (d *daemon) handleSDUArrived(ctx context.Context, req kernelchan.SDURequest) {
	d.mu.Lock()
	flow, ok := d.byPort[req.PortID]
	d.mu.Unlock()
	if !ok {
		logger.Warn("ipcpd: SDU_ARRIVED for unknown port", "port_id", req.PortID)
		return
	}

	wasEnrolled := flow.State() == enroll.StateEnrolled
	if err := flow.OnBytes(ctx, req.Data); err != nil {
		logger.Warn("ipcpd: flow session error", "port_id", req.PortID, "error", err)
	}

	if !wasEnrolled && flow.State() == enroll.StateEnrolled {
		addr := flow.PeerAddress()
		d.rib.RegisterNeighbor(addr, flow)

		d.mu.Lock()
		for _, nb := range d.neighbors {
			if f, ok := nb.Flow(ribtypes.PortID(req.PortID)); ok && f == flow {
				nb.Address = addr
				break
			}
		}
		d.mu.Unlock()

		go flow.RunKeepalive(ctx)
		logger.Info("ipcpd: neighbor enrolled", "port_id", req.PortID, "address", addr)
	}
}

// removeFlow drops a failed/aborted flow's port-id bookkeeping.
func (d *daemon) removeFlow(portID uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.byPort, portID)
}

// startPeriodicTimers arms the LFDB aging tick on the event loop — the
// "event loop's timer wheel" pkg/rib's TickLowerFlowAge/
// PruneStaleLowerFlows doc comments name as their intended caller.
// StartTimer is one-shot, so the callback reschedules itself. Neighbor
// keepalive cycling runs separately, one goroutine per enrolled flow
// (pkg/neighbor.Flow.RunKeepalive), started as each flow reaches ENROLLED.
func (d *daemon) startPeriodicTimers() {
	const agingInterval = time.Second
	var ageTick func()
	ageTick = func() {
		d.loop.StartTimer(agingInterval, func() {
			d.rib.TickLowerFlowAge(agingInterval)
			d.rib.PruneStaleLowerFlows(lowerFlowStaleAge)
			ageTick()
		})
	}
	ageTick()
}
