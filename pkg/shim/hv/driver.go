package hv

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rina-project/ipcpd/internal/kernelchan"
	"github.com/rina-project/ipcpd/internal/logger"
)

// Listener accepts inbound peer connections. The production implementation
// wraps github.com/mdlayher/vsock.Listen; tests use an in-memory fake so
// the driver never needs a real /dev/vsock device.
type Listener interface {
	Accept() (net.Conn, error)
	Close() error
}

// Dialer opens an outbound connection to a peer's vsock context.
type Dialer func(ctx context.Context, contextID, port uint32) (net.Conn, error)

// Driver is the shim-hv Driver (pkg/shim.Driver): translates FA_REQ/FA_RESP
// between the hypervisor vsock channel and the kernel control channel.
// Channel 0 on every connection carries control traffic; channel N>0 would
// carry port N-1's data, but packet forwarding on shim transports is out of
// scope here (SPEC_FULL.md §11) — those frames are logged and dropped.
type Driver struct {
	listener Listener
	dial     Dialer
	kernel   *kernelchan.Client

	mu    sync.Mutex
	conns map[uint32]net.Conn // established outbound connections, by peer contextID
}

// NewDriver constructs a shim-hv Driver. listener may be nil for a
// dial-only instance (no inbound peer acceptance).
func NewDriver(listener Listener, dial Dialer, kernel *kernelchan.Client) *Driver {
	return &Driver{
		listener: listener,
		dial:     dial,
		kernel:   kernel,
		conns:    make(map[uint32]net.Conn),
	}
}

func (d *Driver) Name() string { return "shim-hv" }

// Serve accepts inbound peer connections until ctx is cancelled or the
// listener closes.
func (d *Driver) Serve(ctx context.Context) error {
	if d.listener == nil {
		<-ctx.Done()
		return nil
	}
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("shim-hv: accept: %w", err)
			}
		}
		go d.serveConn(ctx, conn)
	}
}

func (d *Driver) Stop(ctx context.Context) error {
	if d.listener != nil {
		_ = d.listener.Close()
	}
	d.mu.Lock()
	for _, conn := range d.conns {
		_ = conn.Close()
	}
	d.mu.Unlock()
	return nil
}

func (d *Driver) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		channel, payload, err := ReadFrame(conn)
		if err != nil {
			if err != io.EOF {
				logger.Warn("shim-hv: connection read failed", "error", err)
			}
			return
		}
		if channel != ControlChannel {
			logger.Debug("shim-hv: dropping data-channel frame", "channel", channel)
			continue
		}
		if err := d.handleControlFrame(ctx, conn, payload); err != nil {
			logger.Warn("shim-hv: control frame handling failed", "error", err)
		}
	}
}

// msgTypeOf peeks the 2-byte msg_type leading every control payload without
// fully decoding it, so the dispatch below can pick FA_REQ vs FA_RESP.
func msgTypeOf(payload []byte) (hvMsgType, error) {
	if len(payload) < 2 {
		return 0, fmt.Errorf("shim-hv: control payload too short")
	}
	return hvMsgType(binary.BigEndian.Uint16(payload[:2])), nil
}

func (d *Driver) handleControlFrame(ctx context.Context, conn net.Conn, payload []byte) error {
	msgType, err := msgTypeOf(payload)
	if err != nil {
		return err
	}

	switch msgType {
	case msgFAReq:
		req, err := DecodeFAReq(payload)
		if err != nil {
			return err
		}
		return d.handleInboundFAReq(ctx, conn, req)
	case msgFAResp:
		// A peer-initiated dial's response arrives back through the same
		// serveConn loop that issued it; DialPeer reads its own response
		// directly off the connection rather than through this path, so an
		// FA_RESP reaching here belongs to no outstanding local request.
		logger.Debug("shim-hv: unexpected FA_RESP on accepted connection, dropping")
		return nil
	default:
		return fmt.Errorf("shim-hv: unknown control msg_type %d", msgType)
	}
}

// handleInboundFAReq synthesises the kernel up-call for a peer-initiated
// flow request and writes the kernel's decision back as FA_RESP, the
// translation spec.md §4.5 describes for a shim IPCP.
func (d *Driver) handleInboundFAReq(ctx context.Context, conn net.Conn, req FAReq) error {
	resp, err := d.kernel.IssueRequest(ctx, kernelchan.MsgFAReqArrived, kernelchan.EncodeFARequest(kernelchan.FARequest{
		SrcPortID: req.SrcPort,
		SrcAppl:   req.SrcAppl,
		DstAppl:   req.DstAppl,
	}))
	if err != nil {
		return fmt.Errorf("deliver FA_REQ to kernel: %w", err)
	}

	kresp, err := kernelchan.DecodeFAResponse(resp.Payload)
	if err != nil {
		return fmt.Errorf("decode kernel FA_RESP: %w", err)
	}

	out, err := EncodeFAResp(FAResp{
		EventID:  req.EventID,
		SrcPort:  req.SrcPort,
		DstPort:  kresp.DstPortID,
		Response: kresp.Response,
	})
	if err != nil {
		return err
	}
	_, err = conn.Write(EncodeFrame(ControlChannel, out))
	return err
}

// DialPeer opens (or reuses) an outbound connection to contextID, sends an
// FA_REQ on the control channel, and blocks for the matching FA_RESP —
// the local-allocation counterpart to handleInboundFAReq, used when this
// IPCP's own application is the flow's requester.
func (d *Driver) DialPeer(ctx context.Context, contextID, port uint32, req FAReq) (FAResp, error) {
	d.mu.Lock()
	conn, ok := d.conns[contextID]
	d.mu.Unlock()
	if !ok {
		var err error
		conn, err = d.dial(ctx, contextID, port)
		if err != nil {
			return FAResp{}, fmt.Errorf("shim-hv: dial peer: %w", err)
		}
		d.mu.Lock()
		d.conns[contextID] = conn
		d.mu.Unlock()
	}

	payload, err := EncodeFAReq(req)
	if err != nil {
		return FAResp{}, err
	}
	if _, err := conn.Write(EncodeFrame(ControlChannel, payload)); err != nil {
		return FAResp{}, fmt.Errorf("shim-hv: write FA_REQ: %w", err)
	}

	for {
		channel, respPayload, err := ReadFrame(conn)
		if err != nil {
			return FAResp{}, fmt.Errorf("shim-hv: read FA_RESP: %w", err)
		}
		if channel != ControlChannel {
			continue
		}
		resp, err := DecodeFAResp(respPayload)
		if err != nil {
			return FAResp{}, err
		}
		if resp.EventID != req.EventID {
			continue
		}
		return resp, nil
	}
}
