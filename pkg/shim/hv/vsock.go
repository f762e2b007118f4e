package hv

import (
	"context"
	"fmt"
	"net"

	"github.com/mdlayher/vsock"
)

// vsockListener adapts *vsock.Listener to the Listener interface.
type vsockListener struct {
	l *vsock.Listener
}

// ListenVsock opens a production vsock listener bound to port, the
// hypervisor-channel shim's inbound control/data socket (SPEC_FULL.md §4.5,
// grounded on tomponline-lxd's go.mod dependency on
// github.com/mdlayher/vsock for VM-to-host control channels).
func ListenVsock(port uint32) (Listener, error) {
	l, err := vsock.Listen(port, nil)
	if err != nil {
		return nil, fmt.Errorf("shim-hv: vsock listen port=%d: %w", port, err)
	}
	return &vsockListener{l: l}, nil
}

func (v *vsockListener) Accept() (net.Conn, error) { return v.l.Accept() }
func (v *vsockListener) Close() error               { return v.l.Close() }

// DialVsock is the production Dialer, connecting to a peer identified by
// its vsock context id.
func DialVsock(_ context.Context, contextID, port uint32) (net.Conn, error) {
	conn, err := vsock.Dial(contextID, port, nil)
	if err != nil {
		return nil, fmt.Errorf("shim-hv: vsock dial contextID=%d port=%d: %w", contextID, port, err)
	}
	return conn, nil
}
