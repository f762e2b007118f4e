package udp4

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rina-project/ipcpd/internal/kernelchan"
)

type fakeDatagram struct {
	data []byte
	addr *net.UDPAddr
}

// fakeUDPConn stands in for *net.UDPConn so readLoop can be driven with
// synthetic datagrams over loopback-shaped addresses without opening a real
// socket.
type fakeUDPConn struct {
	in     chan fakeDatagram
	closed chan struct{}
	once   sync.Once
}

func newFakeUDPConn() *fakeUDPConn {
	return &fakeUDPConn{in: make(chan fakeDatagram, 8), closed: make(chan struct{})}
}

func (f *fakeUDPConn) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	select {
	case dg := <-f.in:
		return copy(b, dg.data), dg.addr, nil
	case <-f.closed:
		return 0, nil, net.ErrClosed
	}
}

func (f *fakeUDPConn) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) { return len(b), nil }

func (f *fakeUDPConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// fakeKernel answers FA_REQ_ARRIVED up-calls with a fixed destination
// port-id and FLOW_CFG_UPDATE requests with plain success, enough to drive
// both the implicit-allocation and anchoring paths end to end.
func fakeKernel(t *testing.T, conn net.Conn, dstPortID uint32) {
	t.Helper()
	for {
		msg, err := kernelchan.ReadMessage(conn)
		if err != nil {
			return
		}

		var payload []byte
		switch msg.Type {
		case kernelchan.MsgFAReqArrived, kernelchan.MsgFAReq:
			req, err := kernelchan.DecodeFARequest(msg.Payload)
			require.NoError(t, err)
			payload = kernelchan.EncodeFAResponse(kernelchan.FAResponse{
				SrcPortID: req.SrcPortID, DstPortID: dstPortID, Response: 0,
			})
		default:
			payload = nil
		}

		respPayload := make([]byte, 4+len(payload))
		binary.BigEndian.PutUint32(respPayload[:4], uint32(kernelchan.ResultSuccess))
		copy(respPayload[4:], payload)

		_, err = conn.Write(kernelchan.Encode(kernelchan.Message{
			Type:    msg.Type,
			EventID: msg.EventID,
			Payload: respPayload,
		}))
		require.NoError(t, err)
	}
}

func newTestDriver(t *testing.T, dstPortID uint32) (*Driver, *fakeUDPConn, func()) {
	t.Helper()
	kernelConnA, kernelConnB := net.Pipe()
	kernelClient := kernelchan.NewClient(kernelConnA, nil)
	go func() { _ = kernelClient.Run(context.Background()) }()
	go fakeKernel(t, kernelConnB, dstPortID)

	conn := newFakeUDPConn()
	d := NewDriver(NewResolver(""), kernelClient, net.ParseIP("127.0.0.1"))
	d.listen = func(addr *net.UDPAddr) (udpConn, error) { return conn, nil }

	cleanup := func() {
		kernelConnA.Close()
		kernelConnB.Close()
	}
	return d, conn, cleanup
}

func TestRegisterAppStartsReadLoop(t *testing.T) {
	d, conn, cleanup := newTestDriver(t, 7)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.RegisterApp(ctx, "echo"))

	remote := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 4000}
	conn.in <- fakeDatagram{data: []byte("hello"), addr: remote}

	require.Eventually(t, func() bool {
		d.mu.Lock()
		_, ok := d.endpoints.get("echo", remote.String())
		d.mu.Unlock()
		return ok
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, d.UnregisterApp("echo"))
	assert.Error(t, d.UnregisterApp("echo"))
}

func TestRegisterAppRejectsDuplicateName(t *testing.T) {
	d, _, cleanup := newTestDriver(t, 1)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.RegisterApp(ctx, "echo"))
	assert.Error(t, d.RegisterApp(ctx, "echo"))
}

func TestReadLoopSynthesisesImplicitAllocationForUnknownPeer(t *testing.T) {
	d, conn, cleanup := newTestDriver(t, 42)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.RegisterApp(ctx, "echo"))

	remote := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: FixedPort}
	conn.in <- fakeDatagram{data: []byte("syn"), addr: remote}

	require.Eventually(t, func() bool {
		d.mu.Lock()
		ep, ok := d.endpoints.get("echo", remote.String())
		d.mu.Unlock()
		return ok && ep.portID == 42 && !ep.anchored
	}, time.Second, 5*time.Millisecond)
}

func TestReadLoopAnchorsEndpointOnSourcePortChange(t *testing.T) {
	d, conn, cleanup := newTestDriver(t, 42)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.RegisterApp(ctx, "echo"))

	wellKnown := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: FixedPort}
	conn.in <- fakeDatagram{data: []byte("syn"), addr: wellKnown}

	require.Eventually(t, func() bool {
		d.mu.Lock()
		_, ok := d.endpoints.get("echo", wellKnown.String())
		d.mu.Unlock()
		return ok
	}, time.Second, 5*time.Millisecond)

	ephemeral := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 55001}
	conn.in <- fakeDatagram{data: []byte("data"), addr: ephemeral}

	require.Eventually(t, func() bool {
		d.mu.Lock()
		ep, ok := d.endpoints.get("echo", ephemeral.String())
		d.mu.Unlock()
		return ok && ep.anchored && ep.portID == 42
	}, time.Second, 5*time.Millisecond)

	d.mu.Lock()
	_, stillThere := d.endpoints.get("echo", wellKnown.String())
	d.mu.Unlock()
	assert.False(t, stillThere)
}

func TestAllocateOutboundRequiresLocalRegistration(t *testing.T) {
	d, _, cleanup := newTestDriver(t, 1)
	defer cleanup()

	_, err := d.AllocateOutbound(context.Background(), "unregistered", "echo")
	assert.Error(t, err)
}

func TestAllocateOutboundRecordsAnchoredEndpoint(t *testing.T) {
	d, _, cleanup := newTestDriver(t, 9)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.RegisterApp(ctx, "echo"))

	portID, err := d.AllocateOutbound(ctx, "echo", "localhost")
	require.NoError(t, err)
	assert.Equal(t, uint32(9), portID)

	remote := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: FixedPort}
	d.mu.Lock()
	ep, ok := d.endpoints.get("echo", remote.String())
	d.mu.Unlock()
	require.True(t, ok)
	assert.True(t, ep.anchored)
}
