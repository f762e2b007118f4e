package hv

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rina-project/ipcpd/internal/kernelchan"
)

// fakeListener serves a single preconnected net.Conn, enough to exercise
// Driver.serveConn without a real vsock device.
type fakeListener struct {
	conns chan net.Conn
}

func newFakeListener() *fakeListener { return &fakeListener{conns: make(chan net.Conn, 1)} }

func (f *fakeListener) Accept() (net.Conn, error) {
	conn, ok := <-f.conns
	if !ok {
		return nil, net.ErrClosed
	}
	return conn, nil
}

func (f *fakeListener) Close() error {
	close(f.conns)
	return nil
}

// fakeKernelServer answers FA_REQ_ARRIVED up-calls with a fixed FA_RESP.
func fakeKernelServer(t *testing.T, conn net.Conn, dstPort, response uint32) {
	t.Helper()
	msg, err := kernelchan.ReadMessage(conn)
	require.NoError(t, err)
	require.Equal(t, kernelchan.MsgFAReqArrived, msg.Type)

	req, err := kernelchan.DecodeFARequest(msg.Payload)
	require.NoError(t, err)

	faResp := kernelchan.EncodeFAResponse(kernelchan.FAResponse{
		SrcPortID: req.SrcPortID, DstPortID: dstPort, Response: response,
	})
	responsePayload := make([]byte, 4+len(faResp))
	binary.BigEndian.PutUint32(responsePayload[:4], uint32(kernelchan.ResultSuccess))
	copy(responsePayload[4:], faResp)

	_, err = conn.Write(kernelchan.Encode(kernelchan.Message{
		Type:    msg.Type,
		EventID: msg.EventID,
		Payload: responsePayload,
	}))
	require.NoError(t, err)
}

func TestDriverTranslatesInboundFAReqToKernelAndBack(t *testing.T) {
	kernelConnA, kernelConnB := net.Pipe()
	defer kernelConnA.Close()
	defer kernelConnB.Close()
	kernelClient := kernelchan.NewClient(kernelConnA, nil)
	go func() { _ = kernelClient.Run(context.Background()) }()
	go fakeKernelServer(t, kernelConnB, 9, 0)

	peerConnA, peerConnB := net.Pipe()
	defer peerConnA.Close()
	defer peerConnB.Close()

	listener := newFakeListener()
	listener.conns <- peerConnB

	driver := NewDriver(listener, nil, kernelClient)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = driver.Serve(ctx) }()

	reqPayload, err := EncodeFAReq(FAReq{EventID: 1, SrcPort: 5, SrcAppl: "peer", DstAppl: "echo"})
	require.NoError(t, err)
	_, err = peerConnA.Write(EncodeFrame(ControlChannel, reqPayload))
	require.NoError(t, err)

	peerConnA.SetReadDeadline(time.Now().Add(2 * time.Second))
	channel, respPayload, err := ReadFrame(peerConnA)
	require.NoError(t, err)
	assert.Equal(t, uint16(ControlChannel), channel)

	resp, err := DecodeFAResp(respPayload)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), resp.EventID)
	assert.Equal(t, uint32(9), resp.DstPort)
	assert.Equal(t, uint32(0), resp.Response)
}

func TestDriverDropsDataChannelFrames(t *testing.T) {
	peerConnA, peerConnB := net.Pipe()
	defer peerConnA.Close()
	defer peerConnB.Close()

	listener := newFakeListener()
	listener.conns <- peerConnB

	driver := NewDriver(listener, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = driver.Serve(ctx) }()

	_, err := peerConnA.Write(EncodeFrame(2, []byte("sdu")))
	require.NoError(t, err)

	// no panic, no response written; close to prove the handler kept
	// reading instead of erroring out of the loop.
	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, peerConnA.Close())
}
