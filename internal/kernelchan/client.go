package kernelchan

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rina-project/ipcpd/internal/logger"
)

// UpCallHandler receives kernel-originated messages the event loop did not
// itself request: FA_REQ_ARRIVED, FA_RESP_ARRIVED and SDU_ARRIVED. It is invoked from the
// Client's read goroutine, never from the caller of IssueRequest, so
// handlers must hand work back to the owning event loop rather than block.
type UpCallHandler func(Message)

// Client is a single connection to the in-kernel IPCP registry. The kernel
// control socket is single-writer per spec.md §5 ("the kernel control
// socket is single-writer except for issue_request, which writes under an
// internal mutex"); Client enforces that with writeMu and lets any number of
// goroutines call IssueRequest concurrently while exactly one read loop
// demultiplexes responses back to the correct waiter by event_id.
type Client struct {
	conn    net.Conn
	writeMu sync.Mutex

	nextEventID atomic.Uint32

	mu      sync.Mutex
	pending map[uint32]chan Response

	onUpCall UpCallHandler
}

// Dial connects to the kernel control channel's Unix domain socket.
func Dial(socketPath string, onUpCall UpCallHandler) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial kernel channel: %w", err)
	}
	return NewClient(conn, onUpCall), nil
}

// NewClient wraps an already-connected transport. Exposed separately from
// Dial so tests can drive the protocol over an in-memory net.Pipe.
func NewClient(conn net.Conn, onUpCall UpCallHandler) *Client {
	return &Client{
		conn:     conn,
		pending:  make(map[uint32]chan Response),
		onUpCall: onUpCall,
	}
}

// Close tears down the underlying connection. Once Run sees the read fail,
// any IssueRequest callers still waiting return a "kernel channel closed"
// error.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Run reads frames until the connection closes or ctx is cancelled,
// dispatching each to a pending IssueRequest waiter (by event_id) or to
// onUpCall for kernel-originated messages. Per spec.md §7, a kernel channel
// EOF is fatal to the IPCP; Run returns when the connection ends (nil on a
// clean EOF, the read error otherwise) so the caller can tear down its
// event loop.
func (c *Client) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-done:
		}
	}()

	for {
		msg, err := ReadMessage(c.conn)
		if err != nil {
			c.failAllPending(err)
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("kernel channel closed: %w", err)
		}

		if !msg.IsResponse() {
			if c.onUpCall != nil {
				c.onUpCall(msg)
			}
			continue
		}

		result, payload, err := decodeResponsePayload(msg.Payload)
		if err != nil {
			logger.Warn("kernelchan: malformed response dropped", "event_id", msg.EventID, "error", err)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.EventID]
		if ok {
			delete(c.pending, msg.EventID)
		}
		c.mu.Unlock()

		if !ok {
			logger.Warn("kernelchan: response for unknown event_id dropped", "event_id", msg.EventID)
			continue
		}
		ch <- Response{EventID: msg.EventID, Result: result, Payload: payload}
	}
}

func (c *Client) failAllPending(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) > 0 {
		logger.Warn("kernelchan: connection lost, failing in-flight requests", "count", len(c.pending), "error", cause)
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// IssueRequest serialises msg_type/payload, writes it to the kernel control
// channel, and blocks until the matching response arrives or ctx is
// cancelled. This is the Go rendering of spec.md §5's issue_request: a
// buffered chan response of capacity 1 per request stands in for the
// condition-variable wait the spec describes, so the read loop never blocks
// signalling a waiter.
func (c *Client) IssueRequest(ctx context.Context, msgType MsgType, payload []byte) (Response, error) {
	eventID := c.nextEventID.Add(1)
	ch := make(chan Response, 1)

	c.mu.Lock()
	c.pending[eventID] = ch
	c.mu.Unlock()

	frame := Encode(Message{Type: msgType, EventID: eventID, Payload: payload})

	c.writeMu.Lock()
	_, err := c.conn.Write(frame)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, eventID)
		c.mu.Unlock()
		return Response{}, fmt.Errorf("write kernel channel: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return Response{}, fmt.Errorf("kernel channel closed while awaiting event_id %d", eventID)
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, eventID)
		c.mu.Unlock()
		return Response{}, ctx.Err()
	}
}

// IssueRequestTimeout is IssueRequest bounded by a fixed deadline,
// convenient for callers configured with KernelChannelConfig.RequestTimeout
// rather than an ambient context deadline.
func (c *Client) IssueRequestTimeout(ctx context.Context, msgType MsgType, payload []byte, timeout time.Duration) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.IssueRequest(ctx, msgType, payload)
}

// AllocateFlow wraps an FA_REQ/FA_RESP round trip in a single blocking call,
// the userspace convenience the original rlite-appl.c library provides over
// raw kernel-channel messages (SPEC_FULL.md §10).
func (c *Client) AllocateFlow(ctx context.Context, srcPortID uint32, srcAppl, dstAppl string) (FAResponse, error) {
	resp, err := c.IssueRequest(ctx, MsgFAReq, EncodeFARequest(FARequest{
		SrcPortID: srcPortID,
		SrcAppl:   srcAppl,
		DstAppl:   dstAppl,
	}))
	if err != nil {
		return FAResponse{}, fmt.Errorf("allocate flow: %w", err)
	}
	if err := resp.Err(); err != nil {
		return FAResponse{}, fmt.Errorf("allocate flow: %w", err)
	}
	return DecodeFAResponse(resp.Payload)
}

// AcceptFlow answers a kernel-originated FA_REQ_ARRIVED up-call with an
// FA_RESP, completing the flow-allocation handshake from the acceptor side.
func (c *Client) AcceptFlow(ctx context.Context, srcPortID, dstPortID uint32, accept bool) error {
	response := uint32(1)
	if accept {
		response = 0
	}
	resp, err := c.IssueRequest(ctx, MsgFAResp, EncodeFAResponse(FAResponse{
		SrcPortID: srcPortID,
		DstPortID: dstPortID,
		Response:  response,
	}))
	if err != nil {
		return fmt.Errorf("accept flow: %w", err)
	}
	return resp.Err()
}

// WriteSDU writes data down portID's dedicated management write path and
// waits for the kernel's acknowledgement that it accepted the write — not
// an end-to-end delivery receipt.
func (c *Client) WriteSDU(ctx context.Context, portID uint32, data []byte) error {
	resp, err := c.IssueRequest(ctx, MsgSDU, EncodeSDU(SDURequest{PortID: portID, Data: data}))
	if err != nil {
		return fmt.Errorf("write sdu: %w", err)
	}
	return resp.Err()
}

// ApplRegister issues an APPL_REGISTER request, the kernel round-trip behind
// RIB.ApplRegister/ApplUnregister.
func (c *Client) ApplRegister(ctx context.Context, applName string, register bool) error {
	resp, err := c.IssueRequest(ctx, MsgApplRegister, EncodeApplRegister(ApplRegisterRequest{
		ApplName: applName,
		Register: register,
	}))
	if err != nil {
		return fmt.Errorf("appl register: %w", err)
	}
	return resp.Err()
}
