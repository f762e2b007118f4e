package ctrlsock

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
)

// Client is a thin control-socket client, used by this repo's own
// integration tests in place of the out-of-scope CLI tool (SPEC_FULL.md
// §6). Unlike internal/kernelchan.Client it issues one command per
// connection and reads the single matching reply synchronously; the
// control socket has no kernel-originated up-calls to demultiplex.
type Client struct {
	socketPath  string
	nextEventID atomic.Uint32
}

// NewClient returns a Client dialing socketPath on each command.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

func (c *Client) issue(ctx context.Context, msgType MsgType, payload []byte) (Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return Response{}, fmt.Errorf("ctrlsock: dial %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	eventID := c.nextEventID.Add(1)
	if _, err := conn.Write(Encode(Message{Type: msgType, EventID: eventID, Payload: payload})); err != nil {
		return Response{}, fmt.Errorf("ctrlsock: write command: %w", err)
	}

	msg, err := ReadMessage(conn)
	if err != nil {
		return Response{}, fmt.Errorf("ctrlsock: read reply: %w", err)
	}
	result, respPayload, err := decodeResponsePayload(msg.Payload)
	if err != nil {
		return Response{}, fmt.Errorf("ctrlsock: decode reply: %w", err)
	}
	return Response{EventID: msg.EventID, Result: result, Payload: respPayload}, nil
}

// Enrol issues the "enrol" command.
func (c *Client) Enrol(ctx context.Context, neighborName, supportingDIF string) error {
	resp, err := c.issue(ctx, MsgEnrol, EncodeEnrol(EnrolRequest{NeighborName: neighborName, SupportingDIF: supportingDIF}))
	if err != nil {
		return err
	}
	return resp.Err()
}

// ApplRegister issues the "register" command.
func (c *Client) ApplRegister(ctx context.Context, applName string, register bool) error {
	resp, err := c.issue(ctx, MsgApplRegister, EncodeApplRegister(ApplRegisterRequest{ApplName: applName, Register: register}))
	if err != nil {
		return err
	}
	return resp.Err()
}

// Create issues the "create" command.
func (c *Client) Create(ctx context.Context, driverName string) error {
	resp, err := c.issue(ctx, MsgCreate, EncodeCreate(CreateRequest{DriverName: driverName}))
	if err != nil {
		return err
	}
	return resp.Err()
}

// Destroy issues the "destroy" command.
func (c *Client) Destroy(ctx context.Context, driverName string) error {
	resp, err := c.issue(ctx, MsgDestroy, EncodeDestroy(DestroyRequest{DriverName: driverName}))
	if err != nil {
		return err
	}
	return resp.Err()
}
