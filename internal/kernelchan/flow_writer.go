package kernelchan

import "context"

// FlowWriter adapts a Client and an already-allocated port-id into the
// transport a management flow writes framed CDAP bytes through
// (pkg/neighbor.Writer). It is the concrete implementation that package's
// doc comment refers to: every management-flow byte still rides the same
// kernel control channel connection, tagged with its port-id, rather than
// a separate per-flow descriptor.
type FlowWriter struct {
	client *Client
	portID uint32
}

// NewFlowWriter returns a FlowWriter bound to portID on client.
func NewFlowWriter(client *Client, portID uint32) *FlowWriter {
	return &FlowWriter{client: client, portID: portID}
}

// Write sends data down the flow's management write path.
func (w *FlowWriter) Write(ctx context.Context, data []byte) error {
	return w.client.WriteSDU(ctx, w.portID, data)
}
