package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context: which neighbor/flow an
// operation concerns and the CDAP exchange driving it.
type LogContext struct {
	TraceID     string    // OpenTelemetry trace ID
	SpanID      string    // OpenTelemetry span ID
	Operation   string    // RIB/enrolment operation name (appl_register, dft_handler, ...)
	Neighbor    string    // Neighbor name (APN/API), if known
	PeerAddress uint64    // Neighbor's RINA address, if known
	PortID      uint32    // Flow port-id this log line concerns
	OpCode      string    // CDAP op code of the message being processed
	StartTime   time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a neighbor identified by name.
func NewLogContext(neighbor string) *LogContext {
	return &LogContext{
		Neighbor:  neighbor,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:     lc.TraceID,
		SpanID:      lc.SpanID,
		Operation:   lc.Operation,
		Neighbor:    lc.Neighbor,
		PeerAddress: lc.PeerAddress,
		PortID:      lc.PortID,
		OpCode:      lc.OpCode,
		StartTime:   lc.StartTime,
	}
}

// WithOperation returns a copy with the RIB/enrolment operation name set.
func (lc *LogContext) WithOperation(operation string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Operation = operation
	}
	return clone
}

// WithNeighbor returns a copy with the neighbor name and address set.
func (lc *LogContext) WithNeighbor(neighbor string, peerAddress uint64) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Neighbor = neighbor
		clone.PeerAddress = peerAddress
	}
	return clone
}

// WithFlow returns a copy with the flow port-id and CDAP op code set.
func (lc *LogContext) WithFlow(portID uint32, opCode string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.PortID = portID
		clone.OpCode = opCode
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
