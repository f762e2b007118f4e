package logger

import "log/slog"

// Key constants for structured log fields. Centralizing them here keeps
// field names consistent across the event loop, RIB, neighbor, and shim
// packages — grep for one string instead of chasing string literals.

// ----------------------------------------------------------------------
// Tracing
// ----------------------------------------------------------------------

const (
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"
)

func TraceID(v string) slog.Attr { return slog.String(KeyTraceID, v) }
func SpanID(v string) slog.Attr  { return slog.String(KeySpanID, v) }

// ----------------------------------------------------------------------
// CDAP / enrolment
// ----------------------------------------------------------------------

const (
	KeyOpCode       = "op_code"
	KeyInvokeID     = "invoke_id"
	KeyObjClass     = "obj_class"
	KeyObjName      = "obj_name"
	KeyResult       = "result"
	KeyResultReason = "result_reason"
	KeyState        = "state"
	KeyEvent        = "event"
	KeyAttempt      = "attempt"
	KeyMaxAttempts  = "max_attempts"
)

func OpCode(v string) slog.Attr       { return slog.String(KeyOpCode, v) }
func InvokeID(v uint32) slog.Attr     { return slog.Uint64(KeyInvokeID, uint64(v)) }
func ObjClass(v string) slog.Attr     { return slog.String(KeyObjClass, v) }
func ObjName(v string) slog.Attr      { return slog.String(KeyObjName, v) }
func Result(v int32) slog.Attr        { return slog.Int64(KeyResult, int64(v)) }
func ResultReason(v string) slog.Attr { return slog.String(KeyResultReason, v) }
func State(v string) slog.Attr        { return slog.String(KeyState, v) }
func Event(v string) slog.Attr        { return slog.String(KeyEvent, v) }
func Attempt(v int) slog.Attr         { return slog.Int(KeyAttempt, v) }
func MaxAttempts(v int) slog.Attr     { return slog.Int(KeyMaxAttempts, v) }

// ----------------------------------------------------------------------
// Neighbor / flow identity
// ----------------------------------------------------------------------

const (
	KeyNeighbor    = "neighbor"
	KeyAPN         = "apn"
	KeyAPI         = "api"
	KeyAddress     = "address"
	KeyPeerAddress = "peer_address"
	KeyPortID      = "port_id"
	KeyLowerDIF    = "lower_dif"
	KeyDIFName     = "dif_name"
)

func Neighbor(v string) slog.Attr    { return slog.String(KeyNeighbor, v) }
func APN(v string) slog.Attr         { return slog.String(KeyAPN, v) }
func API(v string) slog.Attr         { return slog.String(KeyAPI, v) }
func Address(v uint64) slog.Attr     { return slog.Uint64(KeyAddress, v) }
func PeerAddress(v uint64) slog.Attr { return slog.Uint64(KeyPeerAddress, v) }
func PortID(v uint32) slog.Attr      { return slog.Uint64(KeyPortID, uint64(v)) }
func LowerDIF(v string) slog.Attr    { return slog.String(KeyLowerDIF, v) }
func DIFName(v string) slog.Attr     { return slog.String(KeyDIFName, v) }

// ----------------------------------------------------------------------
// RIB objects
// ----------------------------------------------------------------------

const (
	KeyApplName    = "appl_name"
	KeyEntryCount  = "entry_count"
	KeyTimestamp   = "timestamp"
	KeySequenceNum = "sequence_number"
	KeyCost        = "cost"
	KeyEdgeState   = "edge_state"
)

func ApplName(v string) slog.Attr       { return slog.String(KeyApplName, v) }
func EntryCount(v int) slog.Attr        { return slog.Int(KeyEntryCount, v) }
func Timestamp(v int64) slog.Attr       { return slog.Int64(KeyTimestamp, v) }
func SequenceNumber(v uint64) slog.Attr { return slog.Uint64(KeySequenceNum, v) }
func Cost(v uint32) slog.Attr           { return slog.Uint64(KeyCost, uint64(v)) }
func EdgeState(v string) slog.Attr      { return slog.String(KeyEdgeState, v) }

// ----------------------------------------------------------------------
// Kernel channel / event loop
// ----------------------------------------------------------------------

const (
	KeyMsgType    = "msg_type"
	KeyEventID    = "event_id"
	KeyFD         = "fd"
	KeyDurationMs = "duration_ms"
	KeyInFlight   = "in_flight"
)

func MsgType(v string) slog.Attr     { return slog.String(KeyMsgType, v) }
func EventID(v uint32) slog.Attr     { return slog.Uint64(KeyEventID, uint64(v)) }
func FD(v int) slog.Attr             { return slog.Int(KeyFD, v) }
func DurationMs(v float64) slog.Attr { return slog.Float64(KeyDurationMs, v) }
func InFlight(v int) slog.Attr       { return slog.Int(KeyInFlight, v) }

// ----------------------------------------------------------------------
// Shim IPCPs
// ----------------------------------------------------------------------

const (
	KeyShimDriver = "shim_driver"
	KeyChannel    = "channel"
	KeyRemoteAddr = "remote_addr"
	KeyAnchored   = "anchored"
)

func ShimDriver(v string) slog.Attr { return slog.String(KeyShimDriver, v) }
func Channel(v uint32) slog.Attr    { return slog.Uint64(KeyChannel, uint64(v)) }
func RemoteAddr(v string) slog.Attr { return slog.String(KeyRemoteAddr, v) }
func Anchored(v bool) slog.Attr     { return slog.Bool(KeyAnchored, v) }

// ----------------------------------------------------------------------
// Errors / generic
// ----------------------------------------------------------------------

const KeyError = "error"

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
