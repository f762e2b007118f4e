// Package hv implements the hypervisor-channel shim IPCP: flow allocation
// translated over a single multiplexed vsock stream, channel 0 reserved for
// control and channel port+1 carrying that port's data (spec.md §4.5/§6).
package hv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ControlChannel is the reserved channel id for FA_REQ/FA_RESP traffic.
// Data for port N rides channel N+1.
const ControlChannel = 0

// applNameSize is the fixed width of a packed appl-name field, matching the
// "packed structures" shape spec.md §6 names for shim-hv control messages.
const applNameSize = 64

type hvMsgType uint16

const (
	msgFAReq hvMsgType = iota + 1
	msgFAResp
)

// FAReq is the decoded form of a hypervisor-channel FA_REQ.
type FAReq struct {
	EventID uint32
	SrcPort uint32
	SrcAppl string
	DstAppl string
}

// FAResp is the decoded form of a hypervisor-channel FA_RESP. Response is 0
// on accept, non-zero on reject, per spec.md §6.
type FAResp struct {
	EventID  uint32
	SrcPort  uint32
	DstPort  uint32
	Response uint32
}

type faReqWire struct {
	MsgType uint16
	_       uint16
	EventID uint32
	SrcPort uint32
	SrcAppl [applNameSize]byte
	DstAppl [applNameSize]byte
}

type faRespWire struct {
	MsgType  uint16
	_        uint16
	EventID  uint32
	SrcPort  uint32
	DstPort  uint32
	Response uint32
}

func packName(s string) ([applNameSize]byte, error) {
	var out [applNameSize]byte
	if len(s) >= applNameSize {
		return out, fmt.Errorf("hv: appl name %q exceeds %d bytes", s, applNameSize-1)
	}
	copy(out[:], s)
	return out, nil
}

func unpackName(b [applNameSize]byte) string {
	n := bytes.IndexByte(b[:], 0)
	if n < 0 {
		n = len(b)
	}
	return string(b[:n])
}

// EncodeFAReq packs an FA_REQ into the fixed-layout wire struct.
func EncodeFAReq(req FAReq) ([]byte, error) {
	srcAppl, err := packName(req.SrcAppl)
	if err != nil {
		return nil, err
	}
	dstAppl, err := packName(req.DstAppl)
	if err != nil {
		return nil, err
	}
	wire := faReqWire{
		MsgType: uint16(msgFAReq),
		EventID: req.EventID,
		SrcPort: req.SrcPort,
		SrcAppl: srcAppl,
		DstAppl: dstAppl,
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, wire); err != nil {
		return nil, fmt.Errorf("encode FA_REQ: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeFAReq unpacks an FA_REQ control-channel payload.
func DecodeFAReq(payload []byte) (FAReq, error) {
	var wire faReqWire
	if err := binary.Read(bytes.NewReader(payload), binary.BigEndian, &wire); err != nil {
		return FAReq{}, fmt.Errorf("decode FA_REQ: %w", err)
	}
	if hvMsgType(wire.MsgType) != msgFAReq {
		return FAReq{}, fmt.Errorf("decode FA_REQ: unexpected msg_type %d", wire.MsgType)
	}
	return FAReq{
		EventID: wire.EventID,
		SrcPort: wire.SrcPort,
		SrcAppl: unpackName(wire.SrcAppl),
		DstAppl: unpackName(wire.DstAppl),
	}, nil
}

// EncodeFAResp packs an FA_RESP into the fixed-layout wire struct.
func EncodeFAResp(resp FAResp) ([]byte, error) {
	wire := faRespWire{
		MsgType:  uint16(msgFAResp),
		EventID:  resp.EventID,
		SrcPort:  resp.SrcPort,
		DstPort:  resp.DstPort,
		Response: resp.Response,
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, wire); err != nil {
		return nil, fmt.Errorf("encode FA_RESP: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeFAResp unpacks an FA_RESP control-channel payload.
func DecodeFAResp(payload []byte) (FAResp, error) {
	var wire faRespWire
	if err := binary.Read(bytes.NewReader(payload), binary.BigEndian, &wire); err != nil {
		return FAResp{}, fmt.Errorf("decode FA_RESP: %w", err)
	}
	if hvMsgType(wire.MsgType) != msgFAResp {
		return FAResp{}, fmt.Errorf("decode FA_RESP: unexpected msg_type %d", wire.MsgType)
	}
	return FAResp{
		EventID:  wire.EventID,
		SrcPort:  wire.SrcPort,
		DstPort:  wire.DstPort,
		Response: wire.Response,
	}, nil
}

// frameHeaderLength is channel (2 bytes) + length (4 bytes), prefixing
// every message multiplexed over the single vsock stream.
const frameHeaderLength = 6

// EncodeFrame wraps payload for channel into the stream's multiplexing
// frame.
func EncodeFrame(channel uint16, payload []byte) []byte {
	frame := make([]byte, frameHeaderLength+len(payload))
	binary.BigEndian.PutUint16(frame[0:2], channel)
	binary.BigEndian.PutUint32(frame[2:6], uint32(len(payload)))
	copy(frame[6:], payload)
	return frame
}

// ReadFrame reads one multiplexing frame from r, returning its channel id
// and payload.
func ReadFrame(r io.Reader) (channel uint16, payload []byte, err error) {
	var header [frameHeaderLength]byte
	if _, err = io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	channel = binary.BigEndian.Uint16(header[0:2])
	length := binary.BigEndian.Uint32(header[2:6])

	const maxPayload = 1 << 20
	if length > maxPayload {
		return 0, nil, fmt.Errorf("hv: frame payload %d exceeds maximum %d", length, maxPayload)
	}

	payload = make([]byte, length)
	if _, err = io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return channel, payload, nil
}
