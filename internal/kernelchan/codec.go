package kernelchan

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameLength bounds a single frame, guarding against a corrupt length
// prefix causing an unbounded read.
const maxFrameLength = 1 << 20 // 1 MiB, generous for control-plane traffic

// headerLength is msg_type (2 bytes) + event_id (4 bytes).
const headerLength = 6

// Encode serialises a Message as a length-prefixed frame: a 4-byte
// big-endian length, then the 2-byte msg_type, the 4-byte event_id, and the
// payload. Grounded on the teacher's RPC record-marking fragment header
// (internal/adapter/nfs.ReadFragmentHeader), generalised from a
// last-fragment bit plus 31-bit length to a plain 32-bit length since the
// kernel channel never needs multi-fragment coalescing.
func Encode(m Message) []byte {
	frame := make([]byte, 4+headerLength+len(m.Payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(headerLength+len(m.Payload)))
	binary.BigEndian.PutUint16(frame[4:6], uint16(m.Type))
	binary.BigEndian.PutUint32(frame[6:10], m.EventID)
	copy(frame[10:], m.Payload)
	return frame
}

// ReadMessage reads one length-prefixed frame from r and decodes its header.
// Payload is returned undecoded; callers use the Decode* helpers matching
// msg_type to interpret it.
func ReadMessage(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Message{}, err
	}
	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	if frameLen > maxFrameLength {
		return Message{}, fmt.Errorf("kernelchan: frame length %d exceeds maximum %d", frameLen, maxFrameLength)
	}
	if frameLen < headerLength {
		return Message{}, fmt.Errorf("kernelchan: frame length %d shorter than header", frameLen)
	}

	body := make([]byte, frameLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, err
	}

	return Message{
		Type:    MsgType(binary.BigEndian.Uint16(body[:2])),
		EventID: binary.BigEndian.Uint32(body[2:6]),
		Payload: body[6:],
	}, nil
}

func writeString(buf *bytes.Buffer, s string) {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", fmt.Errorf("read string length: %w", err)
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	s := make([]byte, n)
	if _, err := io.ReadFull(r, s); err != nil {
		return "", fmt.Errorf("read string body: %w", err)
	}
	return string(s), nil
}

// EncodeFARequest serialises an FA_REQ payload.
func EncodeFARequest(req FARequest) []byte {
	var buf bytes.Buffer
	var portBuf [4]byte
	binary.BigEndian.PutUint32(portBuf[:], req.SrcPortID)
	buf.Write(portBuf[:])
	writeString(&buf, req.SrcAppl)
	writeString(&buf, req.DstAppl)
	return buf.Bytes()
}

// DecodeFARequest parses an FA_REQ payload.
func DecodeFARequest(payload []byte) (FARequest, error) {
	r := bytes.NewReader(payload)
	var portBuf [4]byte
	if _, err := io.ReadFull(r, portBuf[:]); err != nil {
		return FARequest{}, fmt.Errorf("read src_port: %w", err)
	}
	srcAppl, err := readString(r)
	if err != nil {
		return FARequest{}, fmt.Errorf("read src_appl: %w", err)
	}
	dstAppl, err := readString(r)
	if err != nil {
		return FARequest{}, fmt.Errorf("read dst_appl: %w", err)
	}
	return FARequest{
		SrcPortID: binary.BigEndian.Uint32(portBuf[:]),
		SrcAppl:   srcAppl,
		DstAppl:   dstAppl,
	}, nil
}

// EncodeFAResponse serialises an FA_RESP payload.
func EncodeFAResponse(resp FAResponse) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], resp.SrcPortID)
	binary.BigEndian.PutUint32(buf[4:8], resp.DstPortID)
	binary.BigEndian.PutUint32(buf[8:12], resp.Response)
	return buf
}

// DecodeFAResponse parses an FA_RESP payload.
func DecodeFAResponse(payload []byte) (FAResponse, error) {
	if len(payload) < 12 {
		return FAResponse{}, fmt.Errorf("kernelchan: FA_RESP payload too short: %d bytes", len(payload))
	}
	return FAResponse{
		SrcPortID: binary.BigEndian.Uint32(payload[0:4]),
		DstPortID: binary.BigEndian.Uint32(payload[4:8]),
		Response:  binary.BigEndian.Uint32(payload[8:12]),
	}, nil
}

// EncodeApplRegister serialises an APPL_REGISTER payload.
func EncodeApplRegister(req ApplRegisterRequest) []byte {
	var buf bytes.Buffer
	if req.Register {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	writeString(&buf, req.ApplName)
	return buf.Bytes()
}

// DecodeApplRegister parses an APPL_REGISTER payload.
func DecodeApplRegister(payload []byte) (ApplRegisterRequest, error) {
	if len(payload) < 1 {
		return ApplRegisterRequest{}, fmt.Errorf("kernelchan: APPL_REGISTER payload too short")
	}
	r := bytes.NewReader(payload[1:])
	name, err := readString(r)
	if err != nil {
		return ApplRegisterRequest{}, fmt.Errorf("read appl_name: %w", err)
	}
	return ApplRegisterRequest{ApplName: name, Register: payload[0] != 0}, nil
}

// EncodeFlowCfgUpdate serialises a FLOW_CFG_UPDATE payload.
func EncodeFlowCfgUpdate(upd FlowCfgUpdate) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, upd.PortID)
	return buf
}

// DecodeFlowCfgUpdate parses a FLOW_CFG_UPDATE payload.
func DecodeFlowCfgUpdate(payload []byte) (FlowCfgUpdate, error) {
	if len(payload) < 4 {
		return FlowCfgUpdate{}, fmt.Errorf("kernelchan: FLOW_CFG_UPDATE payload too short")
	}
	return FlowCfgUpdate{PortID: binary.BigEndian.Uint32(payload[:4])}, nil
}

// EncodeSDU serialises an SDU/SDU_ARRIVED payload.
func EncodeSDU(req SDURequest) []byte {
	buf := make([]byte, 4+len(req.Data))
	binary.BigEndian.PutUint32(buf[:4], req.PortID)
	copy(buf[4:], req.Data)
	return buf
}

// DecodeSDU parses an SDU/SDU_ARRIVED payload.
func DecodeSDU(payload []byte) (SDURequest, error) {
	if len(payload) < 4 {
		return SDURequest{}, fmt.Errorf("kernelchan: SDU payload too short: %d bytes", len(payload))
	}
	data := make([]byte, len(payload)-4)
	copy(data, payload[4:])
	return SDURequest{PortID: binary.BigEndian.Uint32(payload[:4]), Data: data}, nil
}

// encodeResponsePayload packs a result code ahead of an opaque payload, the
// shape every non-up-call response carries.
func encodeResponsePayload(result Result, payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(result))
	copy(buf[4:], payload)
	return buf
}

func decodeResponsePayload(payload []byte) (Result, []byte, error) {
	if len(payload) < 4 {
		return 0, nil, fmt.Errorf("kernelchan: response payload too short: %d bytes", len(payload))
	}
	return Result(binary.BigEndian.Uint32(payload[:4])), payload[4:], nil
}
