package ctrlsock

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const maxFrameLength = 1 << 16 // control commands are small; generous still

const headerLength = 6 // msg_type (2) + event_id (4)

// Encode serialises a Message as a length-prefixed frame, the same shape
// internal/kernelchan.Encode uses.
func Encode(m Message) []byte {
	frame := make([]byte, 4+headerLength+len(m.Payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(headerLength+len(m.Payload)))
	binary.BigEndian.PutUint16(frame[4:6], uint16(m.Type))
	binary.BigEndian.PutUint32(frame[6:10], m.EventID)
	copy(frame[10:], m.Payload)
	return frame
}

// ReadMessage reads one length-prefixed frame from r.
func ReadMessage(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Message{}, err
	}
	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	if frameLen > maxFrameLength {
		return Message{}, fmt.Errorf("ctrlsock: frame length %d exceeds maximum %d", frameLen, maxFrameLength)
	}
	if frameLen < headerLength {
		return Message{}, fmt.Errorf("ctrlsock: frame length %d shorter than header", frameLen)
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

// EncodeEnrol serialises an EnrolRequest payload.
func EncodeEnrol(req EnrolRequest) []byte {
	var buf bytes.Buffer
	writeString(&buf, req.NeighborName)
	writeString(&buf, req.SupportingDIF)
	return buf.Bytes()
}

// DecodeEnrol parses an EnrolRequest payload.
func DecodeEnrol(payload []byte) (EnrolRequest, error) {
	r := bytes.NewReader(payload)
	name, err := readString(r)
	if err != nil {
		return EnrolRequest{}, fmt.Errorf("read neighbor_name: %w", err)
	}
	dif, err := readString(r)
	if err != nil {
		return EnrolRequest{}, fmt.Errorf("read supporting_dif: %w", err)
	}
	return EnrolRequest{NeighborName: name, SupportingDIF: dif}, nil
}

// EncodeApplRegister serialises an ApplRegisterRequest payload.
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

// DecodeApplRegister parses an ApplRegisterRequest payload.
func DecodeApplRegister(payload []byte) (ApplRegisterRequest, error) {
	if len(payload) < 1 {
		return ApplRegisterRequest{}, fmt.Errorf("ctrlsock: APPL_REGISTER payload too short")
	}
	r := bytes.NewReader(payload[1:])
	name, err := readString(r)
	if err != nil {
		return ApplRegisterRequest{}, fmt.Errorf("read appl_name: %w", err)
	}
	return ApplRegisterRequest{ApplName: name, Register: payload[0] != 0}, nil
}

// EncodeCreate serialises a CreateRequest payload.
func EncodeCreate(req CreateRequest) []byte {
	var buf bytes.Buffer
	writeString(&buf, req.DriverName)
	return buf.Bytes()
}

// DecodeCreate parses a CreateRequest payload.
func DecodeCreate(payload []byte) (CreateRequest, error) {
	name, err := readString(bytes.NewReader(payload))
	if err != nil {
		return CreateRequest{}, fmt.Errorf("read driver_name: %w", err)
	}
	return CreateRequest{DriverName: name}, nil
}

// EncodeDestroy serialises a DestroyRequest payload.
func EncodeDestroy(req DestroyRequest) []byte {
	var buf bytes.Buffer
	writeString(&buf, req.DriverName)
	return buf.Bytes()
}

// DecodeDestroy parses a DestroyRequest payload.
func DecodeDestroy(payload []byte) (DestroyRequest, error) {
	name, err := readString(bytes.NewReader(payload))
	if err != nil {
		return DestroyRequest{}, fmt.Errorf("read driver_name: %w", err)
	}
	return DestroyRequest{DriverName: name}, nil
}

func encodeResponsePayload(result Result, payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(result))
	copy(buf[4:], payload)
	return buf
}

func decodeResponsePayload(payload []byte) (Result, []byte, error) {
	if len(payload) < 4 {
		return 0, nil, fmt.Errorf("ctrlsock: response payload too short: %d bytes", len(payload))
	}
	return Result(binary.BigEndian.Uint32(payload[:4])), payload[4:], nil
}
