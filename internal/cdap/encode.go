package cdap

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// maxOpaqueLength bounds a single length-prefixed field, guarding against a
// corrupt or hostile peer claiming an enormous allocation.
const maxOpaqueLength = 4 << 20 // 4 MiB

// writeOpaque encodes length-prefixed, 4-byte-aligned opaque data: the same
// [length:uint32][data][padding] shape the pack's XDR codec uses for
// variable-length fields.
func writeOpaque(buf *bytes.Buffer, data []byte) error {
	length := uint32(len(data))
	if err := binary.Write(buf, binary.BigEndian, length); err != nil {
		return fmt.Errorf("cdap: write opaque length: %w", err)
	}
	if _, err := buf.Write(data); err != nil {
		return fmt.Errorf("cdap: write opaque data: %w", err)
	}
	return writePadding(buf, length)
}

func writeString(buf *bytes.Buffer, s string) error {
	return writeOpaque(buf, []byte(s))
}

func writePadding(buf *bytes.Buffer, length uint32) error {
	padding := (4 - (length % 4)) % 4
	if padding == 0 {
		return nil
	}
	var zero [3]byte
	_, err := buf.Write(zero[:padding])
	return err
}

// Encode serialises a CDAP message to its wire form.
//
// Layout: op_code(2) invoke_id(4) flags(1) result(4) obj_class(opaque)
// obj_name(opaque) result_reason(opaque) obj_value(opaque). Encoding the
// fixed-width fields first and the variable-length fields last keeps the
// decoder simple: it never needs to look ahead past a length it hasn't
// read yet.
func Encode(m *Message) ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.BigEndian, uint16(m.OpCode)); err != nil {
		return nil, fmt.Errorf("cdap: write op_code: %w", err)
	}
	if err := binary.Write(&buf, binary.BigEndian, m.InvokeID); err != nil {
		return nil, fmt.Errorf("cdap: write invoke_id: %w", err)
	}
	if err := binary.Write(&buf, binary.BigEndian, uint8(m.Flags)); err != nil {
		return nil, fmt.Errorf("cdap: write flags: %w", err)
	}
	if err := binary.Write(&buf, binary.BigEndian, m.Result); err != nil {
		return nil, fmt.Errorf("cdap: write result: %w", err)
	}
	if err := writeString(&buf, m.ObjClass); err != nil {
		return nil, fmt.Errorf("cdap: write obj_class: %w", err)
	}
	if err := writeString(&buf, m.ObjName); err != nil {
		return nil, fmt.Errorf("cdap: write obj_name: %w", err)
	}
	if err := writeString(&buf, m.ResultReason); err != nil {
		return nil, fmt.Errorf("cdap: write result_reason: %w", err)
	}
	if err := writeOpaque(&buf, m.ObjValue); err != nil {
		return nil, fmt.Errorf("cdap: write obj_value: %w", err)
	}

	return buf.Bytes(), nil
}

// EncodeFramed wraps Encode's output in a 4-byte big-endian length prefix,
// the framing management flows need since the underlying flow is a byte
// stream with no message boundaries of its own (SPEC_FULL.md §6).
func EncodeFramed(m *Message) ([]byte, error) {
	body, err := Encode(m)
	if err != nil {
		return nil, err
	}
	framed := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(framed, uint32(len(body)))
	copy(framed[4:], body)
	return framed, nil
}
