package cdap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

func readOpaque(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("cdap: read opaque length: %w", err)
	}
	if length > maxOpaqueLength {
		return nil, fmt.Errorf("cdap: opaque length %d exceeds maximum %d", length, maxOpaqueLength)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("cdap: read opaque data: %w", err)
	}

	padding := (4 - (length % 4)) % 4
	if padding > 0 {
		var pad [3]byte
		if _, err := io.ReadFull(r, pad[:padding]); err != nil {
			return nil, fmt.Errorf("cdap: skip padding: %w", err)
		}
	}
	return data, nil
}

func readString(r io.Reader) (string, error) {
	data, err := readOpaque(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decode parses a single CDAP message from its wire form (the inverse of
// Encode, not EncodeFramed — callers that read off a framed stream strip
// the length prefix first, see Session.Feed).
func Decode(data []byte) (*Message, error) {
	r := bytes.NewReader(data)

	var opCode uint16
	if err := binary.Read(r, binary.BigEndian, &opCode); err != nil {
		return nil, fmt.Errorf("cdap: read op_code: %w", err)
	}

	var invokeID uint32
	if err := binary.Read(r, binary.BigEndian, &invokeID); err != nil {
		return nil, fmt.Errorf("cdap: read invoke_id: %w", err)
	}

	var flags uint8
	if err := binary.Read(r, binary.BigEndian, &flags); err != nil {
		return nil, fmt.Errorf("cdap: read flags: %w", err)
	}

	var result int32
	if err := binary.Read(r, binary.BigEndian, &result); err != nil {
		return nil, fmt.Errorf("cdap: read result: %w", err)
	}

	objClass, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("cdap: read obj_class: %w", err)
	}
	objName, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("cdap: read obj_name: %w", err)
	}
	resultReason, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("cdap: read result_reason: %w", err)
	}
	objValue, err := readOpaque(r)
	if err != nil {
		return nil, fmt.Errorf("cdap: read obj_value: %w", err)
	}

	return &Message{
		OpCode:       OpCode(opCode),
		InvokeID:     invokeID,
		ObjClass:     objClass,
		ObjName:      objName,
		Flags:        Flags(flags),
		Result:       result,
		ResultReason: resultReason,
		ObjValue:     objValue,
	}, nil
}
