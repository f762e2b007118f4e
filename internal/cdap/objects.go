package cdap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rina-project/ipcpd/pkg/ribtypes"
)

// EnrollmentInfo is the nested object carried by M_START/M_START_R during
// the enrolment handshake (SPEC_FULL.md §4.3): the sender's address and
// the lower DIFs it participates in.
type EnrollmentInfo struct {
	Address   ribtypes.Address
	LowerDIFs []string
}

// EncodeEnrollmentInfo serialises an EnrollmentInfo for use as a
// Message.ObjValue.
func EncodeEnrollmentInfo(e *EnrollmentInfo) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint64(e.Address)); err != nil {
		return nil, fmt.Errorf("cdap: write enrollment address: %w", err)
	}
	if err := writeStringSlice(&buf, e.LowerDIFs); err != nil {
		return nil, fmt.Errorf("cdap: write enrollment lower difs: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeEnrollmentInfo parses the nested object written by
// EncodeEnrollmentInfo.
func DecodeEnrollmentInfo(data []byte) (*EnrollmentInfo, error) {
	r := bytes.NewReader(data)
	var addr uint64
	if err := binary.Read(r, binary.BigEndian, &addr); err != nil {
		return nil, fmt.Errorf("cdap: read enrollment address: %w", err)
	}
	difs, err := readStringSlice(r)
	if err != nil {
		return nil, fmt.Errorf("cdap: read enrollment lower difs: %w", err)
	}
	return &EnrollmentInfo{Address: ribtypes.Address(addr), LowerDIFs: difs}, nil
}

// DFTEntryWire is the wire form of a ribtypes.DFTEntry.
type DFTEntryWire struct {
	ApplName  ribtypes.Name
	Address   ribtypes.Address
	Timestamp int64
}

// EncodeDFTSlice serialises a slice of DFT entries (the nested object of
// an M_CREATE/M_DELETE on the DFT object, SPEC_FULL.md §4.4).
func EncodeDFTSlice(entries []DFTEntryWire) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(entries))); err != nil {
		return nil, fmt.Errorf("cdap: write dft count: %w", err)
	}
	for i, e := range entries {
		if err := writeName(&buf, e.ApplName); err != nil {
			return nil, fmt.Errorf("cdap: write dft[%d] name: %w", i, err)
		}
		if err := binary.Write(&buf, binary.BigEndian, uint64(e.Address)); err != nil {
			return nil, fmt.Errorf("cdap: write dft[%d] address: %w", i, err)
		}
		if err := binary.Write(&buf, binary.BigEndian, e.Timestamp); err != nil {
			return nil, fmt.Errorf("cdap: write dft[%d] timestamp: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeDFTSlice parses the nested object written by EncodeDFTSlice.
func DecodeDFTSlice(data []byte) ([]DFTEntryWire, error) {
	r := bytes.NewReader(data)
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("cdap: read dft count: %w", err)
	}
	entries := make([]DFTEntryWire, 0, count)
	for i := uint32(0); i < count; i++ {
		name, err := readName(r)
		if err != nil {
			return nil, fmt.Errorf("cdap: read dft[%d] name: %w", i, err)
		}
		var addr uint64
		if err := binary.Read(r, binary.BigEndian, &addr); err != nil {
			return nil, fmt.Errorf("cdap: read dft[%d] address: %w", i, err)
		}
		var ts int64
		if err := binary.Read(r, binary.BigEndian, &ts); err != nil {
			return nil, fmt.Errorf("cdap: read dft[%d] timestamp: %w", i, err)
		}
		entries = append(entries, DFTEntryWire{ApplName: name, Address: ribtypes.Address(addr), Timestamp: ts})
	}
	return entries, nil
}

// LowerFlowWire is the wire form of a ribtypes.LowerFlow.
type LowerFlowWire struct {
	SrcAddress     ribtypes.Address
	DstAddress     ribtypes.Address
	Cost           uint32
	SequenceNumber uint64
	Age            uint32
	State          ribtypes.LowerFlowState
}

// EncodeLFDBSlice serialises a slice of lower-flow records.
func EncodeLFDBSlice(flows []LowerFlowWire) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(flows))); err != nil {
		return nil, fmt.Errorf("cdap: write lfdb count: %w", err)
	}
	for i, f := range flows {
		fields := []any{
			uint64(f.SrcAddress), uint64(f.DstAddress), f.Cost,
			f.SequenceNumber, f.Age, uint8(f.State),
		}
		for _, field := range fields {
			if err := binary.Write(&buf, binary.BigEndian, field); err != nil {
				return nil, fmt.Errorf("cdap: write lfdb[%d]: %w", i, err)
			}
		}
	}
	return buf.Bytes(), nil
}

// DecodeLFDBSlice parses the nested object written by EncodeLFDBSlice.
func DecodeLFDBSlice(data []byte) ([]LowerFlowWire, error) {
	r := bytes.NewReader(data)
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("cdap: read lfdb count: %w", err)
	}
	flows := make([]LowerFlowWire, 0, count)
	for i := uint32(0); i < count; i++ {
		var src, dst uint64
		var cost, age uint32
		var seq uint64
		var state uint8
		for _, field := range []any{&src, &dst, &cost, &seq, &age, &state} {
			if err := binary.Read(r, binary.BigEndian, field); err != nil {
				return nil, fmt.Errorf("cdap: read lfdb[%d]: %w", i, err)
			}
		}
		flows = append(flows, LowerFlowWire{
			SrcAddress: ribtypes.Address(src), DstAddress: ribtypes.Address(dst),
			Cost: cost, SequenceNumber: seq, Age: age, State: ribtypes.LowerFlowState(state),
		})
	}
	return flows, nil
}

// NeighborCandidateWire is the wire form of a ribtypes.NeighborCandidate.
type NeighborCandidateWire struct {
	APN       string
	API       string
	Address   ribtypes.Address
	LowerDIFs []string
}

// EncodeNeighborsSlice serialises a slice of neighbor-candidate records
// (the object pushed during enrolment and on Neighbor-Candidate updates).
func EncodeNeighborsSlice(candidates []NeighborCandidateWire) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(candidates))); err != nil {
		return nil, fmt.Errorf("cdap: write neighbors count: %w", err)
	}
	for i, c := range candidates {
		if err := writeString(&buf, c.APN); err != nil {
			return nil, fmt.Errorf("cdap: write neighbors[%d] apn: %w", i, err)
		}
		if err := writeString(&buf, c.API); err != nil {
			return nil, fmt.Errorf("cdap: write neighbors[%d] api: %w", i, err)
		}
		if err := binary.Write(&buf, binary.BigEndian, uint64(c.Address)); err != nil {
			return nil, fmt.Errorf("cdap: write neighbors[%d] address: %w", i, err)
		}
		if err := writeStringSlice(&buf, c.LowerDIFs); err != nil {
			return nil, fmt.Errorf("cdap: write neighbors[%d] lower difs: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeNeighborsSlice parses the nested object written by
// EncodeNeighborsSlice.
func DecodeNeighborsSlice(data []byte) ([]NeighborCandidateWire, error) {
	r := bytes.NewReader(data)
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("cdap: read neighbors count: %w", err)
	}
	out := make([]NeighborCandidateWire, 0, count)
	for i := uint32(0); i < count; i++ {
		apn, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("cdap: read neighbors[%d] apn: %w", i, err)
		}
		api, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("cdap: read neighbors[%d] api: %w", i, err)
		}
		var addr uint64
		if err := binary.Read(r, binary.BigEndian, &addr); err != nil {
			return nil, fmt.Errorf("cdap: read neighbors[%d] address: %w", i, err)
		}
		difs, err := readStringSlice(r)
		if err != nil {
			return nil, fmt.Errorf("cdap: read neighbors[%d] lower difs: %w", i, err)
		}
		out = append(out, NeighborCandidateWire{APN: apn, API: api, Address: ribtypes.Address(addr), LowerDIFs: difs})
	}
	return out, nil
}

func writeName(buf *bytes.Buffer, n ribtypes.Name) error {
	for _, part := range []string{n.APN, n.API, n.AEN, n.AEI} {
		if err := writeString(buf, part); err != nil {
			return err
		}
	}
	return nil
}

func readName(r io.Reader) (ribtypes.Name, error) {
	parts := make([]string, 4)
	for i := range parts {
		s, err := readString(r)
		if err != nil {
			return ribtypes.Name{}, err
		}
		parts[i] = s
	}
	return ribtypes.Name{APN: parts[0], API: parts[1], AEN: parts[2], AEI: parts[3]}, nil
}

func writeStringSlice(buf *bytes.Buffer, ss []string) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(ss))); err != nil {
		return err
	}
	for _, s := range ss {
		if err := writeString(buf, s); err != nil {
			return err
		}
	}
	return nil
}

func readStringSlice(r io.Reader) ([]string, error) {
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	out := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
