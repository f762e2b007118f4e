package cdap

import (
	"encoding/binary"
	"fmt"
)

// Session is a stateful CDAP decoder bound to one management flow. Bytes
// arrive off a byte-stream transport and may be fragmented or coalesced
// arbitrarily by the kernel; Session buffers partial frames and yields a
// Message for each complete, length-prefixed frame it accumulates.
//
// A Session is not safe for concurrent use; SPEC_FULL.md's ordering
// guarantee ("within one NF, inbound CDAP messages are dispatched in
// arrival order") holds because each NeighFlow owns exactly one Session
// and feeds it from the single event-loop goroutine.
type Session struct {
	buf []byte
}

// NewSession returns an empty decoder session.
func NewSession() *Session {
	return &Session{}
}

// maxFrameLength bounds a single framed message, guarding against a
// corrupt length prefix causing an unbounded buffer grow.
const maxFrameLength = 16 << 20 // 16 MiB

// Feed appends newly-read bytes and returns every CDAP message that is now
// fully buffered, in arrival order. A protocol violation (bad length
// prefix, malformed body) returns the messages decoded so far plus the
// error; callers should treat that as cause to abort the enrolment per
// SPEC_FULL.md §7.
func (s *Session) Feed(data []byte) ([]*Message, error) {
	s.buf = append(s.buf, data...)

	var out []*Message
	for {
		if len(s.buf) < 4 {
			return out, nil
		}
		frameLen := binary.BigEndian.Uint32(s.buf[:4])
		if frameLen > maxFrameLength {
			return out, fmt.Errorf("cdap: frame length %d exceeds maximum %d", frameLen, maxFrameLength)
		}
		total := 4 + int(frameLen)
		if len(s.buf) < total {
			return out, nil
		}

		msg, err := Decode(s.buf[4:total])
		s.buf = s.buf[total:]
		if err != nil {
			return out, err
		}
		out = append(out, msg)
	}
}

// Reset discards any partially-buffered frame, used when a NeighFlow's
// CDAP session is reset on abort_enrollment().
func (s *Session) Reset() {
	s.buf = nil
}
