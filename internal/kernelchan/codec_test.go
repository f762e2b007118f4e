package kernelchan

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeReadMessageRoundTrip(t *testing.T) {
	msg := Message{Type: MsgFAReq, EventID: 42, Payload: []byte("hello")}
	frame := Encode(msg)

	got, err := ReadMessage(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestReadMessageRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	lenBuf := make([]byte, 4)
	for i := range lenBuf {
		lenBuf[i] = 0xFF
	}
	buf.Write(lenBuf)
	_, err := ReadMessage(&buf)
	assert.Error(t, err)
}

func TestFARequestRoundTrip(t *testing.T) {
	req := FARequest{SrcPortID: 7, SrcAppl: "client", DstAppl: "echo|1"}
	got, err := DecodeFARequest(EncodeFARequest(req))
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestFAResponseRoundTrip(t *testing.T) {
	resp := FAResponse{SrcPortID: 1, DstPortID: 2, Response: 0}
	got, err := DecodeFAResponse(EncodeFAResponse(resp))
	require.NoError(t, err)
	assert.Equal(t, resp, got)
}

func TestApplRegisterRoundTrip(t *testing.T) {
	req := ApplRegisterRequest{ApplName: "echo", Register: true}
	got, err := DecodeApplRegister(EncodeApplRegister(req))
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestSDURoundTrip(t *testing.T) {
	req := SDURequest{PortID: 9, Data: []byte("M_CONNECT...")}
	got, err := DecodeSDU(EncodeSDU(req))
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestDecodeSDURejectsShortPayload(t *testing.T) {
	_, err := DecodeSDU([]byte{0, 1})
	assert.Error(t, err)
}

func TestResponsePayloadRoundTrip(t *testing.T) {
	encoded := encodeResponsePayload(ResultSuccess, []byte("payload"))
	result, payload, err := decodeResponsePayload(encoded)
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, result)
	assert.Equal(t, []byte("payload"), payload)
}
