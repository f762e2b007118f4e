package rib

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rina-project/ipcpd/internal/cdap"
	"github.com/rina-project/ipcpd/pkg/ribtypes"
)

// fakeSender records every CDAP message sent to it, standing in for a
// neighbor.Flow's management-flow Send in RIB-only tests.
type fakeSender struct {
	mu   sync.Mutex
	sent []*cdap.Message
	fail bool
}

func (f *fakeSender) Send(_ context.Context, msg *cdap.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) messages() []*cdap.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*cdap.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestRIB(local ribtypes.Address) *RIB {
	return New(Config{
		LocalAddress:   local,
		LocalLowerDIFs: []string{"shim-udp4.DIF"},
		PoolStart:      1,
		PoolEnd:        1000,
		SyncChunkSize:  64,
	})
}

func appName(apn string) ribtypes.Name {
	return ribtypes.Name{APN: apn}
}

// TestApplRegisterRejectsDuplicate matches scenario S3's "duplicate
// register fails" assertion (spec.md §4.4 appl_register).
func TestApplRegisterRejectsDuplicate(t *testing.T) {
	r := newTestRIB(42)
	require.NoError(t, r.ApplRegister(context.Background(), appName("echo")))
	err := r.ApplRegister(context.Background(), appName("echo"))
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestApplUnregisterRequiresExistingEntry(t *testing.T) {
	r := newTestRIB(42)
	err := r.ApplUnregister(context.Background(), appName("echo"))
	assert.ErrorIs(t, err, ErrNotRegistered)
}

// TestApplRegisterFansOutToAllNeighborsExceptNone is scenario S3's
// 3-node propagation: a register on node A must reach every registered
// neighbor, with no special-casing of a "sender" since A originated it.
func TestApplRegisterFansOutToAllNeighborsExceptNone(t *testing.T) {
	r := newTestRIB(42)
	b, c := &fakeSender{}, &fakeSender{}
	r.RegisterNeighbor(43, b)
	r.RegisterNeighbor(44, c)

	require.NoError(t, r.ApplRegister(context.Background(), appName("echo")))

	for _, sender := range []*fakeSender{b, c} {
		msgs := sender.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, cdap.MCreate, msgs[0].OpCode)
		assert.Equal(t, cdap.ObjClassDFT, msgs[0].ObjClass)
	}
}

// TestDFTHandlerDoesNotEchoBackToSender is scenario S3's "no send-back-
// to-sender" assertion: node B relays an update it received from A
// (address 42) to C (address 44) but not back to A.
func TestDFTHandlerDoesNotEchoBackToSender(t *testing.T) {
	r := newTestRIB(43)
	a, c := &fakeSender{}, &fakeSender{}
	r.RegisterNeighbor(42, a)
	r.RegisterNeighbor(44, c)

	wire, err := cdap.EncodeDFTSlice([]cdap.DFTEntryWire{
		{ApplName: appName("echo"), Address: 42, Timestamp: 1},
	})
	require.NoError(t, err)
	msg := &cdap.Message{OpCode: cdap.MCreate, ObjClass: cdap.ObjClassDFT, ObjValue: wire}

	require.NoError(t, r.DFTHandler(context.Background(), 42, msg))

	assert.Empty(t, a.messages(), "sender must not receive its own update echoed back")
	require.Len(t, c.messages(), 1)
}

// TestDFTHandlerRetainsHigherTimestampEntry is scenario S4: a DFT
// conflict at the same (name, address) slot retains the higher-
// timestamp entry and re-propagates an M_DELETE for the losing one.
func TestDFTHandlerRetainsHigherTimestampEntry(t *testing.T) {
	r := newTestRIB(99)
	peer := &fakeSender{}
	r.RegisterNeighbor(42, peer)

	ctx := context.Background()
	name := appName("echo")

	newer, err := cdap.EncodeDFTSlice([]cdap.DFTEntryWire{{ApplName: name, Address: 7, Timestamp: 100}})
	require.NoError(t, err)
	require.NoError(t, r.DFTHandler(ctx, 42, &cdap.Message{OpCode: cdap.MCreate, ObjClass: cdap.ObjClassDFT, ObjValue: newer}))

	stale, err := cdap.EncodeDFTSlice([]cdap.DFTEntryWire{{ApplName: name, Address: 7, Timestamp: 50}})
	require.NoError(t, err)
	require.NoError(t, r.DFTHandler(ctx, 42, &cdap.Message{OpCode: cdap.MCreate, ObjClass: cdap.ObjClassDFT, ObjValue: stale}))

	dft, _, _ := r.Snapshot()
	require.Len(t, dft, 1)
	assert.Equal(t, int64(100), dft[0].Timestamp, "higher-timestamp entry must survive the conflict")
}

func TestDFTHandlerDeletesMatchingEntry(t *testing.T) {
	r := newTestRIB(99)
	ctx := context.Background()
	name := appName("echo")

	create, err := cdap.EncodeDFTSlice([]cdap.DFTEntryWire{{ApplName: name, Address: 7, Timestamp: 1}})
	require.NoError(t, err)
	require.NoError(t, r.DFTHandler(ctx, 42, &cdap.Message{OpCode: cdap.MCreate, ObjClass: cdap.ObjClassDFT, ObjValue: create}))

	del, err := cdap.EncodeDFTSlice([]cdap.DFTEntryWire{{ApplName: name, Address: 7, Timestamp: 1}})
	require.NoError(t, err)
	require.NoError(t, r.DFTHandler(ctx, 42, &cdap.Message{OpCode: cdap.MDelete, ObjClass: cdap.ObjClassDFT, ObjValue: del}))

	dft, _, _ := r.Snapshot()
	assert.Empty(t, dft)
}

func TestFanOutToleratesSendFailure(t *testing.T) {
	r := newTestRIB(1)
	ok := &fakeSender{}
	broken := &fakeSender{fail: true}
	r.RegisterNeighbor(2, ok)
	r.RegisterNeighbor(3, broken)

	require.NoError(t, r.ApplRegister(context.Background(), appName("echo")))

	assert.Len(t, ok.messages(), 1, "a failing peer must not block delivery to a healthy one")
}
