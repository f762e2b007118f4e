package rib

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rina-project/ipcpd/internal/cdap"
	"github.com/rina-project/ipcpd/pkg/ribtypes"
)

func TestLFDBHandlerAppliesGreaterSequenceNumber(t *testing.T) {
	r := newTestRIB(1)
	ctx := context.Background()

	first, err := cdap.EncodeLFDBSlice([]cdap.LowerFlowWire{
		{SrcAddress: 2, DstAddress: 3, Cost: 1, SequenceNumber: 1, State: ribtypes.LowerFlowStateActive},
	})
	require.NoError(t, err)
	require.NoError(t, r.LFDBHandler(ctx, 2, &cdap.Message{OpCode: cdap.MCreate, ObjClass: cdap.ObjClassLFDB, ObjValue: first}))

	stale, err := cdap.EncodeLFDBSlice([]cdap.LowerFlowWire{
		{SrcAddress: 2, DstAddress: 3, Cost: 1, SequenceNumber: 0, State: ribtypes.LowerFlowStateFailed},
	})
	require.NoError(t, err)
	require.NoError(t, r.LFDBHandler(ctx, 2, &cdap.Message{OpCode: cdap.MCreate, ObjClass: cdap.ObjClassLFDB, ObjValue: stale}))

	_, lfdb, _ := r.Snapshot()
	require.Len(t, lfdb, 1)
	assert.Equal(t, ribtypes.LowerFlowStateActive, lfdb[0].State, "a lower sequence number must never override")
}

func TestLFDBHandlerBreaksTiesByActiveOverFailed(t *testing.T) {
	r := newTestRIB(1)
	ctx := context.Background()

	failed, err := cdap.EncodeLFDBSlice([]cdap.LowerFlowWire{
		{SrcAddress: 2, DstAddress: 3, SequenceNumber: 5, State: ribtypes.LowerFlowStateFailed},
	})
	require.NoError(t, err)
	require.NoError(t, r.LFDBHandler(ctx, 2, &cdap.Message{OpCode: cdap.MCreate, ObjClass: cdap.ObjClassLFDB, ObjValue: failed}))

	active, err := cdap.EncodeLFDBSlice([]cdap.LowerFlowWire{
		{SrcAddress: 2, DstAddress: 3, SequenceNumber: 5, State: ribtypes.LowerFlowStateActive},
	})
	require.NoError(t, err)
	require.NoError(t, r.LFDBHandler(ctx, 2, &cdap.Message{OpCode: cdap.MCreate, ObjClass: cdap.ObjClassLFDB, ObjValue: active}))

	_, lfdb, _ := r.Snapshot()
	require.Len(t, lfdb, 1)
	assert.Equal(t, ribtypes.LowerFlowStateActive, lfdb[0].State)
}

func TestCommitSelfEdgeInstallsActiveEdge(t *testing.T) {
	r := newTestRIB(1)
	require.NoError(t, r.CommitSelfEdge(context.Background(), 2, 10))

	_, lfdb, _ := r.Snapshot()
	require.Len(t, lfdb, 1)
	assert.Equal(t, ribtypes.Address(1), lfdb[0].SrcAddress)
	assert.Equal(t, ribtypes.Address(2), lfdb[0].DstAddress)
	assert.Equal(t, ribtypes.LowerFlowStateActive, lfdb[0].State)
}

// TestMarkEdgeFailedEvictsAfterKeepaliveThreshold mirrors scenario S5:
// a missed-keepalive threshold must flip the self edge to FAILED with a
// higher sequence number so the update wins everywhere.
func TestMarkEdgeFailedEvictsAfterKeepaliveThreshold(t *testing.T) {
	r := newTestRIB(1)
	ctx := context.Background()
	require.NoError(t, r.CommitSelfEdge(ctx, 2, 10))

	r.MarkEdgeFailed(ctx, 2)

	_, lfdb, _ := r.Snapshot()
	require.Len(t, lfdb, 1)
	assert.Equal(t, ribtypes.LowerFlowStateFailed, lfdb[0].State)
}

func TestPruneStaleLowerFlowsRemovesAgedFailedEdges(t *testing.T) {
	r := newTestRIB(1)
	ctx := context.Background()
	require.NoError(t, r.CommitSelfEdge(ctx, 2, 10))
	r.MarkEdgeFailed(ctx, 2)

	r.mu.Lock()
	for key, flow := range r.lfdb {
		flow.Age = 10
		r.lfdb[key] = flow
	}
	r.mu.Unlock()

	r.PruneStaleLowerFlows(5)

	_, lfdb, _ := r.Snapshot()
	assert.Empty(t, lfdb)
}
