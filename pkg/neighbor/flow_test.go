package neighbor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rina-project/ipcpd/internal/cdap"
	"github.com/rina-project/ipcpd/pkg/enroll"
	"github.com/rina-project/ipcpd/pkg/ribtypes"
)

// pipeWriter feeds bytes written to it to a paired Flow's OnBytes on a
// dedicated goroutine, modelling an asynchronous kernel channel. Calling
// OnBytes synchronously from within Write would re-enter the sending
// Flow's own mutex when the peer's reply triggers a send back (the
// handshake ping-pongs both directions), so delivery is queued instead.
type pipeWriter struct {
	peer  *Flow
	ctx   context.Context
	queue chan []byte
	once  sync.Once
}

func (w *pipeWriter) Write(_ context.Context, data []byte) error {
	w.once.Do(func() {
		w.queue = make(chan []byte, 64)
		go func() {
			for msg := range w.queue {
				_ = w.peer.OnBytes(w.ctx, msg)
			}
		}()
	})
	w.queue <- data
	return nil
}

type fakeHooks struct {
	mu          sync.Mutex
	committed   []ribtypes.Address
	candidates  []ribtypes.NeighborCandidate
	dispatched  []*cdap.Message
	nextAddress ribtypes.Address
}

func (h *fakeHooks) AllocateAddress(context.Context) (ribtypes.Address, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextAddress++
	return h.nextAddress, nil
}

func (h *fakeHooks) CommitSelfEdge(_ context.Context, peerAddress ribtypes.Address, _ uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.committed = append(h.committed, peerAddress)
	return nil
}

func (h *fakeHooks) PushSnapshot(_ context.Context, send func(*cdap.Message) error) error {
	return send(&cdap.Message{OpCode: cdap.MCreate, ObjClass: cdap.ObjClassDFT})
}

func (h *fakeHooks) RecordCandidate(_ context.Context, c ribtypes.NeighborCandidate) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.candidates = append(h.candidates, c)
	return nil
}

func (h *fakeHooks) Dispatch(_ context.Context, _ ribtypes.Address, msg *cdap.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dispatched = append(h.dispatched, msg)
	return nil
}

func (h *fakeHooks) MarkEdgeFailed(context.Context, ribtypes.Address) {}

func TestEnrollmentHandshakeEndToEnd(t *testing.T) {
	ctx := context.Background()

	initiatorHooks := &fakeHooks{}
	slaveHooks := &fakeHooks{nextAddress: 99}

	initiator := NewFlow(true, 10, []string{"shim-hv.1"}, enroll.MaxAttempts, nil, initiatorHooks)
	slave := NewFlow(false, 20, []string{"shim-hv.1"}, enroll.MaxAttempts, nil, slaveHooks)

	iw := &pipeWriter{peer: slave, ctx: ctx}
	sw := &pipeWriter{peer: initiator, ctx: ctx}
	initiator.transport = iw
	slave.transport = sw

	done := make(chan error, 1)
	go func() { done <- initiator.StartEnrollment(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not complete")
	}

	assert.Equal(t, enroll.StateEnrolled, initiator.State())
	assert.Equal(t, enroll.StateEnrolled, slave.State())
	assert.NotZero(t, initiator.PeerAddress())
	assert.NotZero(t, slave.PeerAddress())

	initiatorHooks.mu.Lock()
	assert.Len(t, initiatorHooks.committed, 1)
	initiatorHooks.mu.Unlock()

	slaveHooks.mu.Lock()
	assert.Len(t, slaveHooks.committed, 1)
	slaveHooks.mu.Unlock()
}

// TestFlowRetriesThenAbortsAfterMaxAttempts drives three consecutive
// timeout events directly (bypassing the real 1500ms timer) and checks
// that the flow resends M_CONNECT on the first two and gives up with
// ErrAttemptsExhausted on the third, matching NEIGH_ENROLL_MAX_ATTEMPTS=3.
func TestFlowRetriesThenAbortsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	hooks := &fakeHooks{}
	counter := &countingWriter{}
	flow := NewFlow(true, 1, nil, enroll.MaxAttempts, counter, hooks)
	defer flow.Close()

	flow.mu.Lock()
	flow.ctx.EnrollAttempts = 1
	flow.state = enroll.StateIWaitConnectR
	flow.mu.Unlock()

	flow.mu.Lock()
	flow.dispatch(ctx, enroll.Event{Kind: enroll.EventTimeout})
	assert.Equal(t, enroll.StateIWaitConnectR, flow.state)
	flow.mu.Unlock()

	flow.mu.Lock()
	flow.dispatch(ctx, enroll.Event{Kind: enroll.EventTimeout})
	assert.Equal(t, enroll.StateIWaitConnectR, flow.state)
	flow.mu.Unlock()

	flow.mu.Lock()
	flow.dispatch(ctx, enroll.Event{Kind: enroll.EventTimeout})
	finalState := flow.state
	flow.mu.Unlock()

	assert.Equal(t, enroll.StateNone, finalState)

	select {
	case err := <-flow.done:
		assert.ErrorIs(t, err, enroll.ErrAttemptsExhausted)
	case <-time.After(time.Second):
		t.Fatal("expected done channel to be signalled")
	}

	assert.GreaterOrEqual(t, counter.n, 3, "expected at least one M_CONNECT send per retry plus M_RELEASE on final abort")
}

type countingWriter struct{ n int }

func (c *countingWriter) Write(context.Context, []byte) error {
	c.n++
	return nil
}
