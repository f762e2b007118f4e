package neighbor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rina-project/ipcpd/internal/cdap"
	"github.com/rina-project/ipcpd/pkg/enroll"
	"github.com/rina-project/ipcpd/pkg/ribtypes"
)

// Writer abstracts the allocated flow a Flow's CDAP session rides on —
// one direction of a kernel-allocated N-1 flow, framed management bytes
// out, raw bytes in via OnBytes. Concrete implementations live in
// internal/kernelchan.
type Writer interface {
	Write(ctx context.Context, data []byte) error
}

// Flow drives one neighbor management flow's enrolment handshake and,
// once ENROLLED, its keepalive cycle and object-traffic dispatch. A Flow
// owns exactly one enroll.State and one cdap.Session; SPEC_FULL.md's
// ordering guarantee (inbound messages on one NF are processed in arrival
// order) holds because mu serialises every call into the FSM.
type Flow struct {
	mu    sync.Mutex
	state enroll.State
	ctx   enroll.Context

	session   *cdap.Session
	transport Writer
	hooks     RIBHooks

	invokeID atomic.Uint32
	timer    *time.Timer

	// done is a oneshot completion channel for the blocking enrolment
	// call (StartEnrollment/Accept), replacing the original's condition
	// variable per SPEC_FULL.md §9 — exactly one send, exactly one close.
	done     chan error
	doneOnce sync.Once

	peerAddress  ribtypes.Address
	localAddress ribtypes.Address

	activity bool
}

// consumeActivity must be called with mu held. It reports whether any
// message arrived since the last call and clears the flag.
func (f *Flow) consumeActivity() bool {
	saw := f.activity
	f.activity = false
	return saw
}

// NewFlow constructs a Flow for one management flow to a peer.
// initiator selects which side of the handshake this flow drives;
// localAddress/localLowerDIFs are this IPCP's own identity, fed into
// enroll.Context on every Transition call.
func NewFlow(initiator bool, localAddress ribtypes.Address, localLowerDIFs []string, maxAttempts int, transport Writer, hooks RIBHooks) *Flow {
	return &Flow{
		state: enroll.StateNone,
		ctx: enroll.Context{
			Initiator:      initiator,
			LocalAddress:   uint64(localAddress),
			LocalLowerDIFs: localLowerDIFs,
			MaxAttempts:    maxAttempts,
		},
		session:      cdap.NewSession(),
		transport:    transport,
		hooks:        hooks,
		done:         make(chan error, 1),
		localAddress: localAddress,
	}
}

// State reports the flow's current enrolment state.
func (f *Flow) State() enroll.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// PeerAddress reports the neighbor's address, once learned (zero before).
func (f *Flow) PeerAddress() ribtypes.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peerAddress
}

// StartEnrollment kicks off the initiator side and blocks until the
// handshake completes (ENROLLED), fails, or ctx is cancelled.
func (f *Flow) StartEnrollment(ctx context.Context) error {
	f.mu.Lock()
	f.ctx.EnrollAttempts++
	f.dispatch(ctx, enroll.Event{Kind: enroll.EventLocalStart})
	f.mu.Unlock()

	select {
	case err := <-f.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnBytes feeds newly-arrived bytes from the transport into the CDAP
// session, dispatching every complete message it yields.
func (f *Flow) OnBytes(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	msgs, err := f.session.Feed(data)
	for _, msg := range msgs {
		f.activity = true
		f.dispatch(ctx, enroll.Event{Kind: enroll.EventMessage, Msg: msg})
	}
	if err != nil {
		f.dispatch(ctx, enroll.Event{Kind: enroll.EventTimeout}) // force abort path
		return fmt.Errorf("neighbor: session feed: %w", err)
	}
	return nil
}

// dispatch must be called with mu held. It calls Transition, applies the
// resulting actions, and — when an initiator's enrolment aborts without a
// final ActionSignalAborted — increments EnrollAttempts and replays
// EventLocalStart itself to retry.
func (f *Flow) dispatch(ctx context.Context, ev enroll.Event) {
	f.ctx.ResolvedPeerAddress = 0
	if ev.Kind == enroll.EventMessage && ev.Msg != nil && ev.Msg.OpCode == cdap.MStart && f.state == enroll.StateSWaitStart {
		if info, err := cdap.DecodeEnrollmentInfo(ev.Msg.ObjValue); err == nil && info.Address == 0 {
			addr, err := f.hooks.AllocateAddress(ctx)
			if err == nil {
				f.ctx.ResolvedPeerAddress = uint64(addr)
			}
		}
	}

	wasActive := f.state != enroll.StateNone
	next, actions := enroll.Transition(f.state, ev, f.ctx)
	f.state = next
	f.applyActions(ctx, actions)

	if f.ctx.Initiator && wasActive && next == enroll.StateNone && f.retryPending(actions) {
		f.ctx.EnrollAttempts++
		next, retryActions := enroll.Transition(enroll.StateNone, enroll.Event{Kind: enroll.EventLocalStart}, f.ctx)
		f.state = next
		f.applyActions(ctx, retryActions)
	}
}

// retryPending reports whether actions is a non-final abort (no
// ActionSignalAborted present), meaning the driver should itself replay
// EventLocalStart to retry the connect attempt.
func (f *Flow) retryPending(actions []enroll.Action) bool {
	for _, a := range actions {
		if a.Kind == enroll.ActionSignalAborted {
			return false
		}
	}
	return true
}

func (f *Flow) applyActions(ctx context.Context, actions []enroll.Action) {
	for _, a := range actions {
		switch a.Kind {
		case enroll.ActionSend:
			f.send(ctx, a.Msg)
		case enroll.ActionStartTimer:
			f.armTimer(ctx)
		case enroll.ActionCancelTimer:
			f.cancelTimerLocked()
		case enroll.ActionResetSession:
			f.session.Reset()
		case enroll.ActionAdoptAddress:
			f.localAddress = ribtypes.Address(a.Address)
		case enroll.ActionRecordCandidate:
			_ = f.hooks.RecordCandidate(ctx, a.Candidate)
			if a.Candidate.Address != 0 {
				f.peerAddress = a.Candidate.Address
			}
		case enroll.ActionCommitSelfEdge:
			if f.peerAddress != 0 {
				_ = f.hooks.CommitSelfEdge(ctx, f.peerAddress, 1)
			}
		case enroll.ActionPushSnapshot:
			_ = f.hooks.PushSnapshot(ctx, func(m *cdap.Message) error { return f.send(ctx, m) })
		case enroll.ActionDispatchToRIB:
			_ = f.hooks.Dispatch(ctx, f.peerAddress, a.Msg)
		case enroll.ActionSignalDone:
			f.signal(nil)
		case enroll.ActionSignalAborted:
			f.signal(a.Err)
		}
	}
}

// Send transmits a CDAP message outside the enrolment handshake — RIB
// object traffic (DFT/LFDB/Neighbors pushes) on an already-ENROLLED flow.
// It refuses to send while enrolment is still in progress.
func (f *Flow) Send(ctx context.Context, msg *cdap.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != enroll.StateEnrolled {
		return fmt.Errorf("neighbor: flow not enrolled, state %s", f.state)
	}
	return f.send(ctx, msg)
}

func (f *Flow) send(ctx context.Context, msg *cdap.Message) error {
	if msg.InvokeID == 0 {
		msg.InvokeID = f.invokeID.Add(1)
	}
	framed, err := cdap.EncodeFramed(msg)
	if err != nil {
		return fmt.Errorf("neighbor: encode %s: %w", msg.OpCode, err)
	}
	return f.transport.Write(ctx, framed)
}

func (f *Flow) armTimer(ctx context.Context) {
	f.cancelTimerLocked()
	f.timer = time.AfterFunc(enroll.Timeout*time.Millisecond, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.dispatch(ctx, enroll.Event{Kind: enroll.EventTimeout})
	})
}

func (f *Flow) cancelTimer() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelTimerLocked()
}

func (f *Flow) cancelTimerLocked() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

// Close tears down the flow: disarms any pending timer and, if the
// handshake never completed, wakes a blocked StartEnrollment caller.
func (f *Flow) Close() {
	f.cancelTimer()
	f.signal(fmt.Errorf("neighbor: flow closed"))
}

func (f *Flow) signal(err error) {
	f.doneOnce.Do(func() {
		f.done <- err
		close(f.done)
	})
}
