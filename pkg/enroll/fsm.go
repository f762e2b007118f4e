package enroll

import (
	"github.com/rina-project/ipcpd/internal/cdap"
	"github.com/rina-project/ipcpd/pkg/ribtypes"
)

// Transition computes the next state and the actions the caller must
// perform in response to ev, given the machine is currently in state with
// ctx describing what is known so far. It never blocks, sends, starts a
// timer, or mutates shared state itself.
func Transition(state State, ev Event, ctx Context) (State, []Action) {
	switch state {
	case StateNone:
		return transitionNone(ev, ctx)
	case StateIWaitConnectR:
		return transitionIWaitConnectR(ev, ctx)
	case StateSWaitStart:
		return transitionSWaitStart(ev, ctx)
	case StateIWaitStartR:
		return transitionIWaitStartR(ev, ctx)
	case StateSWaitStopR:
		return transitionSWaitStopR(ev, ctx)
	case StateIWaitStop:
		return transitionIWaitStop(ev, ctx)
	case StateIWaitStart:
		return abort(ctx, ErrProtocolViolation)
	case StateEnrolled:
		return transitionEnrolled(ev, ctx)
	default:
		return abort(ctx, ErrProtocolViolation)
	}
}

func transitionNone(ev Event, ctx Context) (State, []Action) {
	switch {
	case ev.Kind == EventLocalStart && ctx.Initiator:
		msg := &cdap.Message{
			OpCode:   cdap.MConnect,
			InvokeID: 1,
			ObjClass: cdap.ObjClassEnrollment,
			ObjName:  cdap.ObjNameEnrollment,
		}
		return StateIWaitConnectR, []Action{
			{Kind: ActionSend, Msg: msg},
			{Kind: ActionStartTimer},
		}
	case ev.Kind == EventMessage && !ctx.Initiator && ev.Msg != nil && ev.Msg.OpCode == cdap.MConnect:
		msg := &cdap.Message{OpCode: cdap.MConnectR, InvokeID: ev.Msg.InvokeID}
		return StateSWaitStart, []Action{
			{Kind: ActionSend, Msg: msg},
			{Kind: ActionStartTimer},
		}
	default:
		return StateNone, nil
	}
}

func transitionIWaitConnectR(ev Event, ctx Context) (State, []Action) {
	if ev.Kind == EventTimeout {
		return abort(ctx, ErrTimeout)
	}
	if ev.Kind != EventMessage || ev.Msg == nil || ev.Msg.OpCode != cdap.MConnectR {
		return abort(ctx, ErrProtocolViolation)
	}

	// The initiator advertises its own address so the slave can record it
	// as a neighbor candidate even before committing the LFDB edge.
	info := &cdap.EnrollmentInfo{Address: ribtypes.Address(ctx.LocalAddress), LowerDIFs: ctx.LocalLowerDIFs}
	payload, err := cdap.EncodeEnrollmentInfo(info)
	if err != nil {
		return abort(ctx, err)
	}
	msg := &cdap.Message{
		OpCode:   cdap.MStart,
		InvokeID: ev.Msg.InvokeID,
		ObjClass: cdap.ObjClassEnrollment,
		ObjName:  cdap.ObjNameEnrollment,
		ObjValue: payload,
	}
	return StateIWaitStartR, []Action{
		{Kind: ActionSend, Msg: msg},
		{Kind: ActionStartTimer},
	}
}

func transitionSWaitStart(ev Event, ctx Context) (State, []Action) {
	if ev.Kind == EventTimeout {
		return abort(ctx, ErrTimeout)
	}
	if ev.Kind != EventMessage || ev.Msg == nil || ev.Msg.OpCode != cdap.MStart {
		return abort(ctx, ErrProtocolViolation)
	}

	peerInfo, err := cdap.DecodeEnrollmentInfo(ev.Msg.ObjValue)
	if err != nil {
		return abort(ctx, err)
	}

	assigned := ctx.ResolvedPeerAddress
	if assigned == 0 {
		assigned = uint64(peerInfo.Address)
	}

	startR := &cdap.Message{
		OpCode:   cdap.MStartR,
		InvokeID: ev.Msg.InvokeID,
		ObjClass: cdap.ObjClassEnrollment,
		ObjName:  cdap.ObjNameEnrollment,
	}
	if assignedInfo, err := cdap.EncodeEnrollmentInfo(&cdap.EnrollmentInfo{Address: ribtypes.Address(assigned)}); err == nil {
		startR.ObjValue = assignedInfo
	} else {
		return abort(ctx, err)
	}

	selfCandidate, err := cdap.EncodeNeighborsSlice([]cdap.NeighborCandidateWire{{
		Address:   ribtypes.Address(ctx.LocalAddress),
		LowerDIFs: ctx.LocalLowerDIFs,
	}})
	if err != nil {
		return abort(ctx, err)
	}
	pushSelf := &cdap.Message{
		OpCode:   cdap.MCreate,
		InvokeID: ev.Msg.InvokeID,
		ObjClass: cdap.ObjClassNeighbors,
		ObjName:  cdap.ObjNameNeighbors,
		ObjValue: selfCandidate,
	}

	stop := &cdap.Message{
		OpCode:   cdap.MStop,
		InvokeID: ev.Msg.InvokeID,
		ObjClass: cdap.ObjClassEnrollment,
		ObjName:  cdap.ObjNameEnrollment,
		Flags:    cdap.FlagStartEarly,
	}

	return StateSWaitStopR, []Action{
		{Kind: ActionRecordCandidate, Candidate: ribtypes.NeighborCandidate{
			Address: peerInfo.Address, LowerDIFs: peerInfo.LowerDIFs,
		}},
		{Kind: ActionSend, Msg: startR},
		{Kind: ActionSend, Msg: pushSelf},
		{Kind: ActionSend, Msg: stop},
		{Kind: ActionStartTimer},
	}
}

func transitionIWaitStartR(ev Event, ctx Context) (State, []Action) {
	if ev.Kind == EventTimeout {
		return abort(ctx, ErrTimeout)
	}
	if ev.Kind != EventMessage || ev.Msg == nil || ev.Msg.OpCode != cdap.MStartR {
		return abort(ctx, ErrProtocolViolation)
	}

	var actions []Action
	if len(ev.Msg.ObjValue) > 0 {
		info, err := cdap.DecodeEnrollmentInfo(ev.Msg.ObjValue)
		if err != nil {
			return abort(ctx, err)
		}
		if info.Address != 0 {
			actions = append(actions, Action{Kind: ActionAdoptAddress, Address: uint64(info.Address)})
		}
	}
	actions = append(actions, Action{Kind: ActionStartTimer})
	return StateIWaitStop, actions
}

func transitionIWaitStop(ev Event, ctx Context) (State, []Action) {
	if ev.Kind == EventTimeout {
		return abort(ctx, ErrTimeout)
	}
	if ev.Kind != EventMessage || ev.Msg == nil {
		return abort(ctx, ErrProtocolViolation)
	}

	switch ev.Msg.OpCode {
	case cdap.MStop:
		stopR := &cdap.Message{OpCode: cdap.MStopR, InvokeID: ev.Msg.InvokeID}
		if ev.Msg.Flags.Has(cdap.FlagStartEarly) {
			return StateEnrolled, []Action{
				{Kind: ActionSend, Msg: stopR},
				{Kind: ActionCommitSelfEdge},
				{Kind: ActionPushSnapshot},
				{Kind: ActionCancelTimer},
				{Kind: ActionSignalDone},
			}
		}
		return StateIWaitStart, []Action{
			{Kind: ActionSend, Msg: stopR},
			{Kind: ActionStartTimer},
		}
	case cdap.MCreate:
		if ev.Msg.ObjClass == cdap.ObjClassNeighbors {
			candidates, err := cdap.DecodeNeighborsSlice(ev.Msg.ObjValue)
			if err != nil {
				return abort(ctx, err)
			}
			var actions []Action
			for _, c := range candidates {
				actions = append(actions, Action{Kind: ActionRecordCandidate, Candidate: ribtypes.NeighborCandidate{
					APN: c.APN, API: c.API, Address: c.Address, LowerDIFs: c.LowerDIFs,
				}})
			}
			return StateIWaitStop, actions
		}
		return StateIWaitStop, []Action{{Kind: ActionDispatchToRIB, Msg: ev.Msg}}
	default:
		return abort(ctx, ErrProtocolViolation)
	}
}

func transitionSWaitStopR(ev Event, ctx Context) (State, []Action) {
	if ev.Kind == EventTimeout {
		return abort(ctx, ErrTimeout)
	}
	if ev.Kind != EventMessage || ev.Msg == nil || ev.Msg.OpCode != cdap.MStopR {
		return abort(ctx, ErrProtocolViolation)
	}

	status := &cdap.Message{
		OpCode:   cdap.MStart,
		InvokeID: ev.Msg.InvokeID,
		ObjClass: cdap.ObjClassEnrollment,
		ObjName:  cdap.ObjNameEnrollment,
	}
	return StateEnrolled, []Action{
		{Kind: ActionSend, Msg: status},
		{Kind: ActionCommitSelfEdge},
		{Kind: ActionPushSnapshot},
		{Kind: ActionCancelTimer},
		{Kind: ActionSignalDone},
	}
}

func transitionEnrolled(ev Event, ctx Context) (State, []Action) {
	if ev.Kind != EventMessage || ev.Msg == nil {
		return StateEnrolled, nil
	}
	if ev.Msg.OpCode == cdap.MStart {
		// A redundant status message from an initiator that took the
		// non-early path while we already completed via start_early.
		return StateEnrolled, nil
	}
	if ev.Msg.OpCode == cdap.MRead && ev.Msg.ObjClass == cdap.ObjClassKeepalive {
		reply := &cdap.Message{
			OpCode: cdap.MReadR, InvokeID: ev.Msg.InvokeID,
			ObjClass: cdap.ObjClassKeepalive, ObjName: cdap.ObjNameKeepalive,
		}
		return StateEnrolled, []Action{{Kind: ActionSend, Msg: reply}}
	}
	if ev.Msg.OpCode == cdap.MReadR && ev.Msg.ObjClass == cdap.ObjClassKeepalive {
		// Keepalive reply: activity already recorded by the driver feeding
		// this event, nothing further to do.
		return StateEnrolled, nil
	}
	return StateEnrolled, []Action{{Kind: ActionDispatchToRIB, Msg: ev.Msg}}
}

// abort builds the abort_enrollment() action sequence shared by every
// state's error/timeout paths. Whether this is a final failure (wakes the
// blocked caller with err) or a retryable one (the driver re-issues
// EventLocalStart itself) depends on ctx: only an initiator under its
// attempt budget gets to retry, and Transition has no way to replay that
// decision itself without becoming stateful, so it reports both the abort
// actions and lets the driver decide whether EnrollAttempts allows another
// pass.
func abort(ctx Context, err error) (State, []Action) {
	release := &cdap.Message{OpCode: cdap.MRelease, ResultReason: err.Error()}
	actions := []Action{
		{Kind: ActionSend, Msg: release},
		{Kind: ActionResetSession},
		{Kind: ActionCancelTimer},
	}

	final := !ctx.Initiator || ctx.EnrollAttempts >= ctx.MaxAttempts
	if final {
		finalErr := err
		if ctx.Initiator && ctx.EnrollAttempts >= ctx.MaxAttempts {
			finalErr = ErrAttemptsExhausted
		}
		actions = append(actions, Action{Kind: ActionSignalAborted, Err: finalErr})
	}
	return StateNone, actions
}
