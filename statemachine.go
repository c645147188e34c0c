package utptrace

// newTransitionTable builds the dispatch table described by section 4.3's
// transition table. It is built once, eagerly, in NewEngine -- a plain value
// owned by the Engine rather than a package-level registry populated by
// decorator side effects (see DESIGN.md, "global dispatch registry").
func newTransitionTable() map[transitionKey]transitionFunc {
	t := make(map[transitionKey]transitionFunc)

	reg := func(state State, typ PacketType, fn transitionFunc) {
		t[transitionKey{state: state, typ: typ}] = fn
	}

	// INIT + SYN, no existing flow: create the flow and emit new_flow.
	reg(stateInit, PacketSyn, handleInitSyn)

	// HANDSHAKE
	reg(StateHandshake, PacketState, handleHandshakeState)
	reg(StateHandshake, PacketSyn, handleHandshakeSyn)

	// SYN_ACKED
	reg(StateSynAcked, PacketFin, handleConnectedLikeFin)
	reg(StateSynAcked, PacketData, handleData)

	// CONNECTED
	reg(StateConnected, PacketData, handleData)
	reg(StateConnected, PacketState, handleNoop)
	reg(StateConnected, PacketFin, handleConnectedLikeFin)

	// INITIATOR_SENT_FIN
	reg(StateInitiatorSentFin, PacketState, handleInitiatorSentFinState)
	reg(StateInitiatorSentFin, PacketFin, handleInitiatorSentFinFin)

	// ACCEPTER_SENT_FIN
	reg(StateAccepterSentFin, PacketState, handleAccepterSentFinState)
	reg(StateAccepterSentFin, PacketFin, handleAccepterSentFinFin)

	// INITIATOR_FIN_ACKED
	reg(StateInitiatorFinAcked, PacketFin, handleInitiatorFinAckedFin)

	// ACCEPTER_FIN_ACKED
	reg(StateAccepterFinAcked, PacketFin, handleAccepterFinAckedFin)

	// BOTH_SENT_FIN
	reg(StateBothSentFin, PacketState, handleBothSentFinState)

	// BOTH_SENT_FIN_INITIATOR_ACKED
	reg(StateBothSentFinInitiatorAcked, PacketState, handleBothSentFinInitiatorAckedState)

	// BOTH_SENT_FIN_ACCEPTER_ACKED
	reg(StateBothSentFinAccepterAcked, PacketState, handleBothSentFinAccepterAckedState)

	// PENDING_CLOSE
	reg(StatePendingClose, PacketData, handlePendingCloseData)

	// States in which a stray DATA/SYN may still arrive while the flow is
	// winding down. DATA is still reassembled without disturbing the state;
	// a fresh SYN tears the old flow down and re-dispatches as a new
	// connection.
	finGroup := []State{
		StateInitiatorSentFin,
		StateAccepterSentFin,
		StateInitiatorFinAcked,
		StateAccepterFinAcked,
		StateBothSentFin,
		StateBothSentFinInitiatorAcked,
		StateBothSentFinAccepterAcked,
	}
	for _, s := range finGroup {
		reg(s, PacketData, handleData)
		reg(s, PacketSyn, handleSupplantingSyn)
	}

	// RESET closes a flow from any state that has one (the diagram's "RESET
	// at any time" arrow), not only CONNECTED as the literal table's single
	// explicit row suggests.
	for _, s := range []State{
		StateHandshake,
		StateSynAcked,
		StateConnected,
		StateInitiatorSentFin,
		StateAccepterSentFin,
		StateInitiatorFinAcked,
		StateAccepterFinAcked,
		StateBothSentFin,
		StateBothSentFinInitiatorAcked,
		StateBothSentFinAccepterAcked,
		StatePendingClose,
	} {
		reg(s, PacketReset, handleReset)
	}

	return t
}

func handleNoop(e *Engine, flow *Flow, fromInitiator bool, ctx dispatchContext) {}

// handleInitSyn implements the INIT/SYN row: a SYN with no matching flow
// starts a new connection. The sender becomes the initiator.
func handleInitSyn(e *Engine, flow *Flow, fromInitiator bool, ctx dispatchContext) {
	key := FlowKey{Initiator: ctx.src, Accepter: ctx.dst, ConnID: ctx.pkt.ConnID}
	f := newFlow(key, ctx.pkt.Seq.Next(), ctx.observedAt)
	e.addFlow(f)
}

// handleHandshakeState: STATE while HANDSHAKE. Only the accepter's ACK of
// the SYN is meaningful; a STATE from the initiator's direction is a
// protocol anomaly that is logged and ignored.
func handleHandshakeState(e *Engine, flow *Flow, fromInitiator bool, ctx dispatchContext) {
	if fromInitiator {
		e.logger.Warnf("flow %s: expected SYN-ACK from accepter, got STATE from initiator; ignored", flow.ID)
		return
	}
	flow.Seq1 = ctx.pkt.Seq
	flow.State = StateSynAcked
}

// handleHandshakeSyn: SYN while HANDSHAKE. A repeat SYN from the original
// initiator is a harmless duplicate. A SYN from the accepter's direction is
// a simultaneous open: the existing flow is torn down and a new one is
// created with roles swapped, letting the second SYN win.
func handleHandshakeSyn(e *Engine, flow *Flow, fromInitiator bool, ctx dispatchContext) {
	if fromInitiator {
		e.logger.Debugf("flow %s: duplicate SYN", flow.ID)
		return
	}

	e.logger.Warnf("flow %s: simultaneous open, replacing with accepter-initiated flow", flow.ID)
	e.closeFlow(flow)

	key := FlowKey{Initiator: ctx.src, Accepter: ctx.dst, ConnID: ctx.pkt.ConnID}
	f := newFlow(key, ctx.pkt.Seq.Next(), ctx.observedAt)
	e.addFlow(f)
}

// handleData implements the shared "DATA in any data-bearing state" row:
// hand the payload to the reassembler and, if still short of CONNECTED,
// advance there.
func handleData(e *Engine, flow *Flow, fromInitiator bool, ctx dispatchContext) {
	dir := directionOf(fromInitiator)
	result := e.addSegment(flow, dir, ctx.pkt.Seq, ctx.pkt.Body)

	if flow.State == StateSynAcked || flow.State == StateConnected {
		flow.State = StateConnected
	}

	if result.overflowed {
		e.logger.Warnf("flow %s: pending buffer exceeded cap, flushing and closing", flow.ID)
		e.closeFlow(flow)
	}
}

func handleReset(e *Engine, flow *Flow, fromInitiator bool, ctx dispatchContext) {
	e.logger.Warnf("flow %s: connection RESET", flow.ID)
	e.closeFlow(flow)
}

// handleConnectedLikeFin covers both SYN_ACKED+FIN and CONNECTED+FIN: the
// sender's half of the connection is now closing.
func handleConnectedLikeFin(e *Engine, flow *Flow, fromInitiator bool, ctx dispatchContext) {
	if fromInitiator {
		flow.State = StateInitiatorSentFin
	} else {
		flow.State = StateAccepterSentFin
	}
}

// handleInitiatorSentFinState: any direction's STATE acks the initiator's FIN.
func handleInitiatorSentFinState(e *Engine, flow *Flow, fromInitiator bool, ctx dispatchContext) {
	flow.State = StateInitiatorFinAcked
}

// handleInitiatorSentFinFin: the accepter also sends FIN while the
// initiator's FIN is still unacked.
func handleInitiatorSentFinFin(e *Engine, flow *Flow, fromInitiator bool, ctx dispatchContext) {
	if !fromInitiator {
		flow.State = StateBothSentFin
	}
}

// handleAccepterSentFinState: per section 4.3's table, only the I->A
// direction acks the accepter's FIN.
func handleAccepterSentFinState(e *Engine, flow *Flow, fromInitiator bool, ctx dispatchContext) {
	if fromInitiator {
		flow.State = StateAccepterFinAcked
	}
}

// handleAccepterSentFinFin: the initiator also sends FIN while the
// accepter's FIN is still unacked.
func handleAccepterSentFinFin(e *Engine, flow *Flow, fromInitiator bool, ctx dispatchContext) {
	if fromInitiator {
		flow.State = StateBothSentFin
	}
}

// handleInitiatorFinAckedFin: the initiator's FIN is already acked; this is
// the accepter finally sending its own closing FIN. The *_ACCEPTER_ACKED
// name reflects that the accepter's side of the close is now the freshly
// completed half; see DESIGN.md for why this differs from a literal
// same-named reading of section 4.3's row.
func handleInitiatorFinAckedFin(e *Engine, flow *Flow, fromInitiator bool, ctx dispatchContext) {
	if !fromInitiator {
		flow.State = StateBothSentFinAccepterAcked
	}
}

// handleAccepterFinAckedFin mirrors handleInitiatorFinAckedFin: the
// accepter's FIN is already acked, and this is the initiator's closing FIN.
func handleAccepterFinAckedFin(e *Engine, flow *Flow, fromInitiator bool, ctx dispatchContext) {
	if fromInitiator {
		flow.State = StateBothSentFinInitiatorAcked
	}
}

func handleBothSentFinState(e *Engine, flow *Flow, fromInitiator bool, ctx dispatchContext) {
	if fromInitiator {
		flow.State = StateBothSentFinInitiatorAcked
	} else {
		flow.State = StateBothSentFinAccepterAcked
	}
}

// handleBothSentFinInitiatorAckedState: the final ack, from the accepter's
// direction. If data is still buffered, wait for it to drain before
// closing; otherwise close immediately.
func handleBothSentFinInitiatorAckedState(e *Engine, flow *Flow, fromInitiator bool, ctx dispatchContext) {
	if fromInitiator {
		return
	}
	if flow.PendingCount() > 0 {
		flow.State = StatePendingClose
		return
	}
	e.closeFlow(flow)
}

// handleBothSentFinAccepterAckedState mirrors
// handleBothSentFinInitiatorAckedState for the opposite direction.
func handleBothSentFinAccepterAckedState(e *Engine, flow *Flow, fromInitiator bool, ctx dispatchContext) {
	if !fromInitiator {
		return
	}
	if flow.PendingCount() > 0 {
		flow.State = StatePendingClose
		return
	}
	e.closeFlow(flow)
}

// handlePendingCloseData drains the last reorderable DATA packets before
// closing: once the reassembler reports nothing left buffered, the flow is
// torn down.
func handlePendingCloseData(e *Engine, flow *Flow, fromInitiator bool, ctx dispatchContext) {
	dir := directionOf(fromInitiator)
	result := e.addSegment(flow, dir, ctx.pkt.Seq, ctx.pkt.Body)
	if flow.PendingCount() == 0 || result.overflowed {
		e.closeFlow(flow)
	}
}

// handleSupplantingSyn: a SYN arrives while a flow is winding down. Close the
// old flow and re-dispatch the SYN as if it had arrived with no flow at all,
// exactly as section 4.3 specifies.
func handleSupplantingSyn(e *Engine, flow *Flow, fromInitiator bool, ctx dispatchContext) {
	e.closeFlow(flow)
	e.dispatch(ctx)
}

func directionOf(fromInitiator bool) Direction {
	if fromInitiator {
		return DirInitiatorToAccepter
	}
	return DirAccepterToInitiator
}
