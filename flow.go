// Package utptrace passively reconstructs application-layer byte streams
// carried by the Micro Transport Protocol (uTP), a reliable,
// congestion-controlled transport layered over UDP.
package utptrace

import (
	"net/netip"
	"time"

	"github.com/utptrace/utptrace/gid"
	"github.com/utptrace/utptrace/optionals"
	"github.com/utptrace/utptrace/serial"
)

// Direction identifies which endpoint of a Flow sent a given byte.
type Direction int

const (
	// DirInitiatorToAccepter is direction 0: bytes sent by the endpoint that
	// sent the SYN.
	DirInitiatorToAccepter Direction = 0

	// DirAccepterToInitiator is direction 1: bytes sent by the endpoint that
	// received the SYN.
	DirAccepterToInitiator Direction = 1
)

func (d Direction) String() string {
	if d == DirInitiatorToAccepter {
		return "initiator->accepter"
	}
	return "accepter->initiator"
}

// State is one of the twelve states of the uTP connection automaton
// described by the transition table. stateInit is never stored on a Flow; it
// represents the absence of a flow record and is used only as a dispatch key.
type State int

const (
	stateInit State = iota
	StateHandshake
	StateSynAcked
	StateConnected
	StateInitiatorSentFin
	StateAccepterSentFin
	StateInitiatorFinAcked
	StateAccepterFinAcked
	StateBothSentFin
	StateBothSentFinInitiatorAcked
	StateBothSentFinAccepterAcked
	StatePendingClose
)

func (s State) String() string {
	switch s {
	case stateInit:
		return "INIT"
	case StateHandshake:
		return "HANDSHAKE"
	case StateSynAcked:
		return "SYN_ACKED"
	case StateConnected:
		return "CONNECTED"
	case StateInitiatorSentFin:
		return "INITIATOR_SENT_FIN"
	case StateAccepterSentFin:
		return "ACCEPTER_SENT_FIN"
	case StateInitiatorFinAcked:
		return "INITIATOR_FIN_ACKED"
	case StateAccepterFinAcked:
		return "ACCEPTER_FIN_ACKED"
	case StateBothSentFin:
		return "BOTH_SENT_FIN"
	case StateBothSentFinInitiatorAcked:
		return "BOTH_SENT_FIN_INITIATOR_ACKED"
	case StateBothSentFinAccepterAcked:
		return "BOTH_SENT_FIN_ACCEPTER_ACKED"
	case StatePendingClose:
		return "PENDING_CLOSE"
	default:
		return "UNKNOWN"
	}
}

// FlowKey uniquely identifies a Flow in the FlowTable: the initiator and
// accepter endpoints plus the connection id the initiator advertised in its
// SYN. No two live flows share a key.
type FlowKey struct {
	Initiator netip.AddrPort
	Accepter  netip.AddrPort
	ConnID    uint16
}

// Flow represents one observed uTP connection.
type Flow struct {
	// ID opaquely identifies this flow for log correlation and orders
	// FlowTable.Each; it plays no part in FlowTable lookup, which is keyed on
	// Key, nor in sidecar file names.
	ID gid.FlowID

	Key FlowKey

	// Seq0 is the next sequence number expected from the initiator; Seq1 is
	// the next expected from the accepter. Both are serial numbers of width
	// 16 (RFC 1982).
	Seq0 serial.Number
	Seq1 serial.Number

	State State

	pending [2]pendingBuffer

	OpenedAt time.Time
	ClosedAt optionals.Optional[time.Time]
}

func newFlow(key FlowKey, seq0 serial.Number, observedAt time.Time) *Flow {
	return &Flow{
		ID:       gid.GenerateFlowID(),
		Key:      key,
		Seq0:     seq0,
		State:    StateHandshake,
		OpenedAt: observedAt,
	}
}

// expectedSeq returns the next in-order sequence number for the given
// direction.
func (f *Flow) expectedSeq(d Direction) serial.Number {
	if d == DirInitiatorToAccepter {
		return f.Seq0
	}
	return f.Seq1
}

func (f *Flow) setExpectedSeq(d Direction, n serial.Number) {
	if d == DirInitiatorToAccepter {
		f.Seq0 = n
	} else {
		f.Seq1 = n
	}
}

// PendingCount returns the total number of out-of-order packets buffered
// across both directions.
func (f *Flow) PendingCount() int {
	return f.pending[0].len() + f.pending[1].len()
}
