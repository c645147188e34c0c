package utptrace

import (
	"encoding/binary"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utptrace/utptrace/sink"
)

// buildPacket constructs the wire bytes of a single uTP packet per section
// 4.1/6: a fixed 20-byte header (version 1, no extensions) followed by body.
// Bytes 4-15 (timestamps, window, ack_nr) are left zero; the core never
// reads them.
func buildPacket(typ PacketType, connID uint16, seq uint16, body string) []byte {
	buf := make([]byte, 20+len(body))
	buf[0] = byte(typ)<<4 | 1 // type in high nibble, version 1 in low nibble
	buf[1] = 0                // no extensions
	binary.BigEndian.PutUint16(buf[2:4], connID)
	binary.BigEndian.PutUint16(buf[16:18], seq)
	copy(buf[20:], body)
	return buf
}

var (
	hostA = net.ParseIP("10.0.0.1")
	hostB = net.ParseIP("10.0.0.2")
	portA = 40000
	portB = 6881
)

// scenarioEngine wires an Engine to a Recorder the way the CLI wires one to
// a FileSink, so scenario tests can assert on the exact callback sequence
// section 8 specifies.
func scenarioEngine() (*Engine, *sink.Recorder) {
	rec := &sink.Recorder{}
	e := NewEngine(rec, WithLogger(NopLogger{}))
	return e, rec
}

func aToB(e *Engine, typ PacketType, connID uint16, seq uint16, body string) {
	e.HandleDatagram(time.Time{}, hostA, portA, hostB, portB, buildPacket(typ, connID, seq, body))
}

func bToA(e *Engine, typ PacketType, connID uint16, seq uint16, body string) {
	e.HandleDatagram(time.Time{}, hostB, portB, hostA, portA, buildPacket(typ, connID, seq, body))
}

// TestCleanHandshakeAndGracefulClose is section 8 scenario 1.
func TestCleanHandshakeAndGracefulClose(t *testing.T) {
	e, rec := scenarioEngine()

	aToB(e, PacketSyn, 7, 100, "")
	bToA(e, PacketState, 7, 500, "")
	aToB(e, PacketData, 8, 101, "hello")
	aToB(e, PacketData, 8, 102, "world")
	aToB(e, PacketFin, 8, 103, "")
	bToA(e, PacketState, 7, 501, "")
	bToA(e, PacketFin, 7, 502, "")
	aToB(e, PacketState, 8, 104, "")

	require.Len(t, rec.Flows, 1)
	require.Len(t, rec.Segments, 2)
	assert.Equal(t, "hello", string(rec.Segments[0].Bytes))
	assert.Equal(t, "world", string(rec.Segments[1].Bytes))
	assert.Equal(t, DirInitiatorToAccepter, rec.Segments[0].Dir)
	assert.Equal(t, DirInitiatorToAccepter, rec.Segments[1].Dir)
	require.Len(t, rec.Closed, 1)
	assert.Equal(t, 0, e.FlowTable().Len())

	counters := e.Snapshot()
	assert.EqualValues(t, 1, counters.FlowsAdded)
	assert.EqualValues(t, 1, counters.FlowsClosed)
	assert.EqualValues(t, 2, counters.SegmentsDelivered)
	assert.EqualValues(t, 10, counters.BytesDelivered)
}

func handshakeOnly(e *Engine) {
	aToB(e, PacketSyn, 7, 100, "")
	bToA(e, PacketState, 7, 500, "")
}

// TestOutOfOrderThenGapFill is section 8 scenario 2.
func TestOutOfOrderThenGapFill(t *testing.T) {
	e, rec := scenarioEngine()
	handshakeOnly(e)

	aToB(e, PacketData, 8, 103, "c")
	aToB(e, PacketData, 8, 102, "b")
	aToB(e, PacketData, 8, 101, "a")

	require.Len(t, rec.Segments, 3)
	assert.Equal(t, "a", string(rec.Segments[0].Bytes))
	assert.Equal(t, "b", string(rec.Segments[1].Bytes))
	assert.Equal(t, "c", string(rec.Segments[2].Bytes))

	f := firstFlow(t, e)
	assert.Equal(t, 0, f.PendingCount())
}

// TestDuplicateData is section 8 scenario 3.
func TestDuplicateData(t *testing.T) {
	e, rec := scenarioEngine()
	handshakeOnly(e)

	aToB(e, PacketData, 8, 101, "a")
	require.Len(t, rec.Segments, 1)

	aToB(e, PacketData, 8, 101, "a-again")
	assert.Len(t, rec.Segments, 1, "duplicate seq must not produce another new_segment")
}

// TestReset is section 8 scenario 4: RESET from either side closes the flow.
func TestReset(t *testing.T) {
	e, rec := scenarioEngine()
	handshakeOnly(e)
	aToB(e, PacketData, 8, 101, "a")

	bToA(e, PacketReset, 7, 501, "")

	require.Len(t, rec.Closed, 1)
	assert.Equal(t, 0, e.FlowTable().Len())
}

// TestSupplantingSyn is section 8 scenario 5: a simultaneous-open SYN from
// the accepter's direction, while still in HANDSHAKE, tears down the old
// flow (initiator A) and creates a new one with roles swapped (initiator
// B). The asymmetric lookup of section 4.2 only attaches the second SYN to
// the flow already in HANDSHAKE when it carries the same connid A
// advertised; a genuinely different connid would instead be seen as an
// unrelated INIT/SYN, so this reuses connid 7 to exercise the supplanting
// path the state table actually describes.
func TestSupplantingSyn(t *testing.T) {
	e, rec := scenarioEngine()

	aToB(e, PacketSyn, 7, 100, "")
	bToA(e, PacketSyn, 7, 200, "")

	require.Len(t, rec.Flows, 2)
	require.Len(t, rec.Closed, 1)

	assert.True(t, rec.Flows[0].Key.Initiator.Addr().Unmap() == netIPToAddr(t, hostA))
	assert.True(t, rec.Flows[1].Key.Initiator.Addr().Unmap() == netIPToAddr(t, hostB))

	assert.Equal(t, 1, e.FlowTable().Len())
	f := firstFlow(t, e)
	assert.True(t, f.Key.Initiator.Addr().Unmap() == netIPToAddr(t, hostB))
}

// TestSequenceWrap is section 8 scenario 6: serial-number wrap-around from
// 65535 to 0 must still deliver in order, not be treated as a regression.
func TestSequenceWrap(t *testing.T) {
	e, rec := scenarioEngine()

	aToB(e, PacketSyn, 7, 65534, "") // Seq0 becomes 65535 after SYN
	bToA(e, PacketState, 7, 500, "")

	aToB(e, PacketData, 8, 65535, "x")
	aToB(e, PacketData, 8, 0, "y")

	require.Len(t, rec.Segments, 2)
	assert.Equal(t, "x", string(rec.Segments[0].Bytes))
	assert.Equal(t, "y", string(rec.Segments[1].Bytes))
}

// TestUnknownTransitionIsDropped exercises section 8's invariant that a
// (state, type, exists) combination absent from section 4.3's table drops
// the packet with no side effects: a DATA packet with no matching flow at
// all (state collapses to stateInit, which only has a SYN handler
// registered) must not create a flow, emit a segment, or be counted.
func TestUnknownTransitionIsDropped(t *testing.T) {
	e, rec := scenarioEngine()

	aToB(e, PacketData, 8, 101, "stray")

	assert.Empty(t, rec.Flows)
	assert.Empty(t, rec.Segments)
	assert.Equal(t, 0, e.FlowTable().Len())

	counters := e.Snapshot()
	assert.Zero(t, counters.FlowsAdded)
	assert.Zero(t, counters.SegmentsDelivered)
}

// TestHandshakeStateFromWrongDirectionIsIgnored exercises the protocol
// anomaly row explicitly handled (not dropped) by section 4.3: a STATE
// packet arriving from the initiator's own direction while still in
// HANDSHAKE is logged and ignored, leaving the flow in HANDSHAKE rather
// than advancing it.
func TestHandshakeStateFromWrongDirectionIsIgnored(t *testing.T) {
	e, rec := scenarioEngine()

	aToB(e, PacketSyn, 7, 100, "")
	aToB(e, PacketState, 8, 150, "")

	f := firstFlow(t, e)
	assert.Equal(t, StateHandshake, f.State)
	assert.Empty(t, rec.Segments)
}

func firstFlow(t *testing.T, e *Engine) *Flow {
	t.Helper()
	var found *Flow
	e.FlowTable().Each(func(f *Flow) {
		if found == nil {
			found = f
		}
	})
	require.NotNil(t, found, "expected at least one live flow")
	return found
}

func netIPToAddr(t *testing.T, ip net.IP) netip.Addr {
	t.Helper()
	addr, ok := netip.AddrFromSlice(ip)
	require.True(t, ok)
	return addr.Unmap()
}
