package utptrace

import (
	"github.com/utptrace/utptrace/memview"
	"github.com/utptrace/utptrace/serial"
	"github.com/utptrace/utptrace/sets"
)

// DefaultPendingCap is the default bound on the number of out-of-order
// packets buffered per direction of a flow before the flow is closed (section 4.4,
// "implementations may impose a cap"). See DESIGN.md for why 4096 was
// chosen.
const DefaultPendingCap = 4096

// pendingBuffer holds out-of-order DATA packets for one direction of one
// flow, keyed by their raw 16-bit sequence number, so the "did the new
// expected sequence arrive already" check after each promotion is a single
// map lookup instead of a rescan of an unordered list (the O(n^2) drain the
// design notes flag). keys mirrors the buffered sequence numbers in an
// OrderedSet; the promotion path does not read it.
type pendingBuffer struct {
	segments map[uint16]memview.MemView
	keys     sets.OrderedSet[uint16]
}

func (p *pendingBuffer) len() int {
	return len(p.segments)
}

func (p *pendingBuffer) add(seq serial.Number, body memview.MemView) {
	if p.segments == nil {
		p.segments = make(map[uint16]memview.MemView)
		p.keys = sets.NewOrderedSet[uint16]()
	}
	p.segments[uint16(seq)] = body
	p.keys.Insert(uint16(seq))
}

func (p *pendingBuffer) take(seq serial.Number) (memview.MemView, bool) {
	body, ok := p.segments[uint16(seq)]
	if !ok {
		return memview.MemView{}, false
	}
	delete(p.segments, uint16(seq))
	p.keys.Delete(uint16(seq))
	return body, true
}

func (p *pendingBuffer) clear() {
	p.segments = nil
	p.keys = nil
}

// addSegmentResult reports what happened to the packet handed to the
// reassembler, for callers that need to react to it (e.g. the PENDING_CLOSE
// drain check).
type addSegmentResult struct {
	// delivered is the number of in-order segments emitted as a direct result
	// of this call, including any pending packets promoted afterwards.
	delivered int
	// overflowed is true if the per-direction pending buffer exceeded its cap
	// as a result of buffering this packet.
	overflowed bool
}

// addSegment implements section 4.4: deliver an in-order DATA payload
// immediately, buffer an out-of-order one, and discard a duplicate. Serial
// number comparisons use RFC 1982 width-16 arithmetic throughout.
func (e *Engine) addSegment(flow *Flow, dir Direction, seq serial.Number, body memview.MemView) addSegmentResult {
	var result addSegmentResult

	expected := flow.expectedSeq(dir)

	switch {
	case seq == expected:
		e.deliver(flow, dir, body)
		result.delivered++
		expected = expected.Next()
		flow.setExpectedSeq(dir, expected)

		pb := &flow.pending[dir]
		for {
			next, ok := pb.take(expected)
			if !ok {
				break
			}
			e.deliver(flow, dir, next)
			result.delivered++
			expected = expected.Next()
			flow.setExpectedSeq(dir, expected)
		}

	case expected.Less(seq):
		pb := &flow.pending[dir]
		pb.add(seq, body)
		if pb.len() > e.pendingCap() {
			result.overflowed = true
		}

	default:
		// seq < expected: duplicate, discard.
		e.logger.Debugf("duplicate packet seq=%d (expected %d), discarded", uint16(seq), uint16(expected))
	}

	return result
}

func (e *Engine) deliver(flow *Flow, dir Direction, body memview.MemView) {
	e.recordSegment(int(body.Len()))
	e.sink.NewSegment(flow, dir, body)
}
