package utptrace

import (
	"net/netip"

	"github.com/utptrace/utptrace/sets"
)

// FlowTable maps the five-tuple (initiator endpoint, accepter endpoint,
// connid) to the Flow record observed for it. Lookup accounts for uTP's
// connection-id asymmetry (section 4.2): this is the only place that
// asymmetry is handled, everything downstream works with a Flow's canonical
// key.
type FlowTable struct {
	byKey map[FlowKey]*Flow

	// order tracks live FlowID strings so Each iterates deterministically
	// (sorted by ID) for the idle-timeout sweep and final teardown, since a
	// plain map iterates in random order. sets.OrderedSet sorts rather than
	// preserving insertion order; flow creation order is not reconstructible
	// from it, only a stable order.
	order sets.OrderedSet[string]
	byID  map[string]*Flow
}

func newFlowTable() *FlowTable {
	return &FlowTable{
		byKey: make(map[FlowKey]*Flow),
		order: sets.NewOrderedSet[string](),
		byID:  make(map[string]*Flow),
	}
}

func (ft *FlowTable) insert(f *Flow) {
	ft.byKey[f.Key] = f
	id := f.ID.String()
	ft.order.Insert(id)
	ft.byID[id] = f
}

func (ft *FlowTable) remove(f *Flow) {
	delete(ft.byKey, f.Key)
	id := f.ID.String()
	ft.order.Delete(id)
	delete(ft.byID, id)
}

func (ft *FlowTable) lookupKey(key FlowKey) (*Flow, bool) {
	f, ok := ft.byKey[key]
	return f, ok
}

// Len reports how many flows are currently live.
func (ft *FlowTable) Len() int {
	return len(ft.byKey)
}

// Each invokes fn for every live flow in a stable (ID-sorted) order.
func (ft *FlowTable) Each(fn func(*Flow)) {
	for _, id := range ft.order.AsSlice() {
		if f, ok := ft.byID[id]; ok {
			fn(f)
		}
	}
}

// lookup implements the asymmetric lookup rule of section 4.2: a packet from
// src to dst carrying the given wire connid and type is attached to an
// existing flow by trying src as initiator first (using the connid the
// initiator's own packets carry), then dst as initiator (using the raw wire
// connid, the value only the accepter's packets carry unmodified).
//
// Returns the matching flow, whether it flows from the flow's initiator (true)
// or from its accepter (false), and whether a match was found at all.
func (ft *FlowTable) lookup(src netip.AddrPort, dst netip.AddrPort, typ PacketType, wireConnID uint16) (*Flow, bool, bool) {
	k := wireConnID
	if typ != PacketSyn {
		k = wireConnID - 1
	}

	if f, ok := ft.lookupKey(FlowKey{Initiator: src, Accepter: dst, ConnID: k}); ok {
		return f, true, true
	}

	if f, ok := ft.lookupKey(FlowKey{Initiator: dst, Accepter: src, ConnID: wireConnID}); ok {
		return f, false, true
	}

	return nil, false, false
}
