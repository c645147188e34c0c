package utptrace

import "github.com/utptrace/utptrace/memview"

// EventSink receives the lifecycle and data events the core emits while
// reconstructing flows (section 6, "Outbound event interface"). The core is
// single-threaded and synchronous (section 5): a sink's methods are called
// directly on the goroutine driving HandleDatagram, in the order packets
// arrive, with no suspension points. Implementations that need to do I/O
// should buffer internally rather than blocking the core for long.
type EventSink interface {
	// NewFlow is called exactly once, when a flow is first observed.
	NewFlow(flow *Flow)

	// NewSegment is called once per in-order DATA payload, in strictly
	// ascending per-direction sequence order.
	NewSegment(flow *Flow, dir Direction, body memview.MemView)

	// FlowClosed is called exactly once, when a flow is torn down.
	FlowClosed(flow *Flow)
}

// NopSink discards every event. It is useful as an embeddable base for
// sinks that only care about a subset of the interface.
type NopSink struct{}

var _ EventSink = NopSink{}

func (NopSink) NewFlow(*Flow)                                {}
func (NopSink) NewSegment(*Flow, Direction, memview.MemView) {}
func (NopSink) FlowClosed(*Flow)                             {}
