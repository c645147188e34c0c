package sink

import (
	"sync"

	"github.com/utptrace/utptrace"
	"github.com/utptrace/utptrace/memview"
)

// Counting wraps another EventSink and tallies the traffic that passes
// through it, independent of Engine's own Counters -- handy for a consumer
// that wants per-sink visibility (e.g. one Counting per output directory in
// a fan-out) rather than the engine-wide totals. Grounded on the teacher's
// gnet.Tee, which wraps a consumer to observe traffic flowing through it
// without altering it.
type Counting struct {
	next utptrace.EventSink

	mu     sync.Mutex
	flows  int64
	segs   int64
	bytes  int64
	closed int64
}

// NewCounting wraps next. next may be nil, in which case Counting only
// tallies and emits nothing onward.
func NewCounting(next utptrace.EventSink) *Counting {
	if next == nil {
		next = utptrace.NopSink{}
	}
	return &Counting{next: next}
}

func (c *Counting) NewFlow(flow *utptrace.Flow) {
	c.mu.Lock()
	c.flows++
	c.mu.Unlock()
	c.next.NewFlow(flow)
}

func (c *Counting) NewSegment(flow *utptrace.Flow, dir utptrace.Direction, body memview.MemView) {
	c.mu.Lock()
	c.segs++
	c.bytes += body.Len()
	c.mu.Unlock()
	c.next.NewSegment(flow, dir, body)
}

func (c *Counting) FlowClosed(flow *utptrace.Flow) {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	c.next.FlowClosed(flow)
}

// CountingSnapshot is a point-in-time read of a Counting sink's tallies.
type CountingSnapshot struct {
	FlowsSeen    int64
	FlowsClosed  int64
	SegmentsSeen int64
	BytesSeen    int64
}

func (c *Counting) Snapshot() CountingSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CountingSnapshot{
		FlowsSeen:    c.flows,
		FlowsClosed:  c.closed,
		SegmentsSeen: c.segs,
		BytesSeen:    c.bytes,
	}
}
