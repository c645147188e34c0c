package utptrace

import (
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/utptrace/utptrace/optionals"
)

// EngineOption configures an Engine, following the functional-options
// pattern the teacher's pcap.Options uses (pcap/option.go).
type EngineOption func(*engineOptions)

type engineOptions struct {
	logger      Logger
	clock       clock
	pendingCap  int
	idleTimeout time.Duration
}

func defaultEngineOptions() engineOptions {
	return engineOptions{
		logger:     defaultLogger{},
		clock:      realClock{},
		pendingCap: DefaultPendingCap,
	}
}

// WithLogger overrides the default stdlib-backed Logger.
func WithLogger(l Logger) EngineOption {
	return func(o *engineOptions) { o.logger = l }
}

// WithPendingCap overrides the per-direction out-of-order buffer bound
// (section 4.4). A flow that exceeds it is flushed and closed.
func WithPendingCap(n int) EngineOption {
	return func(o *engineOptions) {
		if n > 0 {
			o.pendingCap = n
		}
	}
}

// WithIdleTimeout records the idle timeout for the optional idle-timeout
// sweep (section 5), readable back through Engine.IdleTimeout. The Engine
// does not sweep on its own: flows are force-closed only when a caller runs
// SweepIdle. Zero (the default) means no timeout is configured.
func WithIdleTimeout(d time.Duration) EngineOption {
	return func(o *engineOptions) { o.idleTimeout = d }
}

func withClock(c clock) EngineOption {
	return func(o *engineOptions) { o.clock = c }
}

// Engine is the reconstruction pipeline: Parser -> FlowTable -> StateMachine
// -> Reassembler, driving a single EventSink. It is not safe for concurrent
// use: section 5 requires datagrams be processed one at a time, in capture
// order, on a single goroutine.
type Engine struct {
	opts        engineOptions
	table       *FlowTable
	sink        EventSink
	transitions map[transitionKey]transitionFunc
	logger      Logger

	lastSeen map[FlowKey]time.Time

	mu       sync.Mutex
	counters Counters
}

// Counters mirrors the CLI summary line of section 6: running totals kept
// across the lifetime of an Engine.
type Counters struct {
	FlowsAdded        int64
	FlowsClosed       int64
	SegmentsDelivered int64
	BytesDelivered    int64
}

// NewEngine constructs an Engine that delivers events to sink.
func NewEngine(sink EventSink, opts ...EngineOption) *Engine {
	o := defaultEngineOptions()
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		opts:     o,
		table:    newFlowTable(),
		sink:     sink,
		logger:   o.logger,
		lastSeen: make(map[FlowKey]time.Time),
	}
	e.transitions = newTransitionTable()
	return e
}

func (e *Engine) pendingCap() int {
	return e.opts.pendingCap
}

// HandleDatagram is the single inbound entrypoint (section 6): a UDP
// datagram with decoded IP/UDP addressing and its raw payload. The caller
// (an ingest collaborator) is responsible for IP reassembly before this is
// invoked.
func (e *Engine) HandleDatagram(t time.Time, srcIP net.IP, srcPort int, dstIP net.IP, dstPort int, payload []byte) {
	pkt, reject := ParsePacket(payload)
	if reject != rejectNone {
		e.logger.Debugf("rejected datagram from %s:%d: %s", srcIP, srcPort, reject)
		return
	}

	srcAddr, ok1 := addrPortFrom(srcIP, srcPort)
	dstAddr, ok2 := addrPortFrom(dstIP, dstPort)
	if !ok1 || !ok2 {
		e.logger.Debugf("unparseable address pair %s:%d -> %s:%d", srcIP, srcPort, dstIP, dstPort)
		return
	}

	ctx := dispatchContext{
		src:        srcAddr,
		dst:        dstAddr,
		pkt:        pkt,
		observedAt: t,
	}
	e.dispatch(ctx)
}

func addrPortFrom(ip net.IP, port int) (netip.AddrPort, bool) {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.AddrPort{}, false
	}
	addr = addr.Unmap()
	return netip.AddrPortFrom(addr, uint16(port)), true
}

// dispatchContext carries everything a transition handler needs: the raw
// addressing of the triggering packet (needed when a handler creates a new
// Flow) plus the decoded packet itself.
type dispatchContext struct {
	src        netip.AddrPort
	dst        netip.AddrPort
	pkt        Packet
	observedAt time.Time
}

type transitionKey struct {
	state State
	typ   PacketType
}

type transitionFunc func(e *Engine, flow *Flow, fromInitiator bool, ctx dispatchContext)

// dispatch implements section 4.3's dispatcher: look the packet up against
// the FlowTable, form the (state, type) key (the absence of a flow collapses
// to stateInit), and invoke the matching transition, or log and drop.
func (e *Engine) dispatch(ctx dispatchContext) {
	flow, fromInitiator, found := e.table.lookup(ctx.src, ctx.dst, ctx.pkt.Type, ctx.pkt.ConnID)

	state := stateInit
	if found {
		state = flow.State
	}

	key := transitionKey{state: state, typ: ctx.pkt.Type}
	handler, ok := e.transitions[key]
	if !ok {
		e.logger.Debugf("unknown transition: state=%s type=%s exists=%v", state, ctx.pkt.Type, found)
		return
	}

	handler(e, flow, fromInitiator, ctx)

	// Only refresh lastSeen if the flow is still the live occupant of its
	// key: a handler may have closed it (e.g. a supplanting SYN), in which
	// case there is nothing to refresh.
	if found {
		if cur, ok := e.table.lookupKey(flow.Key); ok && cur == flow {
			e.lastSeen[flow.Key] = ctx.observedAt
		}
	}
}

func (e *Engine) addFlow(f *Flow) {
	e.table.insert(f)
	e.lastSeen[f.Key] = f.OpenedAt
	e.mu.Lock()
	e.counters.FlowsAdded++
	e.mu.Unlock()
	e.sink.NewFlow(f)
}

// closeFlow implements section 4.5: the pending buffer is discarded (not
// drained), flow_closed is emitted once, and the flow is removed from the
// table so a later packet with the same key cannot find it until a new SYN
// recreates it.
func (e *Engine) closeFlow(f *Flow) {
	f.pending[0].clear()
	f.pending[1].clear()
	if f.ClosedAt.IsNone() {
		f.ClosedAt = optionals.Some(e.opts.clock.Now())
	}

	e.table.remove(f)
	delete(e.lastSeen, f.Key)

	e.mu.Lock()
	e.counters.FlowsClosed++
	e.mu.Unlock()

	e.sink.FlowClosed(f)
}

// recordSegment updates the shared byte/segment counters; called directly
// from the reassembler's deliver path, so an Engine reports accurate totals
// whether or not its sink also counts (e.g. sink.Counting).
func (e *Engine) recordSegment(n int) {
	e.mu.Lock()
	e.counters.SegmentsDelivered++
	e.counters.BytesDelivered += int64(n)
	e.mu.Unlock()
}

// Snapshot returns a snapshot of the running totals.
func (e *Engine) Snapshot() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters
}

// IdleTimeout returns the idle-timeout sweep interval configured via
// WithIdleTimeout, or zero if the sweep is disabled.
func (e *Engine) IdleTimeout() time.Duration {
	return e.opts.idleTimeout
}

// FlowTable exposes the live FlowTable for callers that need to inspect
// remaining flows (e.g. the CLI's closing summary, section 6).
func (e *Engine) FlowTable() *FlowTable {
	return e.table
}

// SweepIdle force-closes every flow that has not seen a packet within d of
// now. It implements the optional idle-timeout extension of section 5; it
// runs only when a caller invokes it.
func (e *Engine) SweepIdle(now time.Time, d time.Duration) (closed int) {
	if d <= 0 {
		return 0
	}

	var stale []*Flow
	e.table.Each(func(f *Flow) {
		if last, ok := e.lastSeen[f.Key]; ok && now.Sub(last) >= d {
			stale = append(stale, f)
		}
	})

	for _, f := range stale {
		e.closeFlow(f)
		closed++
	}
	return closed
}

// CloseAll force-closes every remaining flow, draining their sidecar
// buffers. It is intended for process teardown (section 5, "guaranteed on
// exit").
func (e *Engine) CloseAll() {
	var remaining []*Flow
	e.table.Each(func(f *Flow) {
		remaining = append(remaining, f)
	})
	for _, f := range remaining {
		e.closeFlow(f)
	}
}
