package sink

import (
	"github.com/utptrace/utptrace"
	"github.com/utptrace/utptrace/memview"
	"github.com/utptrace/utptrace/slices"
)

// Multi fans a single stream of events out to several sinks, in
// registration order. Any of them implementing io.Closer-like cleanup (such
// as *FileSink) should be closed in the reverse of that order, matching how
// resources acquired in order are conventionally released.
type Multi struct {
	sinks []utptrace.EventSink
}

// NewMulti returns a Multi that forwards every event to each of sinks, in
// order.
func NewMulti(sinks ...utptrace.EventSink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) NewFlow(flow *utptrace.Flow) {
	for _, s := range m.sinks {
		s.NewFlow(flow)
	}
}

func (m *Multi) NewSegment(flow *utptrace.Flow, dir utptrace.Direction, body memview.MemView) {
	for _, s := range m.sinks {
		s.NewSegment(flow, dir, body)
	}
}

func (m *Multi) FlowClosed(flow *utptrace.Flow) {
	for _, s := range m.sinks {
		s.FlowClosed(flow)
	}
}

// Closers returns the sinks that support an explicit Close, in the reverse
// of their registration order, for callers that need to tear them down at
// process exit.
func (m *Multi) Closers() []interface{ Close() error } {
	var closers []interface{ Close() error }
	for _, s := range m.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			closers = append(closers, c)
		}
	}
	return slices.Reverse(closers)
}
