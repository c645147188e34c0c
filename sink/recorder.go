package sink

import (
	"github.com/utptrace/utptrace"
	"github.com/utptrace/utptrace/memview"
)

// RecordedSegment captures one NewSegment call for later assertion.
type RecordedSegment struct {
	FlowKey utptrace.FlowKey
	Dir     utptrace.Direction
	Bytes   []byte
}

// Recorder is a minimal EventSink implementation built purely for test
// assertions, grounded on the teacher's testFactory pattern
// (gnet/tcp_parser_test.go): a struct with no behavior beyond recording what
// it was called with, so a test can assert on the exact callback sequence a
// scenario produces.
type Recorder struct {
	Flows    []*utptrace.Flow
	Segments []RecordedSegment
	Closed   []*utptrace.Flow
}

var _ utptrace.EventSink = (*Recorder)(nil)

func (r *Recorder) NewFlow(flow *utptrace.Flow) {
	r.Flows = append(r.Flows, flow)
}

func (r *Recorder) NewSegment(flow *utptrace.Flow, dir utptrace.Direction, body memview.MemView) {
	r.Segments = append(r.Segments, RecordedSegment{
		FlowKey: flow.Key,
		Dir:     dir,
		Bytes:   []byte(body.String()),
	})
}

func (r *Recorder) FlowClosed(flow *utptrace.Flow) {
	r.Closed = append(r.Closed, flow)
}
