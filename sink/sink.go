package sink

import "github.com/utptrace/utptrace"

// EventSink is an alias for utptrace.EventSink, re-exported here so callers
// assembling a sink pipeline (FileSink, Counting, Multi) don't need to
// import the root package just for the interface name.
type EventSink = utptrace.EventSink
