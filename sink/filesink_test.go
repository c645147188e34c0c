package sink

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/utptrace/utptrace"
	"github.com/utptrace/utptrace/memview"
)

func testFlow(t *testing.T) *utptrace.Flow {
	t.Helper()
	key := utptrace.FlowKey{
		Initiator: netip.MustParseAddrPort("10.0.0.1:6881"),
		Accepter:  netip.MustParseAddrPort("10.0.0.2:6882"),
		ConnID:    42,
	}
	f := &utptrace.Flow{Key: key, OpenedAt: time.Now()}
	return f
}

func TestFileSinkWritesBothDirections(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(dir)

	flow := testFlow(t)
	s.NewSegment(flow, utptrace.DirInitiatorToAccepter, memview.New([]byte("hello")))
	s.NewSegment(flow, utptrace.DirAccepterToInitiator, memview.New([]byte("world")))
	s.FlowClosed(flow)

	i2a := filepath.Join(dir, baseName(flow.Key, utptrace.DirInitiatorToAccepter))
	a2i := filepath.Join(dir, baseName(flow.Key, utptrace.DirAccepterToInitiator))

	got, err := os.ReadFile(i2a)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))

	got, err = os.ReadFile(a2i)
	require.NoError(t, err)
	require.Equal(t, "world", string(got))
}

func TestFileSinkAppendsAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(dir)

	flow := testFlow(t)
	s.NewSegment(flow, utptrace.DirInitiatorToAccepter, memview.New([]byte("foo")))
	s.NewSegment(flow, utptrace.DirInitiatorToAccepter, memview.New([]byte("bar")))
	s.FlowClosed(flow)

	name := filepath.Join(dir, baseName(flow.Key, utptrace.DirInitiatorToAccepter))
	got, err := os.ReadFile(name)
	require.NoError(t, err)
	require.Equal(t, "foobar", string(got))
}

func TestFileSinkFreeNameCollision(t *testing.T) {
	dir := t.TempDir()
	flow := testFlow(t)

	base := filepath.Join(dir, baseName(flow.Key, utptrace.DirInitiatorToAccepter))
	require.NoError(t, os.WriteFile(base, []byte("preexisting"), 0o644))

	s := NewFileSink(dir)
	s.NewSegment(flow, utptrace.DirInitiatorToAccepter, memview.New([]byte("new data")))
	s.FlowClosed(flow)

	got, err := os.ReadFile(base + ".1")
	require.NoError(t, err)
	require.Equal(t, "new data", string(got))

	original, err := os.ReadFile(base)
	require.NoError(t, err)
	require.Equal(t, "preexisting", string(original))
}
