// Command utptrace passively reconstructs uTP byte streams from a packet
// capture file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/utptrace/utptrace"
	"github.com/utptrace/utptrace/ingest"
	"github.com/utptrace/utptrace/pcap"
	"github.com/utptrace/utptrace/sink"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("utptrace", flag.ContinueOnError)
	bpf := fs.String("bpf", "", "BPF filter applied to the capture")
	out := fs.String("out", ".", "directory to write sidecar stream files into")
	idle := fs.Duration("idle", 0, "force-close a flow after this long without traffic (0 disables)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: utptrace [-bpf filter] [-out dir] [-idle duration] <capture file>")
		return 1
	}

	// pcap.Options carries the ingest-layer configuration the way the
	// teacher's Options/Option pair does: offline reads only, never
	// Live (section 1's non-goals exclude live capture, so the CLI has
	// no flag that ever sets it and pcap.DeviceReader stays unwired --
	// see DESIGN.md).
	popts := pcap.NewOptions()
	pcap.WithReadName(fs.Arg(0), false)(&popts)
	pcap.WithBPF(*bpf)(&popts)
	pcap.WithIdleTimeout(*idle)(&popts)

	fileSink := sink.NewFileSink(*out)
	counting := sink.NewCounting(fileSink)

	engine := utptrace.NewEngine(counting, utptrace.WithIdleTimeout(popts.IdleTimeout))

	reader := pcap.NewFileReader(popts.ReadName, popts.BPFilter)
	source := ingest.NewSource(reader, engine.HandleDatagram)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := source.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "utptrace: %v\n", err)
		return 1
	}

	if popts.IdleTimeout > 0 {
		engine.SweepIdle(time.Now(), popts.IdleTimeout)
	}

	// Flush every still-buffered sidecar file, whether or not its flow's
	// state machine ever reached a closed state -- the data observed so far
	// must survive process exit regardless (section 6, "guaranteed on
	// exit"), matching the original script's atexit-registered flush.
	if err := fileSink.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "utptrace: %v\n", err)
		return 1
	}

	printSummary(engine, source)
	return 0
}

func printSummary(engine *utptrace.Engine, source *ingest.Source) {
	counters := engine.Snapshot()
	stats := source.Stats()
	pending := 0
	engine.FlowTable().Each(func(f *utptrace.Flow) {
		pending += f.PendingCount()
	})

	fmt.Printf("Added flows: %d\n", counters.FlowsAdded)
	fmt.Printf("Closed flows: %d\n", counters.FlowsClosed)
	fmt.Printf("Remaining flows: %d\n", engine.FlowTable().Len())
	fmt.Printf("Segments arrived: %d\n", counters.SegmentsDelivered)
	fmt.Printf("Total bytes: %d\n", counters.BytesDelivered)
	fmt.Printf("Pending packets: %d\n", pending)
	fmt.Printf("Pending IP fragments: %d\n", stats.PendingFragments)
}
