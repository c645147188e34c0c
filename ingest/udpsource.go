package ingest

import (
	"context"
	"net"
	"time"
)

// Datagram is one decoded UDP datagram, fully reassembled from any IP
// fragments, ready to be fed to Engine.HandleDatagram.
type Datagram struct {
	ObservedAt time.Time
	SrcIP      net.IP
	SrcPort    int
	DstIP      net.IP
	DstPort    int
	Payload    []byte
}

// DatagramSource is the collaborator interface spec.md §4 treats as
// external: anything that can decode a capture format down to individual
// UDP datagrams with IP reassembly already applied. *Source (pcapsource.go)
// is the gopacket/pcap-backed implementation; a test can substitute a fake
// that replays synthetic Datagrams without going through libpcap at all.
type DatagramSource interface {
	// Run reads until the underlying capture is exhausted or ctx is
	// cancelled, invoking the handler bound at construction once per
	// reassembled UDP datagram.
	Run(ctx context.Context) error
}

var _ DatagramSource = (*Source)(nil)
