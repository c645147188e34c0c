// Package ingest decodes captured packets into UDP datagrams and hands them
// to an Engine. It owns everything the core explicitly treats as an external
// collaborator: reading from a capture source, Ethernet/IP/UDP decoding, and
// IPv4 fragment reassembly.
package ingest

import (
	"context"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/ip4defrag"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"

	"github.com/utptrace/utptrace/pcap"
)

// DatagramHandler matches Engine.HandleDatagram's signature, so a *Source can
// drive an Engine directly without either package importing the other.
type DatagramHandler func(t time.Time, srcIP net.IP, srcPort int, dstIP net.IP, dstPort int, payload []byte)

// Stats tallies what the ingest layer saw: every packet read, plus the
// packets and fragments that never reached the handler.
type Stats struct {
	PacketsSeen int64
	NonUDP      int64

	// PendingFragments is the number of IPv4 fragments currently buffered
	// awaiting the rest of their datagram, mirroring the CLI summary's
	// "pending IP fragments" counter (section 6) -- the direct translation
	// of the original script's `len(tracer.fragments)` at exit.
	PendingFragments int64

	// DroppedFragments counts fragments the defragmenter rejected outright
	// (e.g. on overlap or malformed offsets), distinct from fragments still
	// legitimately in flight.
	DroppedFragments int64
}

// fragKey identifies one IPv4 fragment set: source, destination, and the
// datagram's identification field.
type fragKey struct {
	src, dst string
	id       uint16
}

// Source reads packets from a pcap.PcapReader, reassembles IPv4 fragments,
// decodes Ethernet/IP/UDP, and invokes a DatagramHandler once per UDP
// datagram. IPv6 extension-header fragmentation is not handled; per section
// 4's scope, fragment reassembly is explicitly an external collaborator's
// job, and IPv4 is the common case worth the trouble.
type Source struct {
	reader pcap.PcapReader
	handle DatagramHandler
	defrag *ip4defrag.IPv4Defragmenter
	stats  Stats

	fragCounts map[fragKey]int64
}

// NewSource constructs a Source that reads from reader and delivers decoded
// datagrams to handle.
func NewSource(reader pcap.PcapReader, handle DatagramHandler) *Source {
	return &Source{
		reader:     reader,
		handle:     handle,
		defrag:     ip4defrag.NewIPv4Defragmenter(),
		fragCounts: make(map[fragKey]int64),
	}
}

// Run captures and processes packets until the capture source is exhausted
// or ctx is cancelled.
func (s *Source) Run(ctx context.Context) error {
	packets, err := s.reader.Capture(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to start capture")
	}

	for packet := range packets {
		s.stats.PacketsSeen++
		s.handlePacket(packet)
	}
	return nil
}

// Stats returns a snapshot of the ingest layer's own counters, to be folded
// into the CLI's closing summary (section 6).
func (s *Source) Stats() Stats {
	return s.stats
}

// DiscardStaleFragments drops any IPv4 fragment sets older than before,
// returning how many were discarded. It is intended to be called
// periodically alongside Engine.SweepIdle so an incomplete fragment set
// cannot pin memory forever.
func (s *Source) DiscardStaleFragments(before time.Time) int {
	return s.defrag.DiscardOlderThan(before)
}

func (s *Source) handlePacket(packet gopacket.Packet) {
	netLayer := packet.NetworkLayer()
	if netLayer == nil {
		return
	}

	observedAt := captureTime(packet)

	switch l := netLayer.(type) {
	case *layers.IPv4:
		s.handleIPv4(l, packet, observedAt)
	case *layers.IPv6:
		s.handleIPv6(l, packet, observedAt)
	default:
		s.stats.NonUDP++
	}
}

func (s *Source) handleIPv4(ip *layers.IPv4, packet gopacket.Packet, observedAt time.Time) {
	isFragment := ip.Flags&layers.IPv4MoreFragments != 0 || ip.FragOffset != 0
	key := fragKey{src: ip.SrcIP.String(), dst: ip.DstIP.String(), id: ip.Id}

	defragged, err := s.defrag.DefragIPv4(ip)
	if err != nil {
		s.stats.DroppedFragments++
		if isFragment {
			s.forgetFragmentSet(key)
		}
		return
	}
	if defragged == nil {
		// Part of a fragment set; the rest hasn't arrived yet. This
		// fragment itself joins the buffered count until its set either
		// completes or is discarded.
		s.fragCounts[key]++
		s.stats.PendingFragments++
		return
	}
	if isFragment {
		// This fragment completed the set: every fragment buffered for it,
		// including this final one, is no longer pending.
		s.forgetFragmentSet(key)
	}

	var udp layers.UDP
	if defragged.Protocol != layers.IPProtocolUDP {
		s.stats.NonUDP++
		return
	}
	if err := udp.DecodeFromBytes(defragged.Payload, gopacket.NilDecodeFeedback); err != nil {
		s.stats.NonUDP++
		return
	}

	s.deliver(observedAt, defragged.SrcIP, int(udp.SrcPort), defragged.DstIP, int(udp.DstPort), udp.Payload)
}

// forgetFragmentSet removes key's buffered fragment count, crediting it back
// out of the running PendingFragments total.
func (s *Source) forgetFragmentSet(key fragKey) {
	if n, ok := s.fragCounts[key]; ok {
		s.stats.PendingFragments -= n
		delete(s.fragCounts, key)
	}
}

func (s *Source) handleIPv6(ip *layers.IPv6, packet gopacket.Packet, observedAt time.Time) {
	transport := packet.TransportLayer()
	udp, ok := transport.(*layers.UDP)
	if !ok {
		s.stats.NonUDP++
		return
	}
	s.deliver(observedAt, ip.SrcIP, int(udp.SrcPort), ip.DstIP, int(udp.DstPort), udp.Payload)
}

func (s *Source) deliver(t time.Time, srcIP net.IP, srcPort int, dstIP net.IP, dstPort int, payload []byte) {
	s.handle(t, srcIP, srcPort, dstIP, dstPort, payload)
}

func captureTime(packet gopacket.Packet) time.Time {
	if md := packet.Metadata(); md != nil && !md.Timestamp.IsZero() {
		return md.Timestamp
	}
	return time.Now()
}
