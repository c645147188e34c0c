package utptrace

import (
	"encoding/binary"

	"github.com/utptrace/utptrace/memview"
	"github.com/utptrace/utptrace/serial"
)

// RejectReason explains why a UDP payload was not accepted as a uTP packet.
// Parsing failures are never surfaced as Go errors (section 7):
// Engine.HandleDatagram logs the reason at debug level and moves on to the
// next datagram.
type RejectReason int

const (
	// rejectNone is the zero value, meaning the payload parsed successfully.
	rejectNone RejectReason = iota
	RejectShort
	RejectVersion
	RejectType
	RejectExtension
)

func (r RejectReason) String() string {
	switch r {
	case rejectNone:
		return "ok"
	case RejectShort:
		return "payload shorter than 20 bytes"
	case RejectVersion:
		return "unsupported version"
	case RejectType:
		return "unknown packet type"
	case RejectExtension:
		return "malformed extension chain"
	default:
		return "unknown rejection"
	}
}

const fixedHeaderLen = 20

// ParsePacket decodes the uTP fixed header and extension chain from a UDP
// payload, per the wire format in section 4.1. On success it returns the
// decoded packet and rejectNone. On failure it returns the zero Packet and a
// RejectReason identifying which rule was violated; the caller should treat
// this as "not a uTP packet", not an error.
func ParsePacket(payload []byte) (Packet, RejectReason) {
	if len(payload) < fixedHeaderLen {
		return Packet{}, RejectShort
	}

	version := payload[0] & 0x0f
	if version != 1 {
		return Packet{}, RejectVersion
	}

	typ := PacketType(payload[0] >> 4)
	if typ > PacketSyn {
		return Packet{}, RejectType
	}

	cursor := 0
	extension := payload[1]
	for extension != 0 {
		if len(payload) < fixedHeaderLen+cursor+2 {
			return Packet{}, RejectExtension
		}
		extension = payload[fixedHeaderLen+cursor]
		length := int(payload[fixedHeaderLen+cursor+1])
		cursor += 2 + length
	}

	bodyStart := fixedHeaderLen + cursor
	if len(payload) < bodyStart {
		return Packet{}, RejectExtension
	}

	connID := binary.BigEndian.Uint16(payload[2:4])
	seq := serial.Number(binary.BigEndian.Uint16(payload[16:18]))

	return Packet{
		Type:   typ,
		ConnID: connID,
		Seq:    seq,
		Body:   memview.New(payload[bodyStart:]),
	}, rejectNone
}
