package utptrace

import (
	"github.com/utptrace/utptrace/memview"
	"github.com/utptrace/utptrace/serial"
)

// PacketType is the high nibble of a uTP packet's first header byte.
type PacketType uint8

const (
	PacketData  PacketType = 0x0
	PacketFin   PacketType = 0x1
	PacketState PacketType = 0x2
	PacketReset PacketType = 0x3
	PacketSyn   PacketType = 0x4
)

func (t PacketType) String() string {
	switch t {
	case PacketData:
		return "DATA"
	case PacketFin:
		return "FIN"
	case PacketState:
		return "STATE"
	case PacketReset:
		return "RESET"
	case PacketSyn:
		return "SYN"
	default:
		return "UNKNOWN"
	}
}

// Packet is a decoded uTP header plus its uninterpreted application body.
// Bytes 4-15 of the wire header (timestamps, window, ack_nr) are not
// represented here; the core never consults them.
type Packet struct {
	Type   PacketType
	ConnID uint16
	Seq    serial.Number
	Body   memview.MemView
}
