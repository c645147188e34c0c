package utptrace

import (
	"encoding/binary"
	"testing"
)

func makeHeader(version, typ byte, extra ...byte) []byte {
	buf := make([]byte, 20)
	buf[0] = typ<<4 | version
	copy(buf[1:], extra)
	return buf
}

func TestParsePacketRejectsShortPayload(t *testing.T) {
	_, reason := ParsePacket(make([]byte, 19))
	if reason != RejectShort {
		t.Errorf("got %v, want RejectShort", reason)
	}
}

func TestParsePacketRejectsBadVersion(t *testing.T) {
	buf := makeHeader(2, byte(PacketData))
	_, reason := ParsePacket(buf)
	if reason != RejectVersion {
		t.Errorf("got %v, want RejectVersion", reason)
	}
}

func TestParsePacketRejectsBadType(t *testing.T) {
	buf := makeHeader(1, 5) // type 5 is beyond PacketSyn (4)
	_, reason := ParsePacket(buf)
	if reason != RejectType {
		t.Errorf("got %v, want RejectType", reason)
	}
}

func TestParsePacketDecodesFixedFields(t *testing.T) {
	buf := makeHeader(1, byte(PacketSyn))
	binary.BigEndian.PutUint16(buf[2:4], 0xBEEF)
	binary.BigEndian.PutUint16(buf[16:18], 0x1234)
	buf = append(buf, []byte("payload")...)

	pkt, reason := ParsePacket(buf)
	if reason != rejectNone {
		t.Fatalf("unexpected rejection: %v", reason)
	}
	if pkt.Type != PacketSyn {
		t.Errorf("Type = %v, want SYN", pkt.Type)
	}
	if pkt.ConnID != 0xBEEF {
		t.Errorf("ConnID = %x, want BEEF", pkt.ConnID)
	}
	if uint16(pkt.Seq) != 0x1234 {
		t.Errorf("Seq = %x, want 1234", uint16(pkt.Seq))
	}
	if pkt.Body.String() != "payload" {
		t.Errorf("Body = %q, want %q", pkt.Body.String(), "payload")
	}
}

func TestParsePacketWalksExtensionChain(t *testing.T) {
	// One extension of length 3, then terminator, then body.
	buf := makeHeader(1, byte(PacketData))
	buf[1] = 1 // first extension type, arbitrary nonzero value

	ext := []byte{0, 3, 0xAA, 0xBB, 0xCC} // next=0 (terminate), length=3, 3 bytes of extension data
	buf = append(buf, ext...)
	buf = append(buf, []byte("body")...)

	pkt, reason := ParsePacket(buf)
	if reason != rejectNone {
		t.Fatalf("unexpected rejection: %v", reason)
	}
	if pkt.Body.String() != "body" {
		t.Errorf("Body = %q, want %q", pkt.Body.String(), "body")
	}
}

func TestParsePacketRejectsTruncatedExtension(t *testing.T) {
	buf := makeHeader(1, byte(PacketData))
	buf[1] = 1 // claims an extension follows, but nothing more is present
	_, reason := ParsePacket(buf)
	if reason != RejectExtension {
		t.Errorf("got %v, want RejectExtension", reason)
	}
}
