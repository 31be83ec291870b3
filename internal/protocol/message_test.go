package protocol

import (
	"bytes"
	"testing"
)

func Test_request_frame_round_trip(t *testing.T) {
	payload := []byte("hello world")
	frame := EncodeRequestFrame(CmdReqData, 7, 42, payload)

	cmd, hdr, off, err := DecodeHeader(frame)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if cmd != CmdReqData {
		t.Errorf("cmd mismatch: got %d, want %d", cmd, CmdReqData)
	}
	if hdr.Idx != 7 || hdr.Tag != 42 {
		t.Errorf("header mismatch: got idx=%d tag=%d", hdr.Idx, hdr.Tag)
	}
	if !bytes.Equal(frame[off:], payload) {
		t.Errorf("payload mismatch: got %q, want %q", frame[off:], payload)
	}
}

func Test_decode_header_empty_frame(t *testing.T) {
	_, _, _, err := DecodeHeader(nil)
	if err == nil {
		t.Fatal("expected error for empty frame")
	}
}

func Test_decode_header_short_request_frame(t *testing.T) {
	_, _, _, err := DecodeHeader([]byte{CmdReqData, 0x01})
	if err == nil {
		t.Fatal("expected error for truncated request header")
	}
}

func Test_decode_header_control_command_has_no_request_header(t *testing.T) {
	cmd, _, off, err := DecodeHeader([]byte{CmdPing, 0, 0, 0, 0, 0, 0, 0, 0})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if cmd != CmdPing {
		t.Errorf("cmd mismatch: got %d", cmd)
	}
	if off != 1 {
		t.Errorf("expected payload offset 1 for control command, got %d", off)
	}
}

func Test_ping_pong_preserve_timestamp(t *testing.T) {
	ping := EncodePing(1234.5)
	pong, err := EncodePong(ping)
	if err != nil {
		t.Fatalf("encode pong failed: %v", err)
	}

	if pong[0] != CmdPong {
		t.Errorf("pong byte 0 mismatch: got %d, want %d", pong[0], CmdPong)
	}
	if !bytes.Equal(ping[1:], pong[1:]) {
		t.Errorf("pong body should match ping body except byte 0")
	}

	pingTS, err := DecodePingTimestamp(ping)
	if err != nil {
		t.Fatalf("decode ping timestamp: %v", err)
	}
	pongTS, err := DecodePingTimestamp(pong)
	if err != nil {
		t.Fatalf("decode pong timestamp: %v", err)
	}
	if pingTS != pongTS {
		t.Errorf("timestamp mismatch: ping=%v pong=%v", pingTS, pongTS)
	}
	if pingTS != 1234.5 {
		t.Errorf("expected timestamp 1234.5, got %v", pingTS)
	}
}

func Test_encode_pong_rejects_non_ping(t *testing.T) {
	_, err := EncodePong([]byte{CmdReqData, 0, 0, 0, 0})
	if err == nil {
		t.Fatal("expected error encoding pong from non-ping frame")
	}
}

func Test_is_request_command_range(t *testing.T) {
	for cmd := uint8(0); cmd <= 9; cmd++ {
		want := cmd >= 3 && cmd <= 9
		if got := IsRequestCommand(cmd); got != want {
			t.Errorf("cmd %d: IsRequestCommand got %v, want %v", cmd, got, want)
		}
	}
}

func Test_parse_address_ipv4_reverses_bytes(t *testing.T) {
	block := []byte{AddrIPv4, 1, 2, 3, 4, 80, 0}
	addr, consumed, err := ParseAddress(block)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if addr != "4.3.2.1:80" {
		t.Errorf("address mismatch: got %q, want %q", addr, "4.3.2.1:80")
	}
	if consumed != len(block) {
		t.Errorf("consumed mismatch: got %d, want %d", consumed, len(block))
	}
}

func Test_parse_address_domain(t *testing.T) {
	host := "example.com"
	block := append([]byte{AddrDomain, byte(len(host))}, []byte(host)...)
	block = append(block, 0x50, 0x00) // port 80 LE

	addr, consumed, err := ParseAddress(block)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if addr != "example.com:80" {
		t.Errorf("address mismatch: got %q", addr)
	}
	if consumed != len(block) {
		t.Errorf("consumed mismatch: got %d, want %d", consumed, len(block))
	}
}

func Test_parse_address_ipv6_reverses_groups(t *testing.T) {
	block := make([]byte, 1+16+2)
	block[0] = AddrIPv6
	for i := uint16(1); i <= 8; i++ {
		off := 1 + 2*(i-1)
		block[off] = byte(i)
		block[off+1] = 0
	}
	block[17] = 0x50 // port 80 LE
	block[18] = 0x00

	addr, consumed, err := ParseAddress(block)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if addr != "8:7:6:5:4:3:2:1:80" {
		t.Errorf("address mismatch: got %q, want %q", addr, "8:7:6:5:4:3:2:1:80")
	}
	if consumed != len(block) {
		t.Errorf("consumed mismatch: got %d, want %d", consumed, len(block))
	}
}

func Test_parse_address_unknown_type_fails(t *testing.T) {
	_, _, err := ParseAddress([]byte{0x7f, 0, 0, 0, 0})
	if err == nil {
		t.Fatal("expected error for unknown address type")
	}
}

func Test_parse_address_truncated_blocks_fail(t *testing.T) {
	cases := [][]byte{
		{},
		{AddrIPv4, 1, 2, 3},
		{AddrDomain, 5, 'h', 'i'},
		{AddrIPv6, 0, 0, 0, 0},
	}
	for i, block := range cases {
		if _, _, err := ParseAddress(block); err == nil {
			t.Errorf("case %d: expected error for truncated block %v", i, block)
		}
	}
}
