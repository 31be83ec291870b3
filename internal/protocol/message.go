// Package protocol implements the binary frame codec for the tunnel
// wire protocol: command bytes, the idx/tag request header, the
// ReqCreated address block, and ping/pong framing.
package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// command codes for the tunnel wire protocol.
const (
	CmdNone              uint8 = 0
	CmdPing              uint8 = 1
	CmdPong              uint8 = 2
	CmdReqData           uint8 = 3
	CmdReqCreated        uint8 = 4
	CmdReqClientClosed   uint8 = 5
	CmdReqClientFinished uint8 = 6
	CmdReqServerFinished uint8 = 7
	CmdReqServerClosed   uint8 = 8
	CmdReqRefreshQuota   uint8 = 9
)

// request-range bounds: commands 3..9 are dispatched through the request table.
const (
	reqRangeLow  = CmdReqData
	reqRangeHigh = CmdReqRefreshQuota
)

// HeaderSize is the size of the idx/tag header that follows the command
// byte for every frame in the request range.
const HeaderSize = 1 + 2 + 2

// PingSize is the total size of a Ping or Pong frame: cmd + 8-byte double.
const PingSize = 1 + 8

// address block type tags.
const (
	AddrIPv4   uint8 = 0
	AddrDomain uint8 = 1
	AddrIPv6   uint8 = 2
)

// RequestHeader holds the idx/tag pair addressing a request-range frame.
type RequestHeader struct {
	Idx uint16
	Tag uint16
}

// IsRequestCommand reports whether cmd is in the request range [3, 10)
// and therefore dispatched through the Request Table.
func IsRequestCommand(cmd uint8) bool {
	return cmd >= reqRangeLow && cmd <= reqRangeHigh
}

// DecodeHeader reads the command byte and, for request-range commands,
// the idx/tag header from a raw websocket message. It does not copy the
// payload; callers slice the original message for that.
func DecodeHeader(m []byte) (cmd uint8, hdr RequestHeader, payloadOffset int, err error) {
	if len(m) < 1 {
		return 0, RequestHeader{}, 0, fmt.Errorf("protocol: empty frame")
	}
	cmd = m[0]
	if !IsRequestCommand(cmd) {
		return cmd, RequestHeader{}, 1, nil
	}
	if len(m) < HeaderSize {
		return 0, RequestHeader{}, 0, fmt.Errorf("protocol: frame too short for request header: %d bytes", len(m))
	}
	hdr.Idx = binary.LittleEndian.Uint16(m[1:3])
	hdr.Tag = binary.LittleEndian.Uint16(m[3:5])
	return cmd, hdr, HeaderSize, nil
}

// EncodeRequestFrame builds cmd:u8, idx:u16 LE, tag:u16 LE [, payload].
func EncodeRequestFrame(cmd uint8, idx, tag uint16, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = cmd
	binary.LittleEndian.PutUint16(buf[1:3], idx)
	binary.LittleEndian.PutUint16(buf[3:5], tag)
	copy(buf[HeaderSize:], payload)
	return buf
}

// EncodePing builds a Ping frame: cmd + 8-byte little-endian double of
// the sender's wall-clock milliseconds.
func EncodePing(nowMillis float64) []byte {
	buf := make([]byte, PingSize)
	buf[0] = CmdPing
	binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(nowMillis))
	return buf
}

// EncodePong builds a Pong frame by copying a received Ping frame and
// rewriting byte 0, preserving the timestamp exactly.
func EncodePong(ping []byte) ([]byte, error) {
	if len(ping) < 1 || ping[0] != CmdPing {
		return nil, fmt.Errorf("protocol: not a ping frame")
	}
	pong := make([]byte, len(ping))
	copy(pong, ping)
	pong[0] = CmdPong
	return pong, nil
}

// DecodePingTimestamp extracts the wall-clock milliseconds from a Ping
// or Pong frame.
func DecodePingTimestamp(frame []byte) (float64, error) {
	if len(frame) < PingSize {
		return 0, fmt.Errorf("protocol: ping/pong frame too short: %d bytes", len(frame))
	}
	bits := binary.LittleEndian.Uint64(frame[1:9])
	return math.Float64frombits(bits), nil
}
