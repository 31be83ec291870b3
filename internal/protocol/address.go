package protocol

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// ParseAddress reads the address block that follows the idx/tag pair of
// a ReqCreated frame and returns the "host:port" connect target.
//
// The byte-reversal on the IPv4 and IPv6 branches is required for wire
// compatibility with the existing peer and must not be "fixed": an
// IPv4 block [1,2,3,4] with port 80 decodes to "4.3.2.1:80", and an
// IPv6 block of groups [1..8] decodes to "8:7:6:5:4:3:2:1:<port>".
func ParseAddress(block []byte) (addr string, consumed int, err error) {
	if len(block) < 1 {
		return "", 0, fmt.Errorf("protocol: empty address block")
	}
	switch block[0] {
	case AddrIPv4:
		const need = 1 + 4 + 2
		if len(block) < need {
			return "", 0, fmt.Errorf("protocol: short ipv4 address block")
		}
		b := block[1:5]
		port := binary.LittleEndian.Uint16(block[5:7])
		host := fmt.Sprintf("%d.%d.%d.%d", b[3], b[2], b[1], b[0])
		return host + ":" + strconv.Itoa(int(port)), need, nil

	case AddrDomain:
		if len(block) < 2 {
			return "", 0, fmt.Errorf("protocol: short domain address block")
		}
		n := int(block[1])
		need := 2 + n + 2
		if len(block) < need {
			return "", 0, fmt.Errorf("protocol: short domain address block")
		}
		host := string(block[2 : 2+n])
		port := binary.LittleEndian.Uint16(block[2+n : 2+n+2])
		return host + ":" + strconv.Itoa(int(port)), need, nil

	case AddrIPv6:
		const need = 1 + 16 + 2
		if len(block) < need {
			return "", 0, fmt.Errorf("protocol: short ipv6 address block")
		}
		groups := make([]uint16, 8)
		for i := 0; i < 8; i++ {
			groups[i] = binary.LittleEndian.Uint16(block[1+2*i : 3+2*i])
		}
		port := binary.LittleEndian.Uint16(block[17:19])
		host := fmt.Sprintf("%x:%x:%x:%x:%x:%x:%x:%x",
			groups[7], groups[6], groups[5], groups[4],
			groups[3], groups[2], groups[1], groups[0])
		return host + ":" + strconv.Itoa(int(port)), need, nil

	default:
		return "", 0, fmt.Errorf("protocol: unknown address type %d", block[0])
	}
}
