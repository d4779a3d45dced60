// Package wire implements the framed wire protocol spoken to the
// rendezvous server: a 3-byte header (2-byte big-endian size, 1-byte
// flag) followed by a plaintext-or-AEAD-ciphertext payload whose shape
// depends on the packet type carried in the low 7 bits of flag.
//
// This package only knows about framing and the plaintext structure of
// each packet type's payload; it never touches key material. Sealing and
// opening (sealed-to-node, session box) are the caller's job — see
// internal/sessionbox and the Node interface in the root package.
package wire

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Byte-exact constants taken from the original ActiveProxy addon
// (src/addons/activeproxy/connection.cc).
const (
	HeaderBytes           = 3
	MaxDataPacketSize     = 0x7FFF
	MaxControlPacketSize  = 0x1000
	MACBytes              = 16
	NonceBytes            = 24
	PublicKeyBytes        = 32
	SignatureBytes        = 64
	NodeIDBytes           = 32

	// MaxUpstreamReadBufferSize bounds a single upstream read so the
	// resulting DATA packet (header + MAC + payload) never exceeds
	// MaxDataPacketSize.
	MaxUpstreamReadBufferSize = MaxDataPacketSize - HeaderBytes - MACBytes

	// MaxRelayWriteQueueSize is the backpressure cap on bytes queued for
	// write toward the server before upstream reads are paused.
	MaxRelayWriteQueueSize = 2 * 1024 * 1024

	// RelayWriteQueueResumeSize is one quarter of the cap; upstream reads
	// resume once the queue drains below this.
	RelayWriteQueueResumeSize = MaxRelayWriteQueueSize / 4
)

// Type identifies a packet's payload shape.
type Type uint8

// Packet types, occupying the low 7 bits of the frame's flag byte.
const (
	Auth Type = iota + 1
	Attach
	Ping
	Connect
	Disconnect
	Data
	Err
)

func (t Type) String() string {
	switch t {
	case Auth:
		return "AUTH"
	case Attach:
		return "ATTACH"
	case Ping:
		return "PING"
	case Connect:
		return "CONNECT"
	case Disconnect:
		return "DISCONNECT"
	case Data:
		return "DATA"
	case Err:
		return "ERR"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

const ackBit = 0x80

// Header is the parsed 3-byte frame header.
type Header struct {
	Size uint16
	Type Type
	Ack  bool
}

// EncodeFrame encodes a complete packet: header + payload.
func EncodeFrame(typ Type, ack bool, payload []byte) ([]byte, error) {
	total := HeaderBytes + len(payload)
	if total > 0xFFFF {
		return nil, fmt.Errorf("wire: payload too large for frame (%d bytes)", total)
	}
	buf := make([]byte, total)
	binary.BigEndian.PutUint16(buf[0:2], uint16(total))
	flag := byte(typ)
	if ack {
		flag |= ackBit
	}
	buf[2] = flag
	copy(buf[HeaderBytes:], payload)
	return buf, nil
}

// ParseHeader decodes the 3-byte header from buf, which must be at least
// HeaderBytes long.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderBytes {
		return Header{}, fmt.Errorf("wire: short header (%d bytes)", len(buf))
	}
	size := binary.BigEndian.Uint16(buf[0:2])
	flag := buf[2]
	if size < HeaderBytes {
		return Header{}, fmt.Errorf("wire: invalid frame size %d", size)
	}
	return Header{
		Size: size,
		Type: Type(flag &^ ackBit),
		Ack:  flag&ackBit != 0,
	}, nil
}

// MaxSizeFor returns the largest legal frame size for a packet type: data
// packets may run up to MaxDataPacketSize, everything else is a control
// packet capped at MaxControlPacketSize.
func MaxSizeFor(typ Type) int {
	if typ == Data {
		return MaxDataPacketSize
	}
	return MaxControlPacketSize
}

// RandomPadding returns a uniformly random number of random bytes in
// [0, 256), matching the original's randomPadding() = Random::uint32(256).
func RandomPadding() ([]byte, error) {
	var n [1]byte
	if _, err := rand.Read(n[:]); err != nil {
		return nil, fmt.Errorf("wire: generating padding length: %w", err)
	}
	buf := make([]byte, int(n[0]))
	if len(buf) > 0 {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("wire: generating padding bytes: %w", err)
		}
	}
	return buf, nil
}
