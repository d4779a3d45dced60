package wire

import "fmt"

// Frame is one fully reassembled packet: its parsed header and the raw
// payload bytes following it.
type Frame struct {
	Header  Header
	Payload []byte
}

// Reassembler accumulates bytes from arbitrarily sliced read events and
// yields whole frames. It never presumes read boundaries align with
// packet boundaries: a 3-byte header must itself be accumulated before a
// packet's length is knowable.
//
// Reassembler keeps ownership of any partial trailing packet across calls,
// matching spec's sticky_buffer invariant: it is either empty or holds a
// strict prefix of an inbound packet.
type Reassembler struct {
	buf []byte
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Push feeds newly read bytes in and returns every frame that is now
// complete, in wire order. A non-nil error means the stream is corrupt
// (oversized or malformed header) and the connection must close; any
// frames already returned before the error are still valid and should be
// processed.
func (r *Reassembler) Push(data []byte) ([]Frame, error) {
	r.buf = append(r.buf, data...)
	var frames []Frame
	for {
		if len(r.buf) < HeaderBytes {
			return frames, nil
		}
		hdr, err := ParseHeader(r.buf)
		if err != nil {
			return frames, err
		}
		if int(hdr.Size) > MaxDataPacketSize {
			return frames, fmt.Errorf("wire: frame size %d exceeds maximum %d", hdr.Size, MaxDataPacketSize)
		}
		if maxForType := MaxSizeFor(hdr.Type); int(hdr.Size) > maxForType {
			return frames, fmt.Errorf("wire: %s frame size %d exceeds type maximum %d", hdr.Type, hdr.Size, maxForType)
		}
		if len(r.buf) < int(hdr.Size) {
			return frames, nil
		}
		payload := append([]byte(nil), r.buf[HeaderBytes:hdr.Size]...)
		frames = append(frames, Frame{Header: hdr, Payload: payload})
		r.buf = r.buf[hdr.Size:]
	}
}

// Pending reports how many bytes of an incomplete packet are currently
// held.
func (r *Reassembler) Pending() int {
	return len(r.buf)
}
