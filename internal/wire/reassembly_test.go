package wire

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTestStream(t *testing.T) []byte {
	t.Helper()
	var stream []byte
	for i := 0; i < 8; i++ {
		f, err := EncodeFrame(Ping, i%2 == 0, []byte{byte(i), byte(i + 1), byte(i + 2)})
		require.NoError(t, err)
		stream = append(stream, f...)
	}
	return stream
}

func TestReassemblerWholeStreamAtOnce(t *testing.T) {
	stream := buildTestStream(t)
	r := NewReassembler()
	frames, err := r.Push(stream)
	require.NoError(t, err)
	require.Len(t, frames, 8)
	require.Zero(t, r.Pending())
}

// TestReassemblerArbitrarySplits is the property test spec.md §8 calls
// for: reading the same byte stream across random chunks of 1 to 5 bytes
// must yield the same sequence of frames as one contiguous read.
func TestReassemblerArbitrarySplits(t *testing.T) {
	stream := buildTestStream(t)
	want := NewReassembler()
	wantFrames, err := want.Push(stream)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 20; trial++ {
		r := NewReassembler()
		var got []Frame
		i := 0
		for i < len(stream) {
			n := 1 + rng.Intn(5)
			if i+n > len(stream) {
				n = len(stream) - i
			}
			frames, err := r.Push(stream[i : i+n])
			require.NoError(t, err)
			got = append(got, frames...)
			i += n
		}
		require.Len(t, got, len(wantFrames))
		for j := range wantFrames {
			require.Equal(t, wantFrames[j].Header, got[j].Header)
			require.Equal(t, wantFrames[j].Payload, got[j].Payload)
		}
	}
}

func TestReassemblerRejectsOversizedFrame(t *testing.T) {
	r := NewReassembler()
	buf := make([]byte, 3)
	buf[0] = 0xFF
	buf[1] = 0xFF
	buf[2] = byte(Ping)
	_, err := r.Push(buf)
	require.Error(t, err)
}

func TestReassemblerParksPartialPacket(t *testing.T) {
	f, err := EncodeFrame(Ping, false, []byte("abcdef"))
	require.NoError(t, err)
	r := NewReassembler()
	frames, err := r.Push(f[:2])
	require.NoError(t, err)
	require.Empty(t, frames)
	require.Equal(t, 2, r.Pending())

	frames, err = r.Push(f[2:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Zero(t, r.Pending())
}
