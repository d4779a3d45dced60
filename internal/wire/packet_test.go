package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte("hello rendezvous")
	frame, err := EncodeFrame(Ping, true, payload)
	require.NoError(t, err)

	hdr, err := ParseHeader(frame)
	require.NoError(t, err)
	require.Equal(t, Ping, hdr.Type)
	require.True(t, hdr.Ack)
	require.EqualValues(t, len(frame), hdr.Size)
	require.Equal(t, payload, frame[HeaderBytes:hdr.Size])
}

func TestFrameAckBitDoesNotLeakIntoType(t *testing.T) {
	frame, err := EncodeFrame(Data, false, []byte("x"))
	require.NoError(t, err)
	hdr, err := ParseHeader(frame)
	require.NoError(t, err)
	require.Equal(t, Data, hdr.Type)
	require.False(t, hdr.Ack)
}

func TestParseHeaderRejectsShortBuffer(t *testing.T) {
	_, err := ParseHeader([]byte{0x00, 0x03})
	require.Error(t, err)
}

func TestParseHeaderRejectsUndersizedFrame(t *testing.T) {
	_, err := ParseHeader([]byte{0x00, 0x01, 0x00})
	require.Error(t, err)
}

func TestMaxSizeForDataVsControl(t *testing.T) {
	require.Equal(t, MaxDataPacketSize, MaxSizeFor(Data))
	require.Equal(t, MaxControlPacketSize, MaxSizeFor(Auth))
	require.Equal(t, MaxControlPacketSize, MaxSizeFor(Ping))
}

func TestRandomPaddingInRange(t *testing.T) {
	for i := 0; i < 64; i++ {
		p, err := RandomPadding()
		require.NoError(t, err)
		require.Less(t, len(p), 256)
	}
}

func TestTypeString(t *testing.T) {
	require.Equal(t, "AUTH", Auth.String())
	require.Equal(t, "DATA", Data.String())
	require.Contains(t, Type(99).String(), "Type(99)")
}
