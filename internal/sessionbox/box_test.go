package sessionbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoxSealOpenRoundTrip(t *testing.T) {
	client, err := GenerateKeyPair()
	require.NoError(t, err)
	server, err := GenerateKeyPair()
	require.NoError(t, err)

	clientBox := Precompute(client, server.Public)
	serverBox := Precompute(server, client.Public)

	nonce, err := NewNonce()
	require.NoError(t, err)

	plain := []byte("relay this please")
	sealed := clientBox.Seal(nil, plain, nonce)
	require.Len(t, sealed, len(plain)+MACBytes)

	opened, err := serverBox.Open(nil, sealed, nonce)
	require.NoError(t, err)
	require.Equal(t, plain, opened)
}

func TestBoxOpenFailsOnTamperedCiphertext(t *testing.T) {
	client, err := GenerateKeyPair()
	require.NoError(t, err)
	server, err := GenerateKeyPair()
	require.NoError(t, err)

	clientBox := Precompute(client, server.Public)
	serverBox := Precompute(server, client.Public)

	nonce, err := NewNonce()
	require.NoError(t, err)

	sealed := clientBox.Seal(nil, []byte("untampered"), nonce)
	sealed[0] ^= 0xFF

	_, err = serverBox.Open(nil, sealed, nonce)
	require.Error(t, err)
}

func TestBoxOpenFailsOnWrongNonce(t *testing.T) {
	client, err := GenerateKeyPair()
	require.NoError(t, err)
	server, err := GenerateKeyPair()
	require.NoError(t, err)

	clientBox := Precompute(client, server.Public)
	serverBox := Precompute(server, client.Public)

	nonceA, err := NewNonce()
	require.NoError(t, err)
	nonceB, err := NewNonce()
	require.NoError(t, err)

	sealed := clientBox.Seal(nil, []byte("bound to nonce A"), nonceA)
	_, err = serverBox.Open(nil, sealed, nonceB)
	require.Error(t, err)
}

func TestBoxOpenFailsWithMismatchedKeys(t *testing.T) {
	client, err := GenerateKeyPair()
	require.NoError(t, err)
	server, err := GenerateKeyPair()
	require.NoError(t, err)
	stranger, err := GenerateKeyPair()
	require.NoError(t, err)

	clientBox := Precompute(client, server.Public)
	strangerBox := Precompute(stranger, client.Public)

	nonce, err := NewNonce()
	require.NoError(t, err)

	sealed := clientBox.Seal(nil, []byte("not for you"), nonce)
	_, err = strangerBox.Open(nil, sealed, nonce)
	require.Error(t, err)
}

func TestNewNonceIsRandom(t *testing.T) {
	a, err := NewNonce()
	require.NoError(t, err)
	b, err := NewNonce()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
