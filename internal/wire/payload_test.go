package wire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuthSealedPlainRoundTrip(t *testing.T) {
	var sessionPK [PublicKeyBytes]byte
	var nonce [NonceBytes]byte
	var sig [SignatureBytes]byte
	for i := range sessionPK {
		sessionPK[i] = byte(i)
	}
	for i := range nonce {
		nonce[i] = byte(i + 1)
	}
	for i := range sig {
		sig[i] = byte(i + 2)
	}

	plain, err := BuildAuthSealedPlain(sessionPK, nonce, sig, "a.example")
	require.NoError(t, err)

	gotPK, gotNonce, gotSig, domain, err := ParseAuthSealedPlain(plain)
	require.NoError(t, err)
	require.Equal(t, sessionPK, gotPK)
	require.Equal(t, nonce, gotNonce)
	require.Equal(t, sig, gotSig)
	require.Equal(t, "a.example", domain)
}

func TestAttachSealedPlainRoundTrip(t *testing.T) {
	var sessionPK [PublicKeyBytes]byte
	var nonce [NonceBytes]byte
	var sig [SignatureBytes]byte
	sessionPK[0] = 9
	nonce[0] = 8
	sig[0] = 7

	plain := BuildAttachSealedPlain(sessionPK, nonce, sig)
	require.Len(t, plain, sealedHandshakePlainLen)

	gotPK, gotNonce, gotSig, err := ParseAttachSealedPlain(plain)
	require.NoError(t, err)
	require.Equal(t, sessionPK, gotPK)
	require.Equal(t, nonce, gotNonce)
	require.Equal(t, sig, gotSig)
}

func TestAuthAckPlainRoundTrip(t *testing.T) {
	var pk [PublicKeyBytes]byte
	pk[0] = 0xAB
	plain := BuildAuthAckPlain(pk, 12345, true)
	gotPK, port, domainEnabled, err := ParseAuthAckPlain(plain)
	require.NoError(t, err)
	require.Equal(t, pk, gotPK)
	require.EqualValues(t, 12345, port)
	require.True(t, domainEnabled)
}

func TestConnectPlainRoundTrip(t *testing.T) {
	field, addrLen, err := EncodeAddr(net.ParseIP("192.0.2.1"))
	require.NoError(t, err)
	require.EqualValues(t, 4, addrLen)

	plain := BuildConnectPlain(addrLen, field, 9000)
	gotLen, gotField, gotPort, err := ParseConnectPlain(plain)
	require.NoError(t, err)
	require.Equal(t, addrLen, gotLen)
	require.Equal(t, field, gotField)
	require.EqualValues(t, 9000, gotPort)

	ip, err := DecodeAddr(gotField, gotLen)
	require.NoError(t, err)
	require.True(t, ip.Equal(net.ParseIP("192.0.2.1")))
}

func TestConnectPlainRoundTripIPv6(t *testing.T) {
	field, addrLen, err := EncodeAddr(net.ParseIP("2001:db8::1"))
	require.NoError(t, err)
	require.EqualValues(t, 16, addrLen)

	ip, err := DecodeAddr(field, addrLen)
	require.NoError(t, err)
	require.True(t, ip.Equal(net.ParseIP("2001:db8::1")))
}

func TestConnectAckPayloadRoundTrip(t *testing.T) {
	payload, err := BuildConnectAckPayload(true)
	require.NoError(t, err)
	success, err := ParseConnectAckPayload(payload)
	require.NoError(t, err)
	require.True(t, success)

	payload, err = BuildConnectAckPayload(false)
	require.NoError(t, err)
	success, err = ParseConnectAckPayload(payload)
	require.NoError(t, err)
	require.False(t, success)
}

func TestErrPlainRoundTrip(t *testing.T) {
	plain := BuildErrPlain(42, "rejected")
	code, msg, err := ParseErrPlain(plain)
	require.NoError(t, err)
	require.EqualValues(t, 42, code)
	require.Equal(t, "rejected", msg)
}

func TestValidateChallenge(t *testing.T) {
	require.NoError(t, ValidateChallenge(make([]byte, 32)))
	require.NoError(t, ValidateChallenge(make([]byte, 256)))
	require.Error(t, ValidateChallenge(make([]byte, 31)))
	require.Error(t, ValidateChallenge(make([]byte, 257)))
}

func TestAssembleAuthAttachPayloads(t *testing.T) {
	var nodeID [NodeIDBytes]byte
	nodeID[0] = 1
	sealed := make([]byte, AttachCipherLen)
	padding := []byte{1, 2, 3}

	attachPayload, err := AssembleAttachPayload(nodeID, sealed, padding)
	require.NoError(t, err)
	gotID, gotSealed, err := ParseAttachPayload(attachPayload)
	require.NoError(t, err)
	require.Equal(t, nodeID, gotID)
	require.Equal(t, sealed, gotSealed)

	authSealed := []byte("arbitrary length sealed auth payload")
	authPayload := AssembleAuthPayload(nodeID, authSealed)
	gotID, gotAuthSealed, err := ParseAuthPayload(authPayload)
	require.NoError(t, err)
	require.Equal(t, nodeID, gotID)
	require.Equal(t, authSealed, gotAuthSealed)
}
