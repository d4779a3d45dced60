package wire

import (
	"encoding/binary"
	"fmt"
)

// ChallengeMinBytes and ChallengeMaxBytes bound the raw, unframed
// challenge the server sends immediately after connect: it is read
// directly off the socket before any header framing applies.
const (
	ChallengeMinBytes = 32
	ChallengeMaxBytes = 256
)

// ValidateChallenge checks a received challenge's length.
func ValidateChallenge(b []byte) error {
	if len(b) < ChallengeMinBytes || len(b) > ChallengeMaxBytes {
		return fmt.Errorf("wire: challenge size %d out of range [%d,%d]", len(b), ChallengeMinBytes, ChallengeMaxBytes)
	}
	return nil
}

// sealedHandshakePlainLen is the length of the {session_pk, nonce, sig}
// triple common to both AUTH and ATTACH sealed plaintexts.
const sealedHandshakePlainLen = PublicKeyBytes + NonceBytes + SignatureBytes

// AttachCipherLen is the fixed ciphertext length of an ATTACH payload's
// sealed-to-node section (no domain, no internal padding).
const AttachCipherLen = sealedHandshakePlainLen + MACBytes

// BuildAuthSealedPlain assembles the plaintext that gets sealed-to-node for
// an AUTH packet: session_pk + nonce + signature + domain_len + domain +
// random padding.
func BuildAuthSealedPlain(sessionPK [PublicKeyBytes]byte, nonce [NonceBytes]byte, sig [SignatureBytes]byte, domain string) ([]byte, error) {
	if len(domain) > 255 {
		return nil, fmt.Errorf("wire: domain name too long (%d bytes)", len(domain))
	}
	padding, err := RandomPadding()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, sealedHandshakePlainLen+1+len(domain)+len(padding))
	buf = append(buf, sessionPK[:]...)
	buf = append(buf, nonce[:]...)
	buf = append(buf, sig[:]...)
	buf = append(buf, byte(len(domain)))
	buf = append(buf, domain...)
	buf = append(buf, padding...)
	return buf, nil
}

// ParseAuthSealedPlain reverses BuildAuthSealedPlain, ignoring trailing
// padding bytes.
func ParseAuthSealedPlain(plain []byte) (sessionPK [PublicKeyBytes]byte, nonce [NonceBytes]byte, sig [SignatureBytes]byte, domain string, err error) {
	if len(plain) < sealedHandshakePlainLen+1 {
		err = fmt.Errorf("wire: AUTH sealed payload too short (%d bytes)", len(plain))
		return
	}
	off := 0
	copy(sessionPK[:], plain[off:off+PublicKeyBytes])
	off += PublicKeyBytes
	copy(nonce[:], plain[off:off+NonceBytes])
	off += NonceBytes
	copy(sig[:], plain[off:off+SignatureBytes])
	off += SignatureBytes
	domainLen := int(plain[off])
	off++
	if len(plain) < off+domainLen {
		err = fmt.Errorf("wire: AUTH sealed payload truncated domain")
		return
	}
	domain = string(plain[off : off+domainLen])
	return
}

// BuildAttachSealedPlain assembles the plaintext that gets sealed-to-node
// for an ATTACH packet: session_pk + nonce + signature, with no domain and
// no internal padding (ATTACH's padding is plaintext and trails the
// ciphertext instead).
func BuildAttachSealedPlain(sessionPK [PublicKeyBytes]byte, nonce [NonceBytes]byte, sig [SignatureBytes]byte) []byte {
	buf := make([]byte, 0, sealedHandshakePlainLen)
	buf = append(buf, sessionPK[:]...)
	buf = append(buf, nonce[:]...)
	buf = append(buf, sig[:]...)
	return buf
}

// ParseAttachSealedPlain reverses BuildAttachSealedPlain.
func ParseAttachSealedPlain(plain []byte) (sessionPK [PublicKeyBytes]byte, nonce [NonceBytes]byte, sig [SignatureBytes]byte, err error) {
	if len(plain) != sealedHandshakePlainLen {
		err = fmt.Errorf("wire: ATTACH sealed payload wrong length (%d bytes)", len(plain))
		return
	}
	off := 0
	copy(sessionPK[:], plain[off:off+PublicKeyBytes])
	off += PublicKeyBytes
	copy(nonce[:], plain[off:off+NonceBytes])
	off += NonceBytes
	copy(sig[:], plain[off:off+SignatureBytes])
	return
}

// AssembleAuthPayload concatenates the plaintext node id with the
// sealed-to-node ciphertext to form the full AUTH frame payload.
func AssembleAuthPayload(nodeID [NodeIDBytes]byte, sealed []byte) []byte {
	buf := make([]byte, 0, NodeIDBytes+len(sealed))
	buf = append(buf, nodeID[:]...)
	buf = append(buf, sealed...)
	return buf
}

// ParseAuthPayload splits an AUTH frame payload into its plaintext node id
// and the remaining sealed-to-node ciphertext.
func ParseAuthPayload(payload []byte) (nodeID [NodeIDBytes]byte, sealed []byte, err error) {
	if len(payload) < NodeIDBytes {
		err = fmt.Errorf("wire: AUTH payload too short (%d bytes)", len(payload))
		return
	}
	copy(nodeID[:], payload[:NodeIDBytes])
	sealed = payload[NodeIDBytes:]
	return
}

// AssembleAttachPayload concatenates the plaintext node id, the
// fixed-length sealed-to-node ciphertext, and trailing plaintext padding.
func AssembleAttachPayload(nodeID [NodeIDBytes]byte, sealed []byte, padding []byte) ([]byte, error) {
	if len(sealed) != AttachCipherLen {
		return nil, fmt.Errorf("wire: ATTACH ciphertext wrong length (%d bytes)", len(sealed))
	}
	buf := make([]byte, 0, NodeIDBytes+len(sealed)+len(padding))
	buf = append(buf, nodeID[:]...)
	buf = append(buf, sealed...)
	buf = append(buf, padding...)
	return buf, nil
}

// ParseAttachPayload splits an ATTACH frame payload into node id, the
// fixed-length sealed-to-node ciphertext, and (discarded) trailing
// padding.
func ParseAttachPayload(payload []byte) (nodeID [NodeIDBytes]byte, sealed []byte, err error) {
	if len(payload) < NodeIDBytes+AttachCipherLen {
		err = fmt.Errorf("wire: ATTACH payload too short (%d bytes)", len(payload))
		return
	}
	copy(nodeID[:], payload[:NodeIDBytes])
	sealed = payload[NodeIDBytes : NodeIDBytes+AttachCipherLen]
	return
}

// authAckPlainLen is the length of the plaintext carried inside an
// AUTH|ACK: server_session_pk[32] + assigned_port[2] + domain_enabled[1].
const authAckPlainLen = PublicKeyBytes + 2 + 1

// BuildAuthAckPlain assembles the plaintext of an AUTH|ACK reply (used by
// test doubles standing in for the rendezvous server).
func BuildAuthAckPlain(serverSessionPK [PublicKeyBytes]byte, port uint16, domainEnabled bool) []byte {
	buf := make([]byte, authAckPlainLen)
	copy(buf[0:PublicKeyBytes], serverSessionPK[:])
	binary.BigEndian.PutUint16(buf[PublicKeyBytes:PublicKeyBytes+2], port)
	if domainEnabled {
		buf[PublicKeyBytes+2] = 1
	}
	return buf
}

// ParseAuthAckPlain reverses BuildAuthAckPlain.
func ParseAuthAckPlain(plain []byte) (serverSessionPK [PublicKeyBytes]byte, port uint16, domainEnabled bool, err error) {
	if len(plain) != authAckPlainLen {
		err = fmt.Errorf("wire: AUTH|ACK plaintext wrong length (%d bytes)", len(plain))
		return
	}
	copy(serverSessionPK[:], plain[0:PublicKeyBytes])
	port = binary.BigEndian.Uint16(plain[PublicKeyBytes : PublicKeyBytes+2])
	domainEnabled = plain[PublicKeyBytes+2]&1 != 0
	return
}

// connectPlainLen is the length of a CONNECT payload's plaintext:
// addr_len[1] + addr[16] + port[2].
const connectPlainLen = 1 + AddrFieldBytes + 2

// BuildConnectPlain assembles the plaintext of a CONNECT payload (before
// session-box sealing).
func BuildConnectPlain(addrLen byte, addrField [AddrFieldBytes]byte, port uint16) []byte {
	buf := make([]byte, connectPlainLen)
	buf[0] = addrLen
	copy(buf[1:1+AddrFieldBytes], addrField[:])
	binary.BigEndian.PutUint16(buf[1+AddrFieldBytes:], port)
	return buf
}

// ParseConnectPlain reverses BuildConnectPlain.
func ParseConnectPlain(plain []byte) (addrLen byte, addrField [AddrFieldBytes]byte, port uint16, err error) {
	if len(plain) != connectPlainLen {
		err = fmt.Errorf("wire: CONNECT plaintext wrong length (%d bytes)", len(plain))
		return
	}
	addrLen = plain[0]
	copy(addrField[:], plain[1:1+AddrFieldBytes])
	port = binary.BigEndian.Uint16(plain[1+AddrFieldBytes:])
	return
}

const connectAckSuccessBit = 0x01

// BuildConnectAckPayload assembles the plaintext CONNECT|ACK payload:
// a success byte (only bit 0 is meaningful) plus random padding.
func BuildConnectAckPayload(success bool) ([]byte, error) {
	padding, err := RandomPadding()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 1+len(padding))
	if success {
		buf[0] = connectAckSuccessBit
	}
	copy(buf[1:], padding)
	return buf, nil
}

// ParseConnectAckPayload extracts the success bit from a CONNECT|ACK
// payload.
func ParseConnectAckPayload(payload []byte) (success bool, err error) {
	if len(payload) < 1 {
		err = fmt.Errorf("wire: CONNECT|ACK payload empty")
		return
	}
	success = payload[0]&connectAckSuccessBit != 0
	return
}

// BuildErrPlain assembles the plaintext of an ERR payload (before
// session-box sealing): code[2 BE] + msg.
func BuildErrPlain(code uint16, msg string) []byte {
	buf := make([]byte, 2+len(msg))
	binary.BigEndian.PutUint16(buf[0:2], code)
	copy(buf[2:], msg)
	return buf
}

// ParseErrPlain reverses BuildErrPlain.
func ParseErrPlain(plain []byte) (code uint16, msg string, err error) {
	if len(plain) < 2 {
		err = fmt.Errorf("wire: ERR plaintext too short (%d bytes)", len(plain))
		return
	}
	code = binary.BigEndian.Uint16(plain[0:2])
	msg = string(plain[2:])
	return
}
