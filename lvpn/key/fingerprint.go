package key

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/crypto"
)

// FingerprintSize is the fingerprint length in bytes (16 hex characters).
const FingerprintSize = 8

var fingerprintInfo = []byte("lvpn-fingerprint-v1")

// Fingerprint is a short digest of a Key used for comparison and display only.
//
// It is HKDF-SHA256(key, info "lvpn-fingerprint-v1") truncated to 64 bits.
// Two different keys share a fingerprint with probability about 2^-64; that is
// negligible but not zero, so a matching fingerprint never stands in for key
// equality. Traffic is protected by the full key.
type Fingerprint [FingerprintSize]byte

// Fingerprint derives the key's fingerprint.
func (k Key) Fingerprint() Fingerprint {
	var fp Fingerprint
	out, err := crypto.DeriveKey(k.b[:], nil, fingerprintInfo, FingerprintSize)
	if err != nil {
		// HKDF only fails when asked for more than 255 hash lengths.
		panic(err)
	}
	copy(fp[:], out)
	return fp
}

func ParseFingerprintHex(s string) (Fingerprint, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Fingerprint{}, err
	}
	if len(b) != FingerprintSize {
		return Fingerprint{}, errors.New("key: invalid fingerprint length")
	}
	var fp Fingerprint
	copy(fp[:], b)
	return fp, nil
}

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Equal compares fingerprints in constant time.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return subtle.ConstantTimeCompare(f[:], other[:]) == 1
}
