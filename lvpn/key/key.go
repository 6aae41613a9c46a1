package key

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"strings"
)

// Size is the key length in bytes (256 bits).
const Size = 32

var ErrInvalidKeyLength = errors.New("key: invalid key length, want 256 bits")

// Key is the shared tunnel secret. The zero value is not a usable key.
// Key is immutable: it is passed by value and Bytes returns a copy.
type Key struct {
	b   [Size]byte
	set bool
}

// Load wraps exactly Size raw bytes as a Key.
func Load(b []byte) (Key, error) {
	if len(b) != Size {
		return Key{}, ErrInvalidKeyLength
	}
	var k Key
	copy(k.b[:], b)
	k.set = true
	return k, nil
}

// Generate returns a fresh key from crypto/rand.
func Generate() (Key, error) {
	var k Key
	if _, err := io.ReadFull(rand.Reader, k.b[:]); err != nil {
		return Key{}, err
	}
	k.set = true
	return k, nil
}

// ParseHex parses a 64 digit hex key. Whitespace, colons and dashes are
// ignored so keys pasted from a terminal or split into groups still parse.
func ParseHex(s string) (Key, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n', ':', '-':
			return -1
		}
		return r
	}, s)
	if len(clean) != hex.EncodedLen(Size) {
		return Key{}, ErrInvalidKeyLength
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return Key{}, err
	}
	return Load(b)
}

// IsZero reports whether k was never loaded.
func (k Key) IsZero() bool { return !k.set }

// Bytes returns a copy of the raw key material.
func (k Key) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, k.b[:])
	return out
}

// Hex returns the key as lowercase hex, for sharing with the peer out of band.
func (k Key) Hex() string {
	return hex.EncodeToString(k.b[:])
}

// Equal compares raw key bytes in constant time.
func (k Key) Equal(other Key) bool {
	return k.set == other.set && subtle.ConstantTimeCompare(k.b[:], other.b[:]) == 1
}

// String prints the fingerprint, never the secret.
func (k Key) String() string {
	if !k.set {
		return "key(unset)"
	}
	return "key(" + k.Fingerprint().String() + ")"
}
