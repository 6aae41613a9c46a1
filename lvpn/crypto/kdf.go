package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey derives a key of the specified length using HKDF-SHA256.
// salt can be nil (uses zero salt), info provides context binding.
func DeriveKey(secret, salt, info []byte, length int) ([]byte, error) {
	hk := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, length)
	if _, err := io.ReadFull(hk, key); err != nil {
		return nil, err
	}
	return key, nil
}

// deriveMACKey binds the frame MAC key to the tunnel key.
func deriveMACKey(key []byte) ([]byte, error) {
	return DeriveKey(key, nil, []byte("lvpn-frame-mac-v1"), sha256.Size)
}
