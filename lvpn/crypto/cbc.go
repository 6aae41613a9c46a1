package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
)

const (
	// KeySize is the AES-256 key size.
	KeySize = 32
	// BlockSize is the AES block size; the IV has the same length.
	BlockSize = aes.BlockSize
	IVSize    = BlockSize
	// TagSize is the truncated HMAC-SHA256 length appended to every ciphertext.
	TagSize = 16
)

var (
	ErrInvalidKeySize     = errors.New("crypto: invalid key size for AES-256")
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
	ErrDecryptionFailed   = errors.New("crypto: decryption failed")
)

// CBC seals payloads as IV || AES-256-CBC(PKCS7(plaintext)) || tag, where
// tag = HMAC-SHA256(macKey, IV || cbc)[:TagSize].
// A CBC value is safe for concurrent use.
type CBC struct {
	block  cipher.Block
	macKey []byte
	rand   io.Reader
}

// NewCBC creates the frame cipher from a 32-byte key.
func NewCBC(key []byte) (*CBC, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	macKey, err := deriveMACKey(key)
	if err != nil {
		return nil, err
	}
	return &CBC{block: block, macKey: macKey, rand: rand.Reader}, nil
}

// SealedSize returns the sealed length for a plaintext of n bytes.
func SealedSize(n int) int {
	return IVSize + (n/BlockSize+1)*BlockSize + TagSize
}

// Seal encrypts and authenticates plaintext under a fresh random IV.
func (c *CBC) Seal(plaintext []byte) ([]byte, error) {
	padded := pkcs7Pad(plaintext, BlockSize)
	out := make([]byte, IVSize+len(padded), IVSize+len(padded)+TagSize)
	iv := out[:IVSize]
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return nil, err
	}
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out[IVSize:], padded)
	return append(out, c.tag(out)...), nil
}

// Open verifies and decrypts a sealed message.
// Any tag or padding failure yields ErrDecryptionFailed.
func (c *CBC) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < IVSize+BlockSize+TagSize {
		return nil, ErrCiphertextTooShort
	}
	body := sealed[:len(sealed)-TagSize]
	if (len(body)-IVSize)%BlockSize != 0 {
		return nil, ErrCiphertextTooShort
	}
	if !hmac.Equal(c.tag(body), sealed[len(body):]) {
		return nil, ErrDecryptionFailed
	}
	iv, ct := body[:IVSize], body[IVSize:]
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plain, ct)
	out, err := pkcs7Unpad(plain, BlockSize)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return out, nil
}

func (c *CBC) tag(data []byte) []byte {
	m := hmac.New(sha256.New, c.macKey)
	m.Write(data)
	return m.Sum(nil)[:TagSize]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	out := make([]byte, len(data), len(data)+padding)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	n := len(data)
	if n == 0 || n%blockSize != 0 {
		return nil, errors.New("crypto: invalid padded length")
	}
	padding := int(data[n-1])
	if padding == 0 || padding > blockSize {
		return nil, errors.New("crypto: invalid padding")
	}
	for _, b := range data[n-padding:] {
		if int(b) != padding {
			return nil, errors.New("crypto: invalid padding")
		}
	}
	return data[:n-padding], nil
}
