package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/crypto"
	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/key"
)

const (
	// LengthPrefixSize is the size of the big-endian frame length.
	LengthPrefixSize = 4
	// MaxFrameSize bounds IV + ciphertext of a single frame.
	MaxFrameSize = 65536
	// MaxPayload is the largest payload whose frame fits in MaxFrameSize.
	MaxPayload = MaxFrameSize - crypto.IVSize - crypto.TagSize - 1

	minFrameSize = crypto.IVSize + crypto.BlockSize + crypto.TagSize
)

var (
	ErrMalformedFrame    = errors.New("protocol: malformed frame")
	ErrDecryptionFailure = errors.New("protocol: decryption failure")
	ErrFrameTooLarge     = errors.New("protocol: payload too large")
)

// Frame is the unit on the wire.
// Format:
//
//	4 bytes: length of IV + ciphertext (big endian)
//	16 bytes: IV
//	N bytes: ciphertext (AES-256-CBC blocks followed by a 16 byte tag)
//
// The trailing HMAC-SHA256 tag is not part of a bare IV + CBC frame, so peers
// that send untagged frames cannot interoperate: every frame they send fails
// with ErrDecryptionFailure, and they cannot strip the tag from ours.
type Frame struct {
	IV         [crypto.IVSize]byte
	Ciphertext []byte
}

// Len is the value carried in the length prefix.
func (f Frame) Len() int { return crypto.IVSize + len(f.Ciphertext) }

// WireSize is the number of bytes the frame occupies on the wire.
func (f Frame) WireSize() int { return LengthPrefixSize + f.Len() }

// Bytes serializes the frame including its length prefix.
func (f Frame) Bytes() []byte {
	out := make([]byte, f.WireSize())
	binary.BigEndian.PutUint32(out[:LengthPrefixSize], uint32(f.Len()))
	copy(out[LengthPrefixSize:], f.IV[:])
	copy(out[LengthPrefixSize+crypto.IVSize:], f.Ciphertext)
	return out
}

// WriteFrame writes f with a single Write so concurrent writers never interleave.
func WriteFrame(w io.Writer, f Frame) (int, error) {
	return w.Write(f.Bytes())
}

// ReadFrame reads one frame, blocking until it is complete or r fails.
// io.EOF is returned unchanged when the stream ends between frames.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	switch {
	case n == 0:
		return Frame{}, fmt.Errorf("%w: zero length", ErrMalformedFrame)
	case n > MaxFrameSize:
		return Frame{}, fmt.Errorf("%w: length %d exceeds %d", ErrMalformedFrame, n, MaxFrameSize)
	case n < minFrameSize || (n-crypto.IVSize-crypto.TagSize)%crypto.BlockSize != 0:
		return Frame{}, fmt.Errorf("%w: length %d not a valid ciphertext size", ErrMalformedFrame, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	var f Frame
	copy(f.IV[:], body[:crypto.IVSize])
	f.Ciphertext = body[crypto.IVSize:]
	return f, nil
}

// Codec turns payloads into encrypted frames under one key and back.
type Codec struct {
	cipher *crypto.CBC
}

// NewCodec returns a codec keyed by k. A zero key is rejected.
func NewCodec(k key.Key) (*Codec, error) {
	if k.IsZero() {
		return nil, key.ErrInvalidKeyLength
	}
	c, err := crypto.NewCBC(k.Bytes())
	if err != nil {
		return nil, err
	}
	return &Codec{cipher: c}, nil
}

// Encode seals payload into a frame with a fresh random IV.
func (c *Codec) Encode(payload []byte) (Frame, error) {
	if len(payload) > MaxPayload {
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), MaxPayload)
	}
	sealed, err := c.cipher.Seal(payload)
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	copy(f.IV[:], sealed[:crypto.IVSize])
	f.Ciphertext = sealed[crypto.IVSize:]
	return f, nil
}

// Open authenticates and decrypts a frame.
func (c *Codec) Open(f Frame) ([]byte, error) {
	sealed := make([]byte, f.Len())
	copy(sealed, f.IV[:])
	copy(sealed[crypto.IVSize:], f.Ciphertext)
	payload, err := c.cipher.Open(sealed)
	switch {
	case errors.Is(err, crypto.ErrDecryptionFailed):
		return nil, ErrDecryptionFailure
	case errors.Is(err, crypto.ErrCiphertextTooShort):
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	case err != nil:
		return nil, err
	}
	return payload, nil
}

// Decode reads the next frame from r and returns its payload.
func (c *Codec) Decode(r io.Reader) ([]byte, error) {
	f, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return c.Open(f)
}
