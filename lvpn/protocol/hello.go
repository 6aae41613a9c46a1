package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/key"
)

const (
	// HelloVersion is the fingerprint exchange version spoken by this package.
	HelloVersion = 1
	// MaxHelloSize limits the plaintext hello message.
	MaxHelloSize = 4096

	// CapCompression advertises LZ4 payload compression.
	CapCompression = "compression"
)

var (
	ErrMalformedHello     = errors.New("protocol: malformed hello")
	ErrUnsupportedVersion = errors.New("protocol: unsupported hello version")
)

// Hello is exchanged in plaintext right after the transport connects.
// It carries only the key fingerprint, which reveals nothing that decrypts traffic.
type Hello struct {
	Version      int               `json:"version"`
	Fingerprint  string            `json:"fingerprint"`
	Capabilities map[string]string `json:"capabilities,omitempty"`
}

// NewHello builds the current-version hello for fp.
func NewHello(fp key.Fingerprint, capabilities map[string]string) Hello {
	capsCopy := map[string]string{}
	for k, v := range capabilities {
		capsCopy[k] = v
	}
	return Hello{
		Version:      HelloVersion,
		Fingerprint:  fp.String(),
		Capabilities: capsCopy,
	}
}

// ParsedFingerprint decodes the hex fingerprint.
func (h Hello) ParsedFingerprint() (key.Fingerprint, error) {
	fp, err := key.ParseFingerprintHex(h.Fingerprint)
	if err != nil {
		return key.Fingerprint{}, fmt.Errorf("%w: %v", ErrMalformedHello, err)
	}
	return fp, nil
}

// Supports reports whether the hello advertises capability name with value "1".
func (h Hello) Supports(name string) bool {
	return h.Capabilities[name] == "1"
}

// WriteHello writes h as a 4-byte big-endian length followed by JSON.
func WriteHello(w io.Writer, h Hello) error {
	payload, err := json.Marshal(h)
	if err != nil {
		return err
	}
	if len(payload) > MaxHelloSize {
		return fmt.Errorf("%w: %d bytes", ErrMalformedHello, len(payload))
	}
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	_, err = w.Write(buf)
	return err
}

// ReadHello reads one hello and checks its version and fingerprint.
func ReadHello(r io.Reader) (Hello, error) {
	var lenBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Hello{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > MaxHelloSize {
		return Hello{}, fmt.Errorf("%w: length %d", ErrMalformedHello, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Hello{}, err
	}

	var h Hello
	if err := json.Unmarshal(payload, &h); err != nil {
		return Hello{}, fmt.Errorf("%w: %v", ErrMalformedHello, err)
	}
	if h.Version != HelloVersion {
		return Hello{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.Fingerprint == "" {
		return Hello{}, fmt.Errorf("%w: missing fingerprint", ErrMalformedHello)
	}
	return h, nil
}
