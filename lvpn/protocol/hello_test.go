package protocol

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/key"
)

func TestHelloRoundTrip(t *testing.T) {
	k, err := key.Generate()
	require.NoError(t, err)

	in := NewHello(k.Fingerprint(), map[string]string{CapCompression: "1"})
	var buf bytes.Buffer
	require.NoError(t, WriteHello(&buf, in))

	out, err := ReadHello(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.True(t, out.Supports(CapCompression))

	fp, err := out.ParsedFingerprint()
	require.NoError(t, err)
	assert.True(t, fp.Equal(k.Fingerprint()))
}

func TestHelloDoesNotCarryKey(t *testing.T) {
	k, err := key.Generate()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WriteHello(&buf, NewHello(k.Fingerprint(), nil)))
	assert.NotContains(t, buf.String(), k.Hex())
}

func writeRawHello(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	var buf bytes.Buffer
	buf.Write(lengthOnly(uint32(len(payload))))
	buf.Write(payload)
	return &buf
}

func TestReadHelloRejectsVersion(t *testing.T) {
	buf := writeRawHello(t, Hello{Version: 99, Fingerprint: "0011223344556677"})
	_, err := ReadHello(buf)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestReadHelloRejectsGarbage(t *testing.T) {
	_, err := ReadHello(bytes.NewReader(lengthOnly(MaxHelloSize + 1)))
	assert.ErrorIs(t, err, ErrMalformedHello)

	buf := writeRawHello(t, Hello{Version: HelloVersion})
	_, err = ReadHello(buf)
	assert.ErrorIs(t, err, ErrMalformedHello)

	bad := Hello{Version: HelloVersion, Fingerprint: "not-hex"}
	_, err = bad.ParsedFingerprint()
	assert.ErrorIs(t, err, ErrMalformedHello)
}
