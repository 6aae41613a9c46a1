package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func newTestCBC(t testing.TB) *CBC {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := NewCBC(key)
	if err != nil {
		t.Fatalf("NewCBC: %v", err)
	}
	return c
}

func TestCBCRoundTrip(t *testing.T) {
	c := newTestCBC(t)
	for _, n := range []int{0, 1, 15, 16, 17, 31, 32, 1000, 4096} {
		plaintext := make([]byte, n)
		_, _ = rand.Read(plaintext)

		sealed, err := c.Seal(plaintext)
		if err != nil {
			t.Fatalf("Seal(%d): %v", n, err)
		}
		if len(sealed) != SealedSize(n) {
			t.Fatalf("Seal(%d): length %d, want %d", n, len(sealed), SealedSize(n))
		}
		if (len(sealed)-IVSize-TagSize)%BlockSize != 0 {
			t.Fatalf("Seal(%d): ciphertext not block aligned", n)
		}

		opened, err := c.Open(sealed)
		if err != nil {
			t.Fatalf("Open(%d): %v", n, err)
		}
		if !bytes.Equal(opened, plaintext) {
			t.Fatalf("Open(%d): plaintext mismatch", n)
		}
	}
}

func TestCBCTamper(t *testing.T) {
	c := newTestCBC(t)
	sealed, _ := c.Seal([]byte("hello tunnel"))

	for _, idx := range []int{0, IVSize, len(sealed) - TagSize - 1, len(sealed) - 1} {
		tampered := append([]byte(nil), sealed...)
		tampered[idx] ^= 0x01
		if _, err := c.Open(tampered); err != ErrDecryptionFailed {
			t.Fatalf("byte %d: expected ErrDecryptionFailed, got %v", idx, err)
		}
	}

	if _, err := c.Open(sealed[:IVSize+TagSize]); err != ErrCiphertextTooShort {
		t.Fatalf("expected ErrCiphertextTooShort, got %v", err)
	}
	if _, err := c.Open(sealed[:len(sealed)-1]); err != ErrCiphertextTooShort {
		t.Fatalf("expected ErrCiphertextTooShort for misaligned input, got %v", err)
	}
}

func TestCBCWrongKey(t *testing.T) {
	for i := 0; i < 500; i++ {
		k1 := make([]byte, KeySize)
		k2 := make([]byte, KeySize)
		_, _ = rand.Read(k1)
		_, _ = rand.Read(k2)
		c1, _ := NewCBC(k1)
		c2, _ := NewCBC(k2)

		sealed, err := c1.Seal([]byte("ping"))
		if err != nil {
			t.Fatalf("Seal: %v", err)
		}
		if _, err := c2.Open(sealed); err != ErrDecryptionFailed {
			t.Fatalf("pair %d: expected ErrDecryptionFailed, got %v", i, err)
		}
	}
}

func TestNewCBCKeySize(t *testing.T) {
	if _, err := NewCBC(make([]byte, 16)); err != ErrInvalidKeySize {
		t.Fatalf("expected ErrInvalidKeySize, got %v", err)
	}
}

func TestPKCS7(t *testing.T) {
	for n := 0; n <= 2*BlockSize; n++ {
		data := bytes.Repeat([]byte{0xab}, n)
		padded := pkcs7Pad(data, BlockSize)
		if len(padded)%BlockSize != 0 || len(padded) <= n {
			t.Fatalf("pad(%d): bad length %d", n, len(padded))
		}
		out, err := pkcs7Unpad(padded, BlockSize)
		if err != nil {
			t.Fatalf("unpad(%d): %v", n, err)
		}
		if !bytes.Equal(out, data) {
			t.Fatalf("unpad(%d): mismatch", n)
		}
	}

	bad := bytes.Repeat([]byte{0x03}, BlockSize)
	bad[BlockSize-2] = 0x02
	if _, err := pkcs7Unpad(bad, BlockSize); err == nil {
		t.Fatalf("expected invalid padding error")
	}
	zero := make([]byte, BlockSize)
	if _, err := pkcs7Unpad(zero, BlockSize); err == nil {
		t.Fatalf("expected error for zero padding byte")
	}
}

func TestDeriveKey(t *testing.T) {
	secret := []byte("shared secret")
	k1, err := DeriveKey(secret, nil, []byte("a"), 32)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	k2, _ := DeriveKey(secret, nil, []byte("b"), 32)
	if len(k1) != 32 {
		t.Fatalf("unexpected key length")
	}
	if bytes.Equal(k1, k2) {
		t.Fatalf("different info should derive different keys")
	}
	again, _ := DeriveKey(secret, nil, []byte("a"), 32)
	if !bytes.Equal(k1, again) {
		t.Fatalf("DeriveKey not deterministic")
	}
}

func BenchmarkCBCSeal(b *testing.B) {
	c := newTestCBC(b)
	plaintext := make([]byte, 64*1024-64)
	b.SetBytes(int64(len(plaintext)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Seal(plaintext)
	}
}

func BenchmarkCBCOpen(b *testing.B) {
	c := newTestCBC(b)
	plaintext := make([]byte, 64*1024-64)
	sealed, _ := c.Seal(plaintext)
	b.SetBytes(int64(len(plaintext)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Open(sealed)
	}
}
