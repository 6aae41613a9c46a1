// Package compress implements the optional LZ4 payload encoding negotiated
// during the hello exchange.
package compress

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
)

var (
	ErrCompressionFailed   = errors.New("compress: compression failed")
	ErrDecompressionFailed = errors.New("compress: decompression failed")
	ErrUnknownEncoding     = errors.New("compress: unknown payload encoding")
)

// Level controls the speed/ratio tradeoff.
type Level int

const (
	LevelFast Level = iota
	LevelDefault
	LevelBest
)

// Encoding flags prefixed to a packed payload.
const (
	flagRaw byte = 0
	flagLZ4 byte = 1
)

// Overhead is the number of bytes Pack adds in the worst case.
const Overhead = 1

var writerPool = sync.Pool{
	New: func() interface{} {
		return lz4.NewWriter(nil)
	},
}

var readerPool = sync.Pool{
	New: func() interface{} {
		return lz4.NewReader(nil)
	},
}

func Compress(data []byte, level Level) ([]byte, error) {
	var buf bytes.Buffer
	w := writerPool.Get().(*lz4.Writer)
	defer writerPool.Put(w)

	w.Reset(&buf)

	switch level {
	case LevelFast:
		_ = w.Apply(lz4.CompressionLevelOption(lz4.Fast))
	case LevelBest:
		_ = w.Apply(lz4.CompressionLevelOption(lz4.Level9))
	default:
		_ = w.Apply(lz4.CompressionLevelOption(lz4.Level4))
	}

	if _, err := w.Write(data); err != nil {
		return nil, ErrCompressionFailed
	}
	if err := w.Close(); err != nil {
		return nil, ErrCompressionFailed
	}
	return buf.Bytes(), nil
}

// Decompress inflates data, refusing output larger than limit bytes.
func Decompress(data []byte, limit int) ([]byte, error) {
	r := readerPool.Get().(*lz4.Reader)
	defer readerPool.Put(r)

	r.Reset(bytes.NewReader(data))

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, int64(limit)+1))
	if err != nil || n > int64(limit) {
		return nil, ErrDecompressionFailed
	}
	return buf.Bytes(), nil
}

// Pack prefixes payload with an encoding flag, compressing only when it helps.
func Pack(payload []byte, level Level) []byte {
	compressed, err := Compress(payload, level)
	if err == nil && len(compressed) < len(payload) {
		return append([]byte{flagLZ4}, compressed...)
	}
	return append([]byte{flagRaw}, payload...)
}

// Unpack reverses Pack.
func Unpack(packed []byte, limit int) ([]byte, error) {
	if len(packed) == 0 {
		return nil, ErrUnknownEncoding
	}
	switch packed[0] {
	case flagRaw:
		return packed[1:], nil
	case flagLZ4:
		return Decompress(packed[1:], limit)
	default:
		return nil, ErrUnknownEncoding
	}
}
