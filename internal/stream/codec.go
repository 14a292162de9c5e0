package stream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	lzf "github.com/zhuyie/golzf"
)

// Codec names the compression applied to message payloads.
type Codec string

const (
	CodecNone Codec = "none"
	CodecGzip Codec = "gzip"
	CodecZstd Codec = "zstd"
	CodecLZ4  Codec = "lz4"
	// CodecLZF frames are a 4-byte big-endian uncompressed length followed by
	// raw LZF data.
	CodecLZF Codec = "lzf"
)

// maxLZFFrame bounds the declared size of an LZF frame.
const maxLZFFrame = 64 << 20

// ParseCodec validates a codec name. The empty string means CodecNone.
func ParseCodec(s string) (Codec, error) {
	switch c := Codec(strings.ToLower(strings.TrimSpace(s))); c {
	case "", CodecNone:
		return CodecNone, nil
	case CodecGzip, CodecZstd, CodecLZ4, CodecLZF:
		return c, nil
	}
	return "", fmt.Errorf("unknown codec %q", s)
}

// CodecForPath picks a codec from a file extension.
func CodecForPath(path string) Codec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		return CodecGzip
	case ".zst":
		return CodecZstd
	case ".lz4":
		return CodecLZ4
	}
	return CodecNone
}

var (
	zstdOnce    sync.Once
	zstdDecoder *zstd.Decoder
	zstdEncoder *zstd.Encoder
	zstdErr     error
)

func zstdCodecs() (*zstd.Decoder, *zstd.Encoder, error) {
	zstdOnce.Do(func() {
		zstdDecoder, zstdErr = zstd.NewReader(nil)
		if zstdErr != nil {
			return
		}
		zstdEncoder, zstdErr = zstd.NewWriter(nil)
	})
	return zstdDecoder, zstdEncoder, zstdErr
}

// Decode decompresses one payload.
func (c Codec) Decode(payload []byte) ([]byte, error) {
	switch c {
	case "", CodecNone:
		return payload, nil
	case CodecZstd:
		dec, _, err := zstdCodecs()
		if err != nil {
			return nil, err
		}
		return dec.DecodeAll(payload, nil)
	case CodecLZF:
		if len(payload) < 4 {
			return nil, fmt.Errorf("lzf frame too short (%d bytes)", len(payload))
		}
		size := binary.BigEndian.Uint32(payload[:4])
		if size == 0 {
			return []byte{}, nil
		}
		if size > maxLZFFrame {
			return nil, fmt.Errorf("lzf frame declares %d bytes", size)
		}
		out := make([]byte, size)
		n, err := lzf.Decompress(payload[4:], out)
		if err != nil {
			return nil, fmt.Errorf("lzf decompression failed: %w", err)
		}
		return out[:n], nil
	default:
		r, err := c.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	}
}

// Encode compresses one payload.
func (c Codec) Encode(payload []byte) ([]byte, error) {
	switch c {
	case "", CodecNone:
		return payload, nil
	case CodecZstd:
		_, enc, err := zstdCodecs()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(payload, nil), nil
	case CodecLZF:
		frame := make([]byte, 4+len(payload)+len(payload)/16+64)
		binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
		if len(payload) == 0 {
			return frame[:4], nil
		}
		n, err := lzf.Compress(payload, frame[4:])
		if err != nil {
			return nil, fmt.Errorf("lzf compression failed: %w", err)
		}
		return frame[:4+n], nil
	case CodecGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CodecLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown codec %q", string(c))
}

// NewReader wraps r with a streaming decompressor. LZF has no streaming form.
func (c Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case "", CodecNone:
		return io.NopCloser(r), nil
	case CodecGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr, nil
	case CodecZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	}
	return nil, fmt.Errorf("codec %q does not support streaming", string(c))
}
