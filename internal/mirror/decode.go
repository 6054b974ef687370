package mirror

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/BadgerOps/reflector/internal/safety"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// MaxStatusBytes bounds both the raw and the decompressed status document.
const MaxStatusBytes int64 = 64 * 1024 * 1024

// Decode parses a status document. Bodies compressed with zstd, xz or gzip are
// recognised by their magic number and decompressed first; anything else is
// treated as plain JSON.
func Decode(data []byte) (*Status, error) {
	plain, err := decompress(data)
	if err != nil {
		return nil, err
	}

	var status Status
	if err := json.Unmarshal(plain, &status); err != nil {
		return nil, fmt.Errorf("decoding status JSON: %w", err)
	}
	return &status, nil
}

// Encode renders a status document as indented JSON, the format used for the
// on-disk cache.
func Encode(status *Status) ([]byte, error) {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding status JSON: %w", err)
	}
	return append(data, '\n'), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) < 6 {
		return data, nil
	}

	switch {
	// zstd: 28 b5 2f fd
	case data[0] == 0x28 && data[1] == 0xb5 && data[2] == 0x2f && data[3] == 0xfd:
		decoder, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		defer decoder.Close()
		return readDecompressed("zstd", decoder)

	// xz: fd 37 7a 58 5a 00
	case data[0] == 0xfd && data[1] == 0x37 && data[2] == 0x7a &&
		data[3] == 0x58 && data[4] == 0x5a && data[5] == 0x00:
		reader, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		return readDecompressed("xz", reader)

	// gzip: 1f 8b
	case data[0] == 0x1f && data[1] == 0x8b:
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		defer func() {
			_ = reader.Close()
		}()
		return readDecompressed("gzip", reader)
	}

	return data, nil
}

func readDecompressed(format string, r io.Reader) ([]byte, error) {
	out, err := safety.ReadAllWithLimit(r, MaxStatusBytes)
	if err != nil {
		if errors.Is(err, safety.ErrBodyTooLarge) {
			return nil, fmt.Errorf("%s payload exceeded %d bytes after decompression: %w", format, MaxStatusBytes, err)
		}
		return nil, fmt.Errorf("decompressing %s: %w", format, err)
	}
	return out, nil
}
