package core

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// ErrCorruptBlob is returned when stored bytes are not a valid LZ4 frame.
var ErrCorruptBlob = errors.New("corrupt blob")

// Compress encodes data as a single LZ4 frame using the highest
// compression level. Output is deterministic for a given input.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)

	if err := zw.Apply(
		lz4.CompressionLevelOption(lz4.Level9),
		lz4.ChecksumOption(true),
	); err != nil {
		return nil, fmt.Errorf("failed to configure lz4 writer: %w", err)
	}

	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, fmt.Errorf("failed to compress: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close lz4 writer: %w", err)
	}

	return buf.Bytes(), nil
}

// Decompress is the inverse of Compress.
func Decompress(blob []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(blob))

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBlob, err)
	}

	return data, nil
}
