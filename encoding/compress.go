package encoding

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// CompressThreshold is the value size above which cell payloads are compressed.
const CompressThreshold = 1024

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func getEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		// NewWriter with a nil writer only fails on invalid options.
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return encoder
}

func getDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return decoder
}

// Compress compresses src with zstd. EncodeAll is safe for concurrent use.
func Compress(src []byte) []byte {
	return getEncoder().EncodeAll(src, make([]byte, 0, len(src)/2))
}

// Decompress reverses Compress.
func Decompress(src []byte) ([]byte, error) {
	out, err := getDecoder().DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress value: %w", err)
	}
	return out, nil
}
