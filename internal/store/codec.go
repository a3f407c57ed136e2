// Package store persists hot-strike volume samples so the history survives
// dashboard restarts
package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"chainwatch/internal/chain"

	"github.com/klauspost/compress/zstd"
)

// EncodeAll and DecodeAll are safe for concurrent use.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// encodeSample serializes a sample as zstd-compressed JSON. A full SPX chain
// sample is a few hundred strikes, which compresses well.
func encodeSample(s chain.VolumeSample) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sample: %w", err)
	}
	return encoder.EncodeAll(data, nil), nil
}

func decodeSample(blob []byte) (chain.VolumeSample, error) {
	var s chain.VolumeSample
	data, err := decoder.DecodeAll(blob, nil)
	if err != nil {
		return s, fmt.Errorf("failed to decompress sample: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to unmarshal sample: %w", err)
	}
	return s, nil
}

func checksum(blob []byte) []byte {
	sum := sha256.Sum256(blob)
	return sum[:]
}
