package db

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeFeatures packs values as little-endian float32.
func EncodeFeatures(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// DecodeFeatures unpacks a blob written by EncodeFeatures.
func DecodeFeatures(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("feature blob of %d bytes is not a float32 sequence", len(blob))
	}
	values := make([]float32, len(blob)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return values, nil
}
