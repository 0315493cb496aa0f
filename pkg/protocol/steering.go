package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

const angleLength = 4

// EncodeAngle serializes a steering angle in degrees as a little-endian float32
func EncodeAngle(angle float32) []byte {
	b := make([]byte, angleLength)
	binary.LittleEndian.PutUint32(b, math.Float32bits(angle))
	return b
}

// DecodeAngle parses a value produced by EncodeAngle
func DecodeAngle(data []byte) (float32, error) {
	if len(data) != angleLength {
		return 0, fmt.Errorf("steering value must be %d bytes, got %d", angleLength, len(data))
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(data)), nil
}
