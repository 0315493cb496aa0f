package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jwoglom/fakesterzo/pkg/bluetooth"
	log "github.com/sirupsen/logrus"
)

// Opcode is the big-endian signed 16-bit request code written to rxChar
type Opcode int16

const (
	OpcodeHeartbeat Opcode = 0x0202
	OpcodeStep1     Opcode = 0x0310
	OpcodeStep2     Opcode = 0x0311
)

// Status words returned in the second half of a handshake response
const (
	StatusStep1 uint16 = 0x4a89
	StatusStep2 uint16 = 0xffff
)

const (
	requestLength  = 2
	responseLength = 4
)

// ErrMalformedRequest is returned for rxChar writes that are not exactly two bytes
var ErrMalformedRequest = errors.New("malformed handshake request")

func (o Opcode) String() string {
	switch o {
	case OpcodeHeartbeat:
		return "Heartbeat"
	case OpcodeStep1:
		return "HandshakeStep1"
	case OpcodeStep2:
		return "HandshakeStep2"
	default:
		return fmt.Sprintf("Opcode(0x%04x)", uint16(o))
	}
}

// ParseRequest decodes a handshake request
func ParseRequest(data []byte) (Opcode, error) {
	if len(data) != requestLength {
		return 0, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedRequest, requestLength, len(data))
	}
	return Opcode(int16(binary.BigEndian.Uint16(data))), nil
}

// EncodeRequest builds the request a central writes for op
func EncodeRequest(op Opcode) []byte {
	b := make([]byte, requestLength)
	binary.BigEndian.PutUint16(b, uint16(op))
	return b
}

// EncodeResponse builds the 4-byte response (echoed opcode, status word)
func EncodeResponse(op Opcode, status uint16) []byte {
	b := make([]byte, responseLength)
	binary.BigEndian.PutUint16(b[0:2], uint16(op))
	binary.BigEndian.PutUint16(b[2:4], status)
	return b
}

// LogPacket logs raw bytes exchanged on a characteristic
func LogPacket(direction string, charType bluetooth.CharacteristicType, data []byte) {
	log.Debugf("%s on %s: %s (%d bytes)", direction, charType, hex.EncodeToString(data), len(data))
}
