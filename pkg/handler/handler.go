package handler

import (
	"github.com/jwoglom/fakesterzo/pkg/bluetooth"
	"github.com/jwoglom/fakesterzo/pkg/protocol"
	"github.com/jwoglom/fakesterzo/pkg/state"
)

// OpcodeHandler handles one handshake opcode
type OpcodeHandler interface {
	// Opcode returns the opcode this handler processes
	Opcode() protocol.Opcode

	// HandleRequest processes a request from conn and returns the response, if any
	HandleRequest(op protocol.Opcode, conn bluetooth.ConnHandle, registry state.ConnectionRegistry) (*Response, error)
}

// Response represents the response from an opcode handler
type Response struct {
	// Indicate is written to txChar and indicated to the requesting central
	Indicate []byte

	// State changes to apply once the response was sent
	StateChanges []StateChange
}

// StateChange represents a change to the requesting connection's state
type StateChange struct {
	Type StateChangeType
}

// StateChangeType identifies the type of state change
type StateChangeType int

const (
	// StateChangeEnable arms steering notifications
	StateChangeEnable StateChangeType = iota
	// StateChangeHeartbeat counts a keep-alive
	StateChangeHeartbeat
)

func (t StateChangeType) String() string {
	switch t {
	case StateChangeEnable:
		return "Enable"
	case StateChangeHeartbeat:
		return "Heartbeat"
	default:
		return "Unknown"
	}
}
