package handler

import (
	"github.com/jwoglom/fakesterzo/pkg/bluetooth"
	"github.com/jwoglom/fakesterzo/pkg/protocol"
	"github.com/jwoglom/fakesterzo/pkg/state"

	log "github.com/sirupsen/logrus"
)

// Step1Handler answers the first handshake request
type Step1Handler struct{}

// NewStep1Handler creates a new step 1 handler
func NewStep1Handler() *Step1Handler {
	return &Step1Handler{}
}

func (h *Step1Handler) Opcode() protocol.Opcode {
	return protocol.OpcodeStep1
}

// HandleRequest responds with the step 1 status word. Notifications stay disarmed.
func (h *Step1Handler) HandleRequest(op protocol.Opcode, conn bluetooth.ConnHandle, registry state.ConnectionRegistry) (*Response, error) {
	log.Infof("Handshake step 1 from %s", conn)

	return &Response{
		Indicate: protocol.EncodeResponse(protocol.OpcodeStep1, protocol.StatusStep1),
	}, nil
}

// Step2Handler answers the second handshake request and arms notifications
type Step2Handler struct{}

// NewStep2Handler creates a new step 2 handler
func NewStep2Handler() *Step2Handler {
	return &Step2Handler{}
}

func (h *Step2Handler) Opcode() protocol.Opcode {
	return protocol.OpcodeStep2
}

// HandleRequest responds with the step 2 status word and enables steering
// notifications for conn. Step 1 is not required to have happened first.
func (h *Step2Handler) HandleRequest(op protocol.Opcode, conn bluetooth.ConnHandle, registry state.ConnectionRegistry) (*Response, error) {
	log.Infof("Handshake step 2 from %s", conn)

	return &Response{
		Indicate:     protocol.EncodeResponse(protocol.OpcodeStep2, protocol.StatusStep2),
		StateChanges: []StateChange{{Type: StateChangeEnable}},
	}, nil
}

// HeartbeatHandler accepts keep-alives. There is no response.
type HeartbeatHandler struct{}

// NewHeartbeatHandler creates a new heartbeat handler
func NewHeartbeatHandler() *HeartbeatHandler {
	return &HeartbeatHandler{}
}

func (h *HeartbeatHandler) Opcode() protocol.Opcode {
	return protocol.OpcodeHeartbeat
}

func (h *HeartbeatHandler) HandleRequest(op protocol.Opcode, conn bluetooth.ConnHandle, registry state.ConnectionRegistry) (*Response, error) {
	log.Debugf("Heartbeat from %s", conn)

	return &Response{
		StateChanges: []StateChange{{Type: StateChangeHeartbeat}},
	}, nil
}

// DefaultHandler handles unknown opcodes
type DefaultHandler struct{}

// NewDefaultHandler creates a new default handler
func NewDefaultHandler() *DefaultHandler {
	return &DefaultHandler{}
}

func (h *DefaultHandler) Opcode() protocol.Opcode {
	return 0
}

// HandleRequest logs the unmatched opcode and sends nothing
func (h *DefaultHandler) HandleRequest(op protocol.Opcode, conn bluetooth.ConnHandle, registry state.ConnectionRegistry) (*Response, error) {
	log.Warnf("Unmatched handshake opcode 0x%04x from %s", uint16(op), conn)
	return nil, nil
}
