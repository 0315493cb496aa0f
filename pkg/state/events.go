package state

import (
	"github.com/jwoglom/fakesterzo/pkg/bluetooth"
)

// Observer receives peripheral activity.
// This lets the monitoring API follow the peripheral without the steerer depending on it.
type Observer interface {
	// OnConnect is called after a central is registered
	OnConnect(conn bluetooth.ConnHandle)

	// OnDisconnect is called after a central is removed
	OnDisconnect(conn bluetooth.ConnHandle)

	// OnHandshake is called for every well-formed request on the control characteristic
	OnHandshake(conn bluetooth.ConnHandle, opcode int16, enabled bool)

	// OnSteering is called after each published angle with the number of notified centrals
	OnSteering(angle float32, notified int)
}

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (n *NoOpObserver) OnConnect(conn bluetooth.ConnHandle) {}

func (n *NoOpObserver) OnDisconnect(conn bluetooth.ConnHandle) {}

func (n *NoOpObserver) OnHandshake(conn bluetooth.ConnHandle, opcode int16, enabled bool) {}

func (n *NoOpObserver) OnSteering(angle float32, notified int) {}
