package bluetooth

import "fmt"

// EventKind identifies the type of a transport event
type EventKind int

const (
	EventConnect EventKind = iota
	EventDisconnect
	EventWrite
	EventIndicateDone
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "Connect"
	case EventDisconnect:
		return "Disconnect"
	case EventWrite:
		return "Write"
	case EventIndicateDone:
		return "IndicateDone"
	default:
		return "Unknown"
	}
}

// Event is delivered by a transport to the registered EventHandler.
// The concrete type is one of ConnectEvent, DisconnectEvent, WriteEvent
// or IndicateDoneEvent.
type Event interface {
	Kind() EventKind
}

// ConnectEvent is sent when a central connects
type ConnectEvent struct {
	Conn ConnHandle
}

// DisconnectEvent is sent when a central disconnects
type DisconnectEvent struct {
	Conn ConnHandle
}

// WriteEvent is sent when a central writes a characteristic value
type WriteEvent struct {
	Conn   ConnHandle
	Handle Handle
	Data   []byte
}

// IndicateDoneEvent is sent when an indication has been confirmed
type IndicateDoneEvent struct {
	Conn   ConnHandle
	Handle Handle
	Status uint8
}

func (ConnectEvent) Kind() EventKind      { return EventConnect }
func (DisconnectEvent) Kind() EventKind   { return EventDisconnect }
func (WriteEvent) Kind() EventKind        { return EventWrite }
func (IndicateDoneEvent) Kind() EventKind { return EventIndicateDone }

func (e ConnectEvent) String() string    { return fmt.Sprintf("connect(%s)", e.Conn) }
func (e DisconnectEvent) String() string { return fmt.Sprintf("disconnect(%s)", e.Conn) }

// EventHandler receives transport events. Transports never invoke it
// concurrently with itself.
type EventHandler func(Event)
