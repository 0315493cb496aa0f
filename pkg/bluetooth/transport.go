package bluetooth

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNotRegistered is returned when the service has not been registered yet
	ErrNotRegistered = errors.New("service not registered")
	// ErrUnknownHandle is returned for a handle the transport did not assign
	ErrUnknownHandle = errors.New("unknown characteristic handle")
	// ErrUnknownConnection is returned for a connection the transport does not know
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrNotSubscribed is returned when the central has not enabled notifications
	ErrNotSubscribed = errors.New("central not subscribed")
	// ErrUnsupported is returned when a transport is not available on this platform
	ErrUnsupported = errors.New("bluetooth transport not supported on this platform")
)

// DefaultAdvertisingInterval is the advertising interval used after startup and every disconnect
const DefaultAdvertisingInterval = 500 * time.Millisecond

// Transport kinds accepted by NewTransport
const (
	TransportHCI   = "hci"
	TransportBluez = "bluez"
)

// Transport is the BLE peripheral capability consumed by the steerer.
type Transport interface {
	// Open activates the radio and blocks until it is powered on.
	Open() error

	// SetEventHandler installs the callback for connection and GATT events.
	SetEventHandler(handler EventHandler)

	// Register publishes the service and returns the handles assigned to it.
	Register(desc ServiceDescriptor) (HandleSet, error)

	// Write sets the value returned to subsequent reads of a characteristic.
	Write(h Handle, data []byte) error

	// Notify sends the current value of h to one connection.
	Notify(conn ConnHandle, h Handle) error

	// Indicate sends the current value of h to one connection as an indication.
	Indicate(conn ConnHandle, h Handle) error

	// Advertise (re)starts advertising.
	Advertise(opts AdvertiseOptions) error

	// Close stops advertising and releases the radio.
	Close() error
}

// AdvertiseOptions configures the advertising payload and interval
type AdvertiseOptions struct {
	Name         string
	ServiceUUIDs []string
	Interval     time.Duration
}

// TransportOptions configures transport construction
type TransportOptions struct {
	// DeviceID is the HCI device index, -1 picks the first usable one
	DeviceID int
	// MaxConnections bounds simultaneous centrals on the hci transport
	MaxConnections int
}

// NewTransport builds the transport named by kind
func NewTransport(kind string, opts TransportOptions) (Transport, error) {
	switch kind {
	case TransportHCI, "":
		t, err := NewGattTransport(opts)
		if err != nil {
			return nil, err
		}
		return t, nil
	case TransportBluez:
		t, err := NewBluezTransport(opts)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown transport %q (must be %q or %q)", kind, TransportHCI, TransportBluez)
	}
}

// dispatcher serializes event delivery so handlers never run concurrently
type dispatcher struct {
	mtx     sync.Mutex
	handler EventHandler
}

func (d *dispatcher) set(handler EventHandler) {
	d.mtx.Lock()
	d.handler = handler
	d.mtx.Unlock()
}

func (d *dispatcher) emit(ev Event) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.handler != nil {
		d.handler(ev)
	}
}
