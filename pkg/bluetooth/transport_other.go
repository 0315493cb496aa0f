//go:build !linux

package bluetooth

import log "github.com/sirupsen/logrus"

// GattTransport is only available on Linux
type GattTransport struct{ unsupportedTransport }

// BluezTransport is only available on Linux
type BluezTransport struct{ unsupportedTransport }

// NewGattTransport returns ErrUnsupported on non-Linux platforms
func NewGattTransport(opts TransportOptions) (*GattTransport, error) {
	log.Warn("Bluetooth is only supported on Linux.")
	return nil, ErrUnsupported
}

// NewBluezTransport returns ErrUnsupported on non-Linux platforms
func NewBluezTransport(opts TransportOptions) (*BluezTransport, error) {
	log.Warn("Bluetooth is only supported on Linux.")
	return nil, ErrUnsupported
}

type unsupportedTransport struct{}

func (unsupportedTransport) Open() error                                   { return ErrUnsupported }
func (unsupportedTransport) SetEventHandler(handler EventHandler)          {}
func (unsupportedTransport) Register(ServiceDescriptor) (HandleSet, error) { return HandleSet{}, ErrUnsupported }
func (unsupportedTransport) Write(Handle, []byte) error                    { return ErrUnsupported }
func (unsupportedTransport) Notify(ConnHandle, Handle) error               { return ErrUnsupported }
func (unsupportedTransport) Indicate(ConnHandle, Handle) error             { return ErrUnsupported }
func (unsupportedTransport) Advertise(AdvertiseOptions) error              { return ErrUnsupported }
func (unsupportedTransport) Close() error                                  { return nil }
