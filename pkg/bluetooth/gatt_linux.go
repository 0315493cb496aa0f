//go:build linux

package bluetooth

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/paypal/gatt"
	"github.com/paypal/gatt/linux/cmd"
	log "github.com/sirupsen/logrus"
)

const powerOnTimeout = 10 * time.Second

// GattTransport drives a local HCI controller through paypal/gatt
type GattTransport struct {
	device gatt.Device
	events dispatcher

	poweredOn     chan struct{}
	poweredOnOnce sync.Once

	mtx        sync.RWMutex
	registered bool
	handles    HandleSet
	values     map[Handle][]byte
	centrals   map[ConnHandle]gatt.Central
	notifiers  map[ConnHandle]map[Handle]gatt.Notifier
}

// serverOptions returns the gatt options for a peripheral with the given limits
func serverOptions(opts TransportOptions) []gatt.Option {
	maxConns := opts.MaxConnections
	if maxConns <= 0 {
		maxConns = 1
	}
	interval := AdvertisingIntervalUnits(DefaultAdvertisingInterval)
	return []gatt.Option{
		gatt.LnxMaxConnections(maxConns),
		gatt.LnxDeviceID(opts.DeviceID, true),
		gatt.LnxSetAdvertisingParameters(&cmd.LESetAdvertisingParameters{
			AdvertisingIntervalMin: interval,
			AdvertisingIntervalMax: interval,
			AdvertisingChannelMap:  0x7,
		}),
	}
}

// NewGattTransport opens the HCI device. The radio is activated by Open.
func NewGattTransport(opts TransportOptions) (*GattTransport, error) {
	d, err := gatt.NewDevice(serverOptions(opts)...)
	if err != nil {
		return nil, fmt.Errorf("failed to open hci device: %w", err)
	}

	t := &GattTransport{
		device:    d,
		poweredOn: make(chan struct{}),
		values:    make(map[Handle][]byte),
		centrals:  make(map[ConnHandle]gatt.Central),
		notifiers: make(map[ConnHandle]map[Handle]gatt.Notifier),
	}

	d.Handle(
		gatt.CentralConnected(func(c gatt.Central) {
			conn := ConnHandle(c.ID())
			log.Infof("pkg bluetooth; ** new connection from: %s", conn)
			t.mtx.Lock()
			t.centrals[conn] = c
			t.mtx.Unlock()
			t.events.emit(ConnectEvent{Conn: conn})
		}),
		gatt.CentralDisconnected(func(c gatt.Central) {
			conn := ConnHandle(c.ID())
			log.Infof("pkg bluetooth; ** disconnect: %s", conn)
			t.mtx.Lock()
			delete(t.centrals, conn)
			delete(t.notifiers, conn)
			t.mtx.Unlock()
			t.events.emit(DisconnectEvent{Conn: conn})
		}),
	)

	return t, nil
}

// Open initializes the device and waits for it to power on
func (t *GattTransport) Open() error {
	onStateChanged := func(d gatt.Device, s gatt.State) {
		log.Infof("pkg bluetooth; state: %s", s)
		if s == gatt.StatePoweredOn {
			t.poweredOnOnce.Do(func() { close(t.poweredOn) })
		}
	}

	if err := t.device.Init(onStateChanged); err != nil {
		return fmt.Errorf("could not init bluetooth: %w", err)
	}

	select {
	case <-t.poweredOn:
		return nil
	case <-time.After(powerOnTimeout):
		return fmt.Errorf("bluetooth device did not power on within %s", powerOnTimeout)
	}
}

// SetEventHandler installs the event callback
func (t *GattTransport) SetEventHandler(handler EventHandler) {
	t.events.set(handler)
}

// Register adds the service to the local GATT database
func (t *GattTransport) Register(desc ServiceDescriptor) (HandleSet, error) {
	if err := desc.Validate(); err != nil {
		return HandleSet{}, err
	}

	s := gatt.NewService(gatt.MustParseUUID(desc.UUID))
	assigned := make(map[CharacteristicType]Handle, len(desc.Characteristics))

	// Handles follow the ATT layout: declaration, value, then a CCCD for
	// characteristics that notify or indicate.
	next := Handle(1)
	for _, c := range desc.Characteristics {
		value := next + 1
		next += 2
		if c.Flags.Has(FlagNotify) || c.Flags.Has(FlagIndicate) {
			next++
		}
		assigned[c.Type] = value

		char := s.AddCharacteristic(gatt.MustParseUUID(c.UUID))
		t.bindHandlers(char, c, value)
	}

	if err := t.device.AddService(s); err != nil {
		return HandleSet{}, fmt.Errorf("could not add service: %w", err)
	}

	handles := NewHandleSet(assigned)
	t.mtx.Lock()
	t.handles = handles
	t.registered = true
	t.mtx.Unlock()

	log.Infof("pkg bluetooth; registered service %s with %d characteristics", desc.UUID, handles.Len())
	return handles, nil
}

func (t *GattTransport) bindHandlers(char *gatt.Characteristic, c CharacteristicDescriptor, h Handle) {
	charType := c.Type

	if c.Flags.Has(FlagRead) {
		char.HandleReadFunc(func(rsp gatt.ResponseWriter, req *gatt.ReadRequest) {
			data := t.value(h)
			log.Tracef("pkg bluetooth; read request on %s, responding with: %s", charType, hex.EncodeToString(data))
			if _, err := rsp.Write(data); err != nil {
				log.Warnf("pkg bluetooth; failed to write read response: %v", err)
			}
		})
	}

	if c.Flags.Has(FlagWrite) {
		char.HandleWriteFunc(func(r gatt.Request, data []byte) (status byte) {
			log.Tracef("pkg bluetooth; received write on %s: %s", charType, hex.EncodeToString(data))

			dataCopy := make([]byte, len(data))
			copy(dataCopy, data)

			t.events.emit(WriteEvent{
				Conn:   ConnHandle(r.Central.ID()),
				Handle: h,
				Data:   dataCopy,
			})
			return gatt.StatusSuccess
		})
	}

	if c.Flags.Has(FlagNotify) || c.Flags.Has(FlagIndicate) {
		char.HandleNotifyFunc(func(r gatt.Request, n gatt.Notifier) {
			conn := ConnHandle(r.Central.ID())
			t.mtx.Lock()
			if t.notifiers[conn] == nil {
				t.notifiers[conn] = make(map[Handle]gatt.Notifier)
			}
			t.notifiers[conn][h] = n
			t.mtx.Unlock()
			log.Infof("pkg bluetooth; notifications enabled for %s from %s", charType, conn)
		})
	}
}

// Write stores the value served to reads and sent by Notify/Indicate
func (t *GattTransport) Write(h Handle, data []byte) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if !t.registered {
		return ErrNotRegistered
	}
	if _, ok := t.handles.Lookup(h); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	t.values[h] = dataCopy
	return nil
}

// Notify sends the current value of h to conn
func (t *GattTransport) Notify(conn ConnHandle, h Handle) error {
	n, data, err := t.notifier(conn, h)
	if err != nil {
		return err
	}

	log.Tracef("pkg bluetooth; sending notification to %s on handle %d: %s", conn, h, hex.EncodeToString(data))
	_, err = n.Write(data)
	return err
}

// Indicate sends the current value of h to conn. paypal/gatt has no
// confirmed indication path, so the value goes through the notifier and
// completion is reported once the write returns.
func (t *GattTransport) Indicate(conn ConnHandle, h Handle) error {
	n, data, err := t.notifier(conn, h)
	if err != nil {
		return err
	}

	log.Tracef("pkg bluetooth; sending indication to %s on handle %d: %s", conn, h, hex.EncodeToString(data))
	if _, err := n.Write(data); err != nil {
		return err
	}

	// emitted asynchronously: Indicate is usually called from inside the event handler
	go t.events.emit(IndicateDoneEvent{Conn: conn, Handle: h, Status: 0})
	return nil
}

func (t *GattTransport) notifier(conn ConnHandle, h Handle) (gatt.Notifier, []byte, error) {
	t.mtx.RLock()
	defer t.mtx.RUnlock()

	if !t.registered {
		return nil, nil, ErrNotRegistered
	}
	if _, ok := t.handles.Lookup(h); !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	if _, ok := t.centrals[conn]; !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownConnection, conn)
	}

	n, ok := t.notifiers[conn][h]
	if !ok || n == nil {
		return nil, nil, fmt.Errorf("%w: %s handle %d", ErrNotSubscribed, conn, h)
	}
	if n.Done() {
		return nil, nil, fmt.Errorf("%w: %s handle %d closed", ErrNotSubscribed, conn, h)
	}

	data := t.values[h]
	if c := n.Cap(); c > 0 && len(data) > c {
		return nil, nil, fmt.Errorf("value of %d bytes exceeds notification capacity %d", len(data), c)
	}
	return n, data, nil
}

// Advertise disables advertising, updates the payload and re-enables it
func (t *GattTransport) Advertise(opts AdvertiseOptions) error {
	advData, err := AdvertisingPayload(opts.Name, opts.ServiceUUIDs)
	if err != nil {
		return err
	}
	scanData := ScanResponsePayload(opts.Name)
	interval := AdvertisingIntervalUnits(opts.Interval)

	if err := t.device.Option(gatt.LnxSetAdvertisingEnable(false)); err != nil {
		log.Debugf("pkg bluetooth; disabling advertising before update: %v", err)
	}

	if err := t.device.Option(
		gatt.LnxSetAdvertisingParameters(&cmd.LESetAdvertisingParameters{
			AdvertisingIntervalMin: interval,
			AdvertisingIntervalMax: interval,
			AdvertisingChannelMap:  0x7,
		}),
		gatt.LnxSetAdvertisingData(&cmd.LESetAdvertisingData{
			AdvertisingDataLength: uint8(len(advData)),
			AdvertisingData:       toAdvArray(advData),
		}),
		gatt.LnxSetScanResponseData(&cmd.LESetScanResponseData{
			ScanResponseDataLength: uint8(len(scanData)),
			ScanResponseData:       toAdvArray(scanData),
		}),
	); err != nil {
		return fmt.Errorf("failed to set advertising data: %w", err)
	}

	if err := t.device.Option(gatt.LnxSetAdvertisingEnable(true)); err != nil {
		return fmt.Errorf("failed to enable advertising: %w", err)
	}

	log.Debugf("pkg bluetooth; advertising %q every %s", opts.Name, time.Duration(interval)*advIntervalUnit)
	return nil
}

// Close stops advertising and drops every connection
func (t *GattTransport) Close() error {
	t.mtx.Lock()
	centrals := make([]gatt.Central, 0, len(t.centrals))
	for _, c := range t.centrals {
		centrals = append(centrals, c)
	}
	t.mtx.Unlock()

	for _, c := range centrals {
		if err := c.Close(); err != nil {
			log.Debugf("pkg bluetooth; error closing central connection: %v", err)
		}
	}
	return t.device.StopAdvertising()
}

func (t *GattTransport) value(h Handle) []byte {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	data := t.values[h]
	if data == nil {
		return []byte{}
	}
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	return dataCopy
}

func toAdvArray(b []byte) [31]byte {
	var a [31]byte
	copy(a[:], b)
	return a
}
