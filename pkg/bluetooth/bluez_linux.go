//go:build linux

package bluetooth

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	tinygo "tinygo.org/x/bluetooth"
)

// BluezTransport runs the peripheral through BlueZ over D-Bus.
//
// BlueZ does not tell the application which central wrote a value, so
// writes are attributed to the connected device when exactly one is
// connected. Values are pushed to every subscriber at once; Notify and
// Indicate push each new value a single time however many connections
// ask for it.
//
// The readable value and the pushed value are the same D-Bus property.
// Write updates it immediately for characteristics without notify or
// indicate, and for all characteristics while no device is connected.
// Otherwise the readable value of a notify or indicate characteristic
// lags until the next Notify or Indicate, since writing it would push to
// every subscribed central whether or not it completed the handshake.
type BluezTransport struct {
	adapter *tinygo.Adapter
	adv     *tinygo.Advertisement
	events  dispatcher

	mtx        sync.Mutex
	registered bool
	chars      map[Handle]*tinygo.Characteristic
	flags      map[Handle]AccessFlags
	values     map[Handle][]byte
	generation map[Handle]uint64
	pushed     map[Handle]uint64
	conns      []ConnHandle
	advActive  bool
}

// NewBluezTransport binds the default BlueZ adapter
func NewBluezTransport(opts TransportOptions) (*BluezTransport, error) {
	if opts.DeviceID > 0 {
		log.Warnf("pkg bluetooth; bluez transport always uses the default adapter, ignoring device id %d", opts.DeviceID)
	}

	info, err := probeAdapter(opts.DeviceID)
	if err != nil {
		return nil, err
	}
	log.Infof("pkg bluetooth; bluez adapter %s (%s), powered: %v", info.Path, info.Address, info.Powered)

	return &BluezTransport{
		adapter:    tinygo.DefaultAdapter,
		chars:      make(map[Handle]*tinygo.Characteristic),
		flags:      make(map[Handle]AccessFlags),
		values:     make(map[Handle][]byte),
		generation: make(map[Handle]uint64),
		pushed:     make(map[Handle]uint64),
	}, nil
}

// Open enables the adapter
func (t *BluezTransport) Open() error {
	if err := t.adapter.Enable(); err != nil {
		return fmt.Errorf("could not enable bluez adapter: %w", err)
	}

	t.adapter.SetConnectHandler(func(device tinygo.Device, connected bool) {
		conn := ConnHandle(device.Address.String())
		t.mtx.Lock()
		if connected {
			t.conns = append(t.conns, conn)
		} else {
			t.conns = removeConn(t.conns, conn)
		}
		t.mtx.Unlock()

		if connected {
			log.Infof("pkg bluetooth; ** new connection from: %s", conn)
			t.events.emit(ConnectEvent{Conn: conn})
		} else {
			log.Infof("pkg bluetooth; ** disconnect: %s", conn)
			t.events.emit(DisconnectEvent{Conn: conn})
		}
	})

	t.adv = t.adapter.DefaultAdvertisement()
	return nil
}

// SetEventHandler installs the event callback
func (t *BluezTransport) SetEventHandler(handler EventHandler) {
	t.events.set(handler)
}

// Register exports the service through BlueZ
func (t *BluezTransport) Register(desc ServiceDescriptor) (HandleSet, error) {
	if err := desc.Validate(); err != nil {
		return HandleSet{}, err
	}

	serviceUUID, err := toTinygoUUID(desc.UUID)
	if err != nil {
		return HandleSet{}, err
	}

	assigned := make(map[CharacteristicType]Handle, len(desc.Characteristics))
	configs := make([]tinygo.CharacteristicConfig, 0, len(desc.Characteristics))
	chars := make(map[Handle]*tinygo.Characteristic, len(desc.Characteristics))
	flags := make(map[Handle]AccessFlags, len(desc.Characteristics))

	for i, c := range desc.Characteristics {
		charUUID, err := toTinygoUUID(c.UUID)
		if err != nil {
			return HandleSet{}, err
		}
		h := Handle(i + 1)
		assigned[c.Type] = h
		chars[h] = &tinygo.Characteristic{}
		flags[h] = c.Flags

		cfg := tinygo.CharacteristicConfig{
			Handle: chars[h],
			UUID:   charUUID,
			Value:  []byte{},
			Flags:  toTinygoPermissions(c.Flags),
		}
		if c.Flags.Has(FlagWrite) {
			cfg.WriteEvent = t.writeEvent(c.Type, h)
		}
		configs = append(configs, cfg)
	}

	if err := t.adapter.AddService(&tinygo.Service{
		UUID:            serviceUUID,
		Characteristics: configs,
	}); err != nil {
		return HandleSet{}, fmt.Errorf("could not add service: %w", err)
	}

	handles := NewHandleSet(assigned)
	t.mtx.Lock()
	t.chars = chars
	t.flags = flags
	t.registered = true
	t.mtx.Unlock()

	log.Infof("pkg bluetooth; registered service %s with %d characteristics", desc.UUID, handles.Len())
	return handles, nil
}

func (t *BluezTransport) writeEvent(charType CharacteristicType, h Handle) func(tinygo.Connection, int, []byte) {
	return func(_ tinygo.Connection, offset int, value []byte) {
		log.Tracef("pkg bluetooth; received write on %s at offset %d: %s", charType, offset, hex.EncodeToString(value))
		if offset != 0 {
			log.Warnf("pkg bluetooth; ignoring offset write on %s", charType)
			return
		}

		t.mtx.Lock()
		var conn ConnHandle
		connected := len(t.conns)
		if connected == 1 {
			conn = t.conns[0]
		}
		t.mtx.Unlock()

		if connected != 1 {
			log.Warnf("pkg bluetooth; cannot attribute write on %s, %d devices connected", charType, connected)
			return
		}

		dataCopy := make([]byte, len(value))
		copy(dataCopy, value)
		t.events.emit(WriteEvent{Conn: conn, Handle: h, Data: dataCopy})
	}
}

// Write stores the value. It is exported to BlueZ right away when
// writeThrough allows it, otherwise by the next Notify or Indicate.
func (t *BluezTransport) Write(h Handle, data []byte) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if !t.registered {
		return ErrNotRegistered
	}
	char, ok := t.chars[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	t.values[h] = dataCopy
	t.generation[h]++

	if !writeThrough(t.flags[h], len(t.conns)) {
		return nil
	}
	log.Tracef("pkg bluetooth; writing handle %d: %s", h, hex.EncodeToString(dataCopy))
	if _, err := char.Write(dataCopy); err != nil {
		return fmt.Errorf("failed to write value: %w", err)
	}
	t.pushed[h] = t.generation[h]
	return nil
}

// writeThrough reports whether a stored value can be exported to BlueZ
// without pushing it to a subscribed central
func writeThrough(flags AccessFlags, connected int) bool {
	if connected == 0 {
		return true
	}
	return !flags.Has(FlagNotify) && !flags.Has(FlagIndicate)
}

// Notify pushes the current value of h if it has not been pushed yet
func (t *BluezTransport) Notify(conn ConnHandle, h Handle) error {
	return t.push(conn, h)
}

// Indicate pushes the current value of h; BlueZ sends an indication when
// the central subscribed with the indicate bit.
func (t *BluezTransport) Indicate(conn ConnHandle, h Handle) error {
	if err := t.push(conn, h); err != nil {
		return err
	}
	go t.events.emit(IndicateDoneEvent{Conn: conn, Handle: h, Status: 0})
	return nil
}

func (t *BluezTransport) push(conn ConnHandle, h Handle) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if !t.registered {
		return ErrNotRegistered
	}
	char, ok := t.chars[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	if !containsConn(t.conns, conn) {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, conn)
	}
	if t.pushed[h] == t.generation[h] {
		return nil
	}

	data := t.values[h]
	log.Tracef("pkg bluetooth; pushing handle %d: %s", h, hex.EncodeToString(data))
	if _, err := char.Write(data); err != nil {
		return err
	}
	t.pushed[h] = t.generation[h]
	return nil
}

// Advertise (re)starts the BlueZ advertisement
func (t *BluezTransport) Advertise(opts AdvertiseOptions) error {
	if t.adv == nil {
		return ErrNotRegistered
	}

	uu := make([]tinygo.UUID, 0, len(opts.ServiceUUIDs))
	for _, s := range opts.ServiceUUIDs {
		u, err := toTinygoUUID(s)
		if err != nil {
			return err
		}
		uu = append(uu, u)
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultAdvertisingInterval
	}

	t.mtx.Lock()
	defer t.mtx.Unlock()

	if t.advActive {
		if err := t.adv.Stop(); err != nil {
			log.Debugf("pkg bluetooth; stopping advertisement before update: %v", err)
		}
		t.advActive = false
	}

	if err := t.adv.Configure(tinygo.AdvertisementOptions{
		LocalName:    opts.Name,
		ServiceUUIDs: uu,
		Interval:     tinygo.NewDuration(interval),
	}); err != nil {
		return fmt.Errorf("failed to configure advertisement: %w", err)
	}
	if err := t.adv.Start(); err != nil {
		return fmt.Errorf("failed to start advertisement: %w", err)
	}
	t.advActive = true

	log.Debugf("pkg bluetooth; advertising %q every %s", opts.Name, interval)
	return nil
}

// Close stops advertising
func (t *BluezTransport) Close() error {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if t.adv != nil && t.advActive {
		t.advActive = false
		return t.adv.Stop()
	}
	return nil
}

func toTinygoUUID(s string) (tinygo.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return tinygo.UUID{}, fmt.Errorf("invalid uuid %q: %w", s, err)
	}
	return tinygo.NewUUID(u), nil
}

func toTinygoPermissions(f AccessFlags) tinygo.CharacteristicPermissions {
	var p tinygo.CharacteristicPermissions
	if f.Has(FlagRead) {
		p |= tinygo.CharacteristicReadPermission
	}
	if f.Has(FlagWrite) {
		p |= tinygo.CharacteristicWritePermission
	}
	if f.Has(FlagNotify) {
		p |= tinygo.CharacteristicNotifyPermission
	}
	if f.Has(FlagIndicate) {
		p |= tinygo.CharacteristicIndicatePermission
	}
	return p
}

func containsConn(conns []ConnHandle, conn ConnHandle) bool {
	for _, c := range conns {
		if c == conn {
			return true
		}
	}
	return false
}

func removeConn(conns []ConnHandle, conn ConnHandle) []ConnHandle {
	out := conns[:0]
	for _, c := range conns {
		if c != conn {
			out = append(out, c)
		}
	}
	return out
}
