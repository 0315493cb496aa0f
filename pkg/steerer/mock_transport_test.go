package steerer

import (
	"fmt"
	"sync"

	"github.com/jwoglom/fakesterzo/pkg/bluetooth"
)

type sent struct {
	conn bluetooth.ConnHandle
	h    bluetooth.Handle
	data []byte
}

// mockTransport assigns sequential handles and records every call.
type mockTransport struct {
	mu          sync.Mutex
	opened      bool
	handler     bluetooth.EventHandler
	handles     bluetooth.HandleSet
	values      map[bluetooth.Handle][]byte
	conns       map[bluetooth.ConnHandle]bool
	notified    []sent
	indicated   []sent
	advertised  []bluetooth.AdvertiseOptions
	notifyErr    map[bluetooth.ConnHandle]error
	registerErr  error
	advertiseErr error
	closed       int
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		values:    make(map[bluetooth.Handle][]byte),
		conns:     make(map[bluetooth.ConnHandle]bool),
		notifyErr: make(map[bluetooth.ConnHandle]error),
	}
}

func (m *mockTransport) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = true
	return nil
}

func (m *mockTransport) SetEventHandler(handler bluetooth.EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

func (m *mockTransport) Register(desc bluetooth.ServiceDescriptor) (bluetooth.HandleSet, error) {
	if m.registerErr != nil {
		return bluetooth.HandleSet{}, m.registerErr
	}
	if err := desc.Validate(); err != nil {
		return bluetooth.HandleSet{}, err
	}
	assigned := make(map[bluetooth.CharacteristicType]bluetooth.Handle)
	for i, c := range desc.Characteristics {
		assigned[c.Type] = bluetooth.Handle(0x10 + i)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles = bluetooth.NewHandleSet(assigned)
	return m.handles, nil
}

func (m *mockTransport) Write(h bluetooth.Handle, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.handles.Lookup(h); !ok {
		return fmt.Errorf("%w: %d", bluetooth.ErrUnknownHandle, h)
	}
	m.values[h] = append([]byte(nil), data...)
	return nil
}

func (m *mockTransport) Notify(conn bluetooth.ConnHandle, h bluetooth.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.notifyErr[conn]; err != nil {
		return err
	}
	m.notified = append(m.notified, sent{conn: conn, h: h, data: m.values[h]})
	return nil
}

func (m *mockTransport) Indicate(conn bluetooth.ConnHandle, h bluetooth.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indicated = append(m.indicated, sent{conn: conn, h: h, data: m.values[h]})
	return nil
}

func (m *mockTransport) Advertise(opts bluetooth.AdvertiseOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.advertiseErr != nil {
		return m.advertiseErr
	}
	m.advertised = append(m.advertised, opts)
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *mockTransport) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// emit delivers ev the way a transport does
func (m *mockTransport) emit(ev bluetooth.Event) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

func (m *mockTransport) connect(conn bluetooth.ConnHandle) {
	m.mu.Lock()
	m.conns[conn] = true
	m.mu.Unlock()
	m.emit(bluetooth.ConnectEvent{Conn: conn})
}

func (m *mockTransport) disconnect(conn bluetooth.ConnHandle) {
	m.mu.Lock()
	delete(m.conns, conn)
	m.mu.Unlock()
	m.emit(bluetooth.DisconnectEvent{Conn: conn})
}

func (m *mockTransport) write(conn bluetooth.ConnHandle, charType bluetooth.CharacteristicType, data []byte) {
	m.emit(bluetooth.WriteEvent{Conn: conn, Handle: m.handles.Handle(charType), Data: data})
}

func (m *mockTransport) advertiseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.advertised)
}

func (m *mockTransport) notifications() []sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sent(nil), m.notified...)
}
