package state

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jwoglom/fakesterzo/pkg/bluetooth"
	log "github.com/sirupsen/logrus"
)

// ConnectionRegistry tracks connected centrals and their handshake state.
// Transport callbacks and the publish loop both use it.
type ConnectionRegistry interface {
	// OnConnect adds conn. It returns false if conn was already present.
	OnConnect(conn bluetooth.ConnHandle) bool

	// OnDisconnect removes conn and its handshake state. It returns false
	// if conn was not present.
	OnDisconnect(conn bluetooth.ConnHandle) bool

	// ActiveHandles returns the connected handles in connect order.
	ActiveHandles() []bluetooth.ConnHandle

	Contains(conn bluetooth.ConnHandle) bool

	// SetEnabled arms or disarms steering notifications for conn. It
	// returns false if conn is not connected.
	SetEnabled(conn bluetooth.ConnHandle, enabled bool) bool

	Enabled(conn bluetooth.ConnHandle) bool

	// EnabledHandles returns the connected handles whose handshake completed.
	EnabledHandles() []bluetooth.ConnHandle

	// RecordHeartbeat counts a keep-alive from conn.
	RecordHeartbeat(conn bluetooth.ConnHandle) bool

	Len() int

	Snapshot() []Connection
}

// Connection is the record kept for one connected central
type Connection struct {
	Handle      bluetooth.ConnHandle `json:"handle"`
	Session     uuid.UUID            `json:"session"`
	Enabled     bool                 `json:"enabled"`
	ConnectedAt time.Time            `json:"connectedAt"`
	EnabledAt   time.Time            `json:"enabledAt,omitempty"`
	Heartbeats  uint32               `json:"heartbeats"`
}

// ConnectionTable is the ConnectionRegistry used by the peripheral
type ConnectionTable struct {
	conns map[bluetooth.ConnHandle]*Connection
	order []bluetooth.ConnHandle
	mutex sync.RWMutex
}

// NewConnectionTable creates an empty table
func NewConnectionTable() *ConnectionTable {
	return &ConnectionTable{
		conns: make(map[bluetooth.ConnHandle]*Connection),
	}
}

// OnConnect adds a record for conn with the handshake disabled
func (ct *ConnectionTable) OnConnect(conn bluetooth.ConnHandle) bool {
	ct.mutex.Lock()
	defer ct.mutex.Unlock()

	if _, ok := ct.conns[conn]; ok {
		log.Debugf("Connection %s already registered", conn)
		return false
	}

	c := &Connection{
		Handle:      conn,
		Session:     uuid.New(),
		ConnectedAt: time.Now(),
	}
	ct.conns[conn] = c
	ct.order = append(ct.order, conn)

	log.Infof("Registered connection %s (session %s, %d active)", conn, c.Session, len(ct.order))
	return true
}

// OnDisconnect removes the record for conn
func (ct *ConnectionTable) OnDisconnect(conn bluetooth.ConnHandle) bool {
	ct.mutex.Lock()
	defer ct.mutex.Unlock()

	c, ok := ct.conns[conn]
	if !ok {
		return false
	}

	delete(ct.conns, conn)
	for i, h := range ct.order {
		if h == conn {
			ct.order = append(ct.order[:i], ct.order[i+1:]...)
			break
		}
	}

	log.Infof("Removed connection %s (session %s, connected %s, %d active)",
		conn, c.Session, time.Since(c.ConnectedAt).Round(time.Millisecond), len(ct.order))
	return true
}

// ActiveHandles returns a copy of the connected handles in connect order
func (ct *ConnectionTable) ActiveHandles() []bluetooth.ConnHandle {
	ct.mutex.RLock()
	defer ct.mutex.RUnlock()

	out := make([]bluetooth.ConnHandle, len(ct.order))
	copy(out, ct.order)
	return out
}

// Contains reports whether conn is connected
func (ct *ConnectionTable) Contains(conn bluetooth.ConnHandle) bool {
	ct.mutex.RLock()
	defer ct.mutex.RUnlock()

	_, ok := ct.conns[conn]
	return ok
}

// SetEnabled updates the handshake state of conn
func (ct *ConnectionTable) SetEnabled(conn bluetooth.ConnHandle, enabled bool) bool {
	ct.mutex.Lock()
	defer ct.mutex.Unlock()

	c, ok := ct.conns[conn]
	if !ok {
		return false
	}

	if enabled && !c.Enabled {
		c.EnabledAt = time.Now()
	}
	if !enabled {
		c.EnabledAt = time.Time{}
	}
	c.Enabled = enabled
	return true
}

// Enabled reports whether conn completed the handshake
func (ct *ConnectionTable) Enabled(conn bluetooth.ConnHandle) bool {
	ct.mutex.RLock()
	defer ct.mutex.RUnlock()

	c, ok := ct.conns[conn]
	return ok && c.Enabled
}

// EnabledHandles returns the handshaken connections in connect order
func (ct *ConnectionTable) EnabledHandles() []bluetooth.ConnHandle {
	ct.mutex.RLock()
	defer ct.mutex.RUnlock()

	out := make([]bluetooth.ConnHandle, 0, len(ct.order))
	for _, h := range ct.order {
		if ct.conns[h].Enabled {
			out = append(out, h)
		}
	}
	return out
}

// RecordHeartbeat increments the heartbeat counter of conn
func (ct *ConnectionTable) RecordHeartbeat(conn bluetooth.ConnHandle) bool {
	ct.mutex.Lock()
	defer ct.mutex.Unlock()

	c, ok := ct.conns[conn]
	if !ok {
		return false
	}
	c.Heartbeats++
	return true
}

// Len returns the number of connected centrals
func (ct *ConnectionTable) Len() int {
	ct.mutex.RLock()
	defer ct.mutex.RUnlock()

	return len(ct.order)
}

// Snapshot returns copies of every record in connect order
func (ct *ConnectionTable) Snapshot() []Connection {
	ct.mutex.RLock()
	defer ct.mutex.RUnlock()

	out := make([]Connection, 0, len(ct.order))
	for _, h := range ct.order {
		out = append(out, *ct.conns[h])
	}
	return out
}
