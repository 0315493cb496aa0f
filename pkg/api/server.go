//nolint:revive // api is a standard package name for API servers
package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jwoglom/fakesterzo/pkg/bluetooth"
	"github.com/jwoglom/fakesterzo/pkg/protocol"
	"github.com/jwoglom/fakesterzo/pkg/state"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Peripheral is the part of the steerer exposed by the API
type Peripheral interface {
	Stats() map[string]interface{}
	Connections() []state.Connection
	Publish(angle float32) error
}

// Simulator is the part of the angle simulator exposed by the API
type Simulator interface {
	GetStats() map[string]interface{}
	Pause()
	Resume()
}

// Server provides a WebSocket API for monitoring and controlling the steerer
type Server struct {
	peripheral Peripheral
	simulator  Simulator
	mux        *http.ServeMux

	conn *websocket.Conn
	mtx  sync.Mutex
}

// State is the full emulator state sent to websocket clients
type State struct {
	Type        string                 `json:"type"`
	Connections []state.Connection     `json:"connections"`
	Peripheral  map[string]interface{} `json:"peripheral"`
	Simulator   map[string]interface{} `json:"simulator,omitempty"`
}

// BleEvent represents a BLE event sent to websocket clients
type BleEvent struct {
	Type       string   `json:"type"`
	Connection string   `json:"connection,omitempty"`
	Opcode     string   `json:"opcode,omitempty"`
	Enabled    *bool    `json:"enabled,omitempty"`
	Angle      *float32 `json:"angle,omitempty"`
	Notified   *int     `json:"notified,omitempty"`
	Data       string   `json:"data,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// New creates a new API server. simulator may be nil.
func New(peripheral Peripheral, simulator Simulator) *Server {
	s := &Server{
		peripheral: peripheral,
		simulator:  simulator,
		mux:        http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler serving every route
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves the API on addr until the listener fails
func (s *Server) Start(addr string) error {
	log.Infof("Steerer web API listening on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// SendEvent sends a BLE event to the connected websocket client
func (s *Server) SendEvent(event BleEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Errorf("Failed to marshal event: %v", err)
		return
	}
	s.write(data)
}

// OnConnect implements state.Observer
func (s *Server) OnConnect(conn bluetooth.ConnHandle) {
	s.SendEvent(BleEvent{Type: "connected", Connection: string(conn)})
}

// OnDisconnect implements state.Observer
func (s *Server) OnDisconnect(conn bluetooth.ConnHandle) {
	s.SendEvent(BleEvent{Type: "disconnected", Connection: string(conn)})
}

// OnHandshake implements state.Observer
func (s *Server) OnHandshake(conn bluetooth.ConnHandle, opcode int16, enabled bool) {
	s.SendEvent(BleEvent{
		Type:       "handshake",
		Connection: string(conn),
		Opcode:     protocol.Opcode(opcode).String(),
		Enabled:    &enabled,
	})
}

// OnSteering implements state.Observer
func (s *Server) OnSteering(angle float32, notified int) {
	s.SendEvent(BleEvent{
		Type:     "steering",
		Angle:    &angle,
		Notified: &notified,
		Data:     hex.EncodeToString(protocol.EncodeAngle(angle)),
	})
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if _, err := fmt.Fprintf(w, "Steerer Emulator API - Connect via WebSocket at /ws\n\n  GET    /api/status\n  GET    /api/connections\n"); err != nil {
			log.Warnf("Failed to write response: %v", err)
		}
	})
	s.mux.HandleFunc("/ws", s.serveWebsocket)
	s.mux.HandleFunc("/api/status", s.handleStatusAPI)
	s.mux.HandleFunc("/api/connections", s.handleConnectionsAPI)
}

func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	log.Infof("WebSocket connection from: %s", r.RemoteAddr)

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	s.mtx.Lock()
	if s.conn != nil {
		log.Infof("Replacing previous websocket client")
	}
	s.conn = ws
	s.mtx.Unlock()

	// Send initial state
	s.sendState()

	// Listen for messages
	s.reader(ws)
}

func (s *Server) currentState() State {
	st := State{
		Type:        "state",
		Connections: s.peripheral.Connections(),
		Peripheral:  s.peripheral.Stats(),
	}
	if s.simulator != nil {
		st.Simulator = s.simulator.GetStats()
	}
	return st
}

func (s *Server) sendState() {
	data, err := json.Marshal(s.currentState())
	if err != nil {
		log.Errorf("Failed to marshal state: %v", err)
		return
	}
	s.write(data)
}

func (s *Server) write(data []byte) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.conn == nil {
		return
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Errorf("Failed to send websocket message: %v", err)
	}
}

func (s *Server) reader(conn *websocket.Conn) {
	defer func() {
		s.mtx.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mtx.Unlock()
		if err := conn.Close(); err != nil {
			log.Debugf("Error closing websocket: %v", err)
		}
	}()

	for {
		_, p, err := conn.ReadMessage()
		if err != nil {
			log.Infof("WebSocket read error: %v", err)
			return
		}
		log.Debugf("Received WebSocket message: %s", string(p))
		s.handleCommand(p)
	}
}

func (s *Server) handleCommand(data []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Errorf("Failed to parse command: %v", err)
		return
	}

	command, ok := msg["command"].(string)
	if !ok {
		log.Error("Command field missing or not a string")
		return
	}

	switch command {
	case "getState":
		s.sendState()
		return
	case "pause", "resume":
		if s.simulator == nil {
			s.SendEvent(BleEvent{Type: "error", Message: "no simulator running"})
			return
		}
		if command == "pause" {
			s.simulator.Pause()
		} else {
			s.simulator.Resume()
		}
		s.sendState()
		return
	case "publish":
		// Publish a single angle, e.g. {"command":"publish","angle":-4.5}
		angle, ok := msg["angle"].(float64)
		if !ok {
			s.SendEvent(BleEvent{Type: "error", Message: "publish requires a numeric angle"})
			return
		}
		if err := s.peripheral.Publish(float32(angle)); err != nil {
			log.Warnf("Publish from API failed: %v", err)
			s.SendEvent(BleEvent{Type: "error", Message: err.Error()})
		}
		return
	}

	log.Warnf("Unknown command: %s", command)
}

// handleStatusAPI returns peripheral and simulator statistics
func (s *Server) handleStatusAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.currentState()); err != nil {
		log.Errorf("Failed to encode status: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// handleConnectionsAPI returns the connected centrals
func (s *Server) handleConnectionsAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.peripheral.Connections()); err != nil {
		log.Errorf("Failed to encode connections: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}
