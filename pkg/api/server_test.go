package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jwoglom/fakesterzo/pkg/state"
)

type fakePeripheral struct {
	mu        sync.Mutex
	registry  *state.ConnectionTable
	published []float32
}

func newFakePeripheral() *fakePeripheral {
	registry := state.NewConnectionTable()
	registry.OnConnect("central-1")
	registry.SetEnabled("central-1", true)
	return &fakePeripheral{registry: registry}
}

func (p *fakePeripheral) Stats() map[string]interface{} {
	return map[string]interface{}{"connections": p.registry.Len()}
}

func (p *fakePeripheral) Connections() []state.Connection {
	return p.registry.Snapshot()
}

func (p *fakePeripheral) Publish(angle float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, angle)
	return nil
}

func (p *fakePeripheral) publishedAngles() []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float32(nil), p.published...)
}

type fakeSimulator struct {
	mu     sync.Mutex
	paused bool
}

func (s *fakeSimulator) GetStats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]interface{}{"paused": s.paused}
}

func (s *fakeSimulator) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

func (s *fakeSimulator) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

func (s *fakeSimulator) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func TestStatusAPI(t *testing.T) {
	srv := httptest.NewServer(New(newFakePeripheral(), &fakeSimulator{}).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var st State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if len(st.Connections) != 1 || !st.Connections[0].Enabled {
		t.Errorf("unexpected connections %+v", st.Connections)
	}
	if st.Simulator["paused"] != false {
		t.Errorf("unexpected simulator stats %v", st.Simulator)
	}
}

func TestConnectionsAPI(t *testing.T) {
	srv := httptest.NewServer(New(newFakePeripheral(), nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/connections")
	if err != nil {
		t.Fatalf("GET /api/connections error = %v", err)
	}
	defer resp.Body.Close()

	var conns []state.Connection
	if err := json.NewDecoder(resp.Body).Decode(&conns); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if len(conns) != 1 || conns[0].Handle != "central-1" {
		t.Errorf("unexpected connections %+v", conns)
	}

	post, err := http.Post(srv.URL+"/api/connections", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", post.StatusCode)
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	return ws
}

func readJSON(t *testing.T, ws *websocket.Conn) map[string]interface{} {
	t.Helper()
	if err := ws.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline() error = %v", err)
	}
	var msg map[string]interface{}
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func TestWebsocketEvents(t *testing.T) {
	s := New(newFakePeripheral(), &fakeSimulator{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ws := dial(t, srv)
	defer ws.Close()

	if msg := readJSON(t, ws); msg["type"] != "state" {
		t.Fatalf("Expected initial state, got %v", msg)
	}

	s.OnConnect("central-2")
	msg := readJSON(t, ws)
	if msg["type"] != "connected" || msg["connection"] != "central-2" {
		t.Errorf("unexpected connect event %v", msg)
	}

	s.OnHandshake("central-2", 0x0311, true)
	msg = readJSON(t, ws)
	if msg["type"] != "handshake" || msg["opcode"] != "HandshakeStep2" || msg["enabled"] != true {
		t.Errorf("unexpected handshake event %v", msg)
	}

	s.OnSteering(7.5, 2)
	msg = readJSON(t, ws)
	if msg["type"] != "steering" || msg["angle"] != 7.5 || msg["data"] != "0000f040" {
		t.Errorf("unexpected steering event %v", msg)
	}

	s.OnDisconnect("central-2")
	if msg := readJSON(t, ws); msg["type"] != "disconnected" {
		t.Errorf("unexpected disconnect event %v", msg)
	}
}

func TestWebsocketCommands(t *testing.T) {
	p := newFakePeripheral()
	sim := &fakeSimulator{}
	srv := httptest.NewServer(New(p, sim).Handler())
	defer srv.Close()

	ws := dial(t, srv)
	defer ws.Close()
	readJSON(t, ws)

	if err := ws.WriteJSON(map[string]interface{}{"command": "pause"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	msg := readJSON(t, ws)
	if msg["type"] != "state" || !sim.isPaused() {
		t.Errorf("pause should answer with state, got %v", msg)
	}

	if err := ws.WriteJSON(map[string]interface{}{"command": "resume"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	readJSON(t, ws)
	if sim.isPaused() {
		t.Error("simulator should be resumed")
	}

	if err := ws.WriteJSON(map[string]interface{}{"command": "publish", "angle": -4.5}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if err := ws.WriteJSON(map[string]interface{}{"command": "getState"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	readJSON(t, ws)
	if got := p.publishedAngles(); len(got) != 1 || got[0] != -4.5 {
		t.Errorf("Expected one publish of -4.5, got %v", got)
	}
}
