package handler

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jwoglom/fakesterzo/pkg/bluetooth"
	"github.com/jwoglom/fakesterzo/pkg/protocol"
	"github.com/jwoglom/fakesterzo/pkg/state"

	log "github.com/sirupsen/logrus"
)

// Sender is the part of the transport the router responds through
type Sender interface {
	Write(h bluetooth.Handle, data []byte) error
	Indicate(conn bluetooth.ConnHandle, h bluetooth.Handle) error
}

// Outcome classifies a routed write
type Outcome int

const (
	// OutcomeIgnored: not the control characteristic, or the central is not registered
	OutcomeIgnored Outcome = iota
	// OutcomeMalformed: the payload was not a two-byte request
	OutcomeMalformed
	// OutcomeUnmatched: no handler for the opcode
	OutcomeUnmatched
	// OutcomeHandled: a handler processed the request
	OutcomeHandled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeUnmatched:
		return "unmatched"
	case OutcomeHandled:
		return "handled"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result describes what RouteWrite did with a write
type Result struct {
	Outcome Outcome
	Opcode  protocol.Opcode
	// Indicated holds the response sent to the central, nil if none
	Indicated []byte
	// Enabled is the connection's handshake state after the write
	Enabled bool
}

// Router routes control characteristic writes to opcode handlers
type Router struct {
	handlers map[protocol.Opcode]OpcodeHandler
	registry state.ConnectionRegistry
	sender   Sender
	handles  bluetooth.HandleSet
	observer state.Observer

	// Default handler for unknown opcodes
	defaultHandler OpcodeHandler

	mtx    sync.Mutex
	counts map[Outcome]uint64
}

// NewRouter creates a router with the handshake handlers registered
func NewRouter(registry state.ConnectionRegistry, sender Sender, handles bluetooth.HandleSet) *Router {
	r := &Router{
		handlers: make(map[protocol.Opcode]OpcodeHandler),
		registry: registry,
		sender:   sender,
		handles:  handles,
		observer: &state.NoOpObserver{},
		counts:   make(map[Outcome]uint64),
	}

	r.RegisterHandler(NewStep1Handler())
	r.RegisterHandler(NewStep2Handler())
	r.RegisterHandler(NewHeartbeatHandler())
	r.SetDefaultHandler(NewDefaultHandler())

	log.Infof("Registered %d opcode handlers", len(r.handlers))
	return r
}

// RegisterHandler registers an opcode handler
func (r *Router) RegisterHandler(handler OpcodeHandler) {
	r.handlers[handler.Opcode()] = handler
	log.Debugf("Registered handler: %s", handler.Opcode())
}

// SetDefaultHandler sets the handler for unknown opcodes
func (r *Router) SetDefaultHandler(handler OpcodeHandler) {
	r.defaultHandler = handler
}

// SetObserver sets the observer notified of handled requests
func (r *Router) SetObserver(observer state.Observer) {
	r.mtx.Lock()
	r.observer = observer
	r.mtx.Unlock()
}

// RouteWrite processes a write from conn. Writes to characteristics other
// than rxChar and writes from unregistered centrals are ignored. Malformed
// requests are logged and leave the connection state unchanged. The error is
// non-nil only if sending the response failed.
func (r *Router) RouteWrite(conn bluetooth.ConnHandle, h bluetooth.Handle, data []byte) (Result, error) {
	if h != r.handles.Handle(bluetooth.CharRx) {
		if charType, ok := r.handles.Lookup(h); ok {
			log.Debugf("Ignoring write on %s from %s", charType, conn)
		} else {
			log.Debugf("Ignoring write on unknown handle %d from %s", h, conn)
		}
		return r.done(Result{Outcome: OutcomeIgnored}), nil
	}
	if !r.registry.Contains(conn) {
		log.Warnf("Ignoring write from unregistered connection %s", conn)
		return r.done(Result{Outcome: OutcomeIgnored}), nil
	}

	protocol.LogPacket("RX", bluetooth.CharRx, data)

	op, err := protocol.ParseRequest(data)
	if err != nil {
		log.Warnf("Ignoring request from %s: %v", conn, err)
		return r.done(Result{Outcome: OutcomeMalformed, Enabled: r.registry.Enabled(conn)}), nil
	}

	result := Result{Outcome: OutcomeHandled, Opcode: op}

	handler, exists := r.handlers[op]
	if !exists {
		result.Outcome = OutcomeUnmatched
		if r.defaultHandler == nil {
			log.Warnf("No handler registered for opcode %s", op)
			result.Enabled = r.registry.Enabled(conn)
			return r.done(result), nil
		}
		handler = r.defaultHandler
	}

	response, err := handler.HandleRequest(op, conn, r.registry)
	if err != nil {
		log.Errorf("Handler error for %s: %v", op, err)
		result.Enabled = r.registry.Enabled(conn)
		return r.done(result), fmt.Errorf("handler error: %w", err)
	}

	var sendErr error
	if response != nil {
		if sendErr = r.sendResponse(conn, response); sendErr != nil {
			log.Warnf("Failed to send response to %s: %v", conn, sendErr)
		} else {
			result.Indicated = response.Indicate
		}
	}

	result.Enabled = r.registry.Enabled(conn)

	r.mtx.Lock()
	observer := r.observer
	r.mtx.Unlock()
	observer.OnHandshake(conn, int16(op), result.Enabled)

	if sendErr != nil {
		return r.done(result), fmt.Errorf("failed to send response: %w", sendErr)
	}
	return r.done(result), nil
}

// sendResponse indicates the response and applies its state changes. The
// state changes are applied even when the indication fails: the connection
// state is tracked by the application, not by the central's CCCD subscription.
func (r *Router) sendResponse(conn bluetooth.ConnHandle, response *Response) error {
	err := r.indicate(conn, response.Indicate)

	for _, change := range response.StateChanges {
		r.applyStateChange(conn, change)
	}
	return err
}

func (r *Router) indicate(conn bluetooth.ConnHandle, data []byte) error {
	if data == nil {
		return nil
	}
	tx := r.handles.Handle(bluetooth.CharTx)
	if tx == 0 {
		return errors.New("tx characteristic not registered")
	}

	protocol.LogPacket("TX", bluetooth.CharTx, data)

	if err := r.sender.Write(tx, data); err != nil {
		return fmt.Errorf("failed to write tx value: %w", err)
	}
	if err := r.sender.Indicate(conn, tx); err != nil {
		return fmt.Errorf("failed to indicate: %w", err)
	}
	return nil
}

// applyStateChange applies a state change to conn
func (r *Router) applyStateChange(conn bluetooth.ConnHandle, change StateChange) {
	log.Debugf("Applying state change: %s for %s", change.Type, conn)

	switch change.Type {
	case StateChangeEnable:
		if r.registry.SetEnabled(conn, true) {
			log.Infof("Steering notifications enabled for %s", conn)
		}
	case StateChangeHeartbeat:
		r.registry.RecordHeartbeat(conn)
	default:
		log.Warnf("Unknown state change type: %d", change.Type)
	}
}

func (r *Router) done(result Result) Result {
	r.mtx.Lock()
	r.counts[result.Outcome]++
	r.mtx.Unlock()
	return result
}

// GetStats returns router statistics
func (r *Router) GetStats() map[string]interface{} {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	stats := map[string]interface{}{
		"registeredHandlers": len(r.handlers),
	}
	for _, o := range []Outcome{OutcomeIgnored, OutcomeMalformed, OutcomeUnmatched, OutcomeHandled} {
		stats[o.String()] = r.counts[o]
	}
	return stats
}
