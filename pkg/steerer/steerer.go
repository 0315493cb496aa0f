package steerer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jwoglom/fakesterzo/pkg/bluetooth"
	"github.com/jwoglom/fakesterzo/pkg/handler"
	"github.com/jwoglom/fakesterzo/pkg/protocol"
	"github.com/jwoglom/fakesterzo/pkg/state"

	log "github.com/sirupsen/logrus"
)

// DefaultName is the advertised local name
const DefaultName = "steerer"

// Options configures a Peripheral
type Options struct {
	// Name is the advertised local name, DefaultName if empty
	Name string

	// AdvertisingInterval defaults to bluetooth.DefaultAdvertisingInterval
	AdvertisingInterval time.Duration

	// Descriptor overrides bluetooth.DefaultDescriptor
	Descriptor *bluetooth.ServiceDescriptor

	// Registry overrides the default connection table
	Registry state.ConnectionRegistry
}

// Peripheral is the emulated steering sensor
type Peripheral struct {
	transport bluetooth.Transport
	handles   bluetooth.HandleSet
	registry  state.ConnectionRegistry
	router    *handler.Router
	advOpts   bluetooth.AdvertiseOptions

	mtx      sync.Mutex
	observer state.Observer
	stats    stats
}

type stats struct {
	connects         uint64
	disconnects      uint64
	staleDisconnects uint64
	writes           uint64
	indicateDone     uint64
	advertisements   uint64
	published        uint64
	notifications    uint64
	notifyFailures   uint64
	lastAngle        float32
}

// New activates the radio, registers the service and starts advertising.
// Any error here leaves the peripheral unusable.
func New(transport bluetooth.Transport, opts Options) (*Peripheral, error) {
	desc := bluetooth.DefaultDescriptor()
	if opts.Descriptor != nil {
		desc = *opts.Descriptor
	}
	registry := opts.Registry
	if registry == nil {
		registry = state.NewConnectionTable()
	}
	name := opts.Name
	if name == "" {
		name = DefaultName
	}
	interval := opts.AdvertisingInterval
	if interval <= 0 {
		interval = bluetooth.DefaultAdvertisingInterval
	}

	if err := transport.Open(); err != nil {
		return nil, fmt.Errorf("failed to open transport: %w", err)
	}

	handles, err := transport.Register(desc)
	if err != nil {
		closeTransport(transport)
		return nil, fmt.Errorf("failed to register service: %w", err)
	}
	for _, c := range desc.Characteristics {
		log.Debugf("%s %s handle=%d flags=%s", c.Type, c.UUID, handles.Handle(c.Type), c.Flags)
	}

	p := &Peripheral{
		transport: transport,
		handles:   handles,
		registry:  registry,
		router:    handler.NewRouter(registry, transport, handles),
		observer:  &state.NoOpObserver{},
		advOpts: bluetooth.AdvertiseOptions{
			Name:         name,
			ServiceUUIDs: []string{desc.UUID},
			Interval:     interval,
		},
	}

	transport.SetEventHandler(p.HandleEvent)

	if err := p.advertise(); err != nil {
		closeTransport(transport)
		return nil, err
	}

	log.Infof("Peripheral %q ready", name)
	return p, nil
}

func closeTransport(transport bluetooth.Transport) {
	if err := transport.Close(); err != nil {
		log.Warnf("Failed to close transport: %v", err)
	}
}

// SetObserver sets the observer for connection, handshake and steering activity
func (p *Peripheral) SetObserver(observer state.Observer) {
	p.mtx.Lock()
	p.observer = observer
	p.mtx.Unlock()
	p.router.SetObserver(observer)
}

func (p *Peripheral) getObserver() state.Observer {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.observer
}

// HandleEvent processes a transport event. The transport never calls it concurrently.
func (p *Peripheral) HandleEvent(ev bluetooth.Event) {
	switch e := ev.(type) {
	case bluetooth.ConnectEvent:
		p.handleConnect(e)
	case bluetooth.DisconnectEvent:
		p.handleDisconnect(e)
	case bluetooth.WriteEvent:
		p.handleWrite(e)
	case bluetooth.IndicateDoneEvent:
		p.handleIndicateDone(e)
	default:
		log.Warnf("Unhandled event type %T", ev)
	}
}

func (p *Peripheral) handleConnect(e bluetooth.ConnectEvent) {
	p.count(func(s *stats) { s.connects++ })

	if !p.registry.OnConnect(e.Conn) {
		log.Warnf("Duplicate connect for %s", e.Conn)
		return
	}
	p.getObserver().OnConnect(e.Conn)
}

func (p *Peripheral) handleDisconnect(e bluetooth.DisconnectEvent) {
	if !p.registry.OnDisconnect(e.Conn) {
		p.count(func(s *stats) { s.staleDisconnects++ })
		log.Warnf("Ignoring disconnect for unknown connection %s", e.Conn)
		return
	}
	p.count(func(s *stats) { s.disconnects++ })
	p.getObserver().OnDisconnect(e.Conn)

	if err := p.advertise(); err != nil {
		log.Errorf("Failed to restart advertising: %v", err)
	}
}

func (p *Peripheral) handleWrite(e bluetooth.WriteEvent) {
	p.count(func(s *stats) { s.writes++ })

	result, err := p.router.RouteWrite(e.Conn, e.Handle, e.Data)
	if err != nil {
		log.Errorf("Write from %s failed: %v", e.Conn, err)
		return
	}
	log.Tracef("Write from %s: %s", e.Conn, result.Outcome)
}

func (p *Peripheral) handleIndicateDone(e bluetooth.IndicateDoneEvent) {
	p.count(func(s *stats) { s.indicateDone++ })
	log.Debugf("Indication on handle %d to %s completed with status %d", e.Handle, e.Conn, e.Status)
}

func (p *Peripheral) advertise() error {
	if err := p.transport.Advertise(p.advOpts); err != nil {
		return fmt.Errorf("failed to advertise: %w", err)
	}
	p.count(func(s *stats) { s.advertisements++ })
	log.Infof("Advertising as %q", p.advOpts.Name)
	return nil
}

// Publish sets the steering value and notifies every connection that
// completed the handshake. Failed notifications are joined into the
// returned error and do not stop the remaining ones.
func (p *Peripheral) Publish(angle float32) error {
	data := protocol.EncodeAngle(angle)
	steering := p.handles.Handle(bluetooth.CharSteering)

	if err := p.transport.Write(steering, data); err != nil {
		return fmt.Errorf("failed to write steering value: %w", err)
	}
	protocol.LogPacket("SET", bluetooth.CharSteering, data)

	var errs []error
	notified := 0
	for _, conn := range p.registry.EnabledHandles() {
		if err := p.transport.Notify(conn, steering); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", conn, err))
			continue
		}
		notified++
	}

	p.count(func(s *stats) {
		s.published++
		s.notifications += uint64(notified)
		s.notifyFailures += uint64(len(errs))
		s.lastAngle = angle
	})
	p.getObserver().OnSteering(angle, notified)

	return errors.Join(errs...)
}

// Registry returns the connection registry
func (p *Peripheral) Registry() state.ConnectionRegistry {
	return p.registry
}

// Connections returns a snapshot of the connected centrals
func (p *Peripheral) Connections() []state.Connection {
	return p.registry.Snapshot()
}

// Handles returns the characteristic handles assigned by the transport
func (p *Peripheral) Handles() bluetooth.HandleSet {
	return p.handles
}

// Close stops advertising and releases the transport
func (p *Peripheral) Close() error {
	return p.transport.Close()
}

func (p *Peripheral) count(f func(s *stats)) {
	p.mtx.Lock()
	f(&p.stats)
	p.mtx.Unlock()
}

// Stats returns peripheral statistics
func (p *Peripheral) Stats() map[string]interface{} {
	p.mtx.Lock()
	s := p.stats
	p.mtx.Unlock()

	return map[string]interface{}{
		"name":             p.advOpts.Name,
		"connections":      p.registry.Len(),
		"enabled":          len(p.registry.EnabledHandles()),
		"connects":         s.connects,
		"disconnects":      s.disconnects,
		"staleDisconnects": s.staleDisconnects,
		"writes":           s.writes,
		"indicateDone":     s.indicateDone,
		"advertisements":   s.advertisements,
		"published":        s.published,
		"notifications":    s.notifications,
		"notifyFailures":   s.notifyFailures,
		"lastAngle":        s.lastAngle,
		"router":           p.router.GetStats(),
	}
}
