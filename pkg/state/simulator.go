package state

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultPublishInterval is the delay between published angles
const DefaultPublishInterval = time.Second

// Publisher receives each angle produced by the simulator
type Publisher interface {
	Publish(angle float32) error
}

// Simulator drives the oscillator and publishes its values on a fixed interval
type Simulator struct {
	oscillator     *Oscillator
	publisher      Publisher
	running        bool
	paused         bool
	stopChan       chan bool
	ticker         *time.Ticker
	updateInterval time.Duration

	published  uint64
	failures   uint64
	lastAngle  float32
	lastUpdate time.Time

	mutex sync.Mutex
}

// NewSimulator creates a simulator publishing to publisher
func NewSimulator(oscillator *Oscillator, publisher Publisher, updateInterval time.Duration) *Simulator {
	if updateInterval <= 0 {
		updateInterval = DefaultPublishInterval
	}
	return &Simulator{
		oscillator:     oscillator,
		publisher:      publisher,
		stopChan:       make(chan bool),
		updateInterval: updateInterval,
	}
}

// Start begins the publish loop
func (s *Simulator) Start() {
	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return
	}
	s.running = true
	s.ticker = time.NewTicker(s.updateInterval)
	s.mutex.Unlock()

	log.Infof("Starting steering simulator with update interval: %v", s.updateInterval)

	go s.simulationLoop()
}

// Stop halts the publish loop
func (s *Simulator) Stop() {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return
	}
	s.running = false
	s.ticker.Stop()
	s.mutex.Unlock()

	log.Info("Stopping steering simulator")
	// sent without the lock: update may be waiting for it
	s.stopChan <- true
}

// Pause keeps the loop running but skips publishing; the angle holds its value
func (s *Simulator) Pause() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.paused {
		log.Info("Pausing steering simulator")
	}
	s.paused = true
}

// Resume continues publishing after Pause
func (s *Simulator) Resume() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.paused {
		log.Info("Resuming steering simulator")
	}
	s.paused = false
}

func (s *Simulator) simulationLoop() {
	for {
		select {
		case <-s.ticker.C:
			s.update()
		case <-s.stopChan:
			return
		}
	}
}

// update publishes a single angle
func (s *Simulator) update() {
	s.mutex.Lock()
	paused := s.paused
	s.mutex.Unlock()
	if paused {
		return
	}

	angle := s.oscillator.Next()
	err := s.publisher.Publish(angle)

	s.mutex.Lock()
	s.published++
	s.lastAngle = angle
	s.lastUpdate = time.Now()
	if err != nil {
		s.failures++
	}
	s.mutex.Unlock()

	if err != nil {
		log.Warnf("Failed to publish steering angle %.1f: %v", angle, err)
		return
	}
	log.Tracef("Published steering angle %.1f", angle)
}

// GetStats returns simulator statistics
func (s *Simulator) GetStats() map[string]interface{} {
	lo, hi := s.oscillator.Bounds()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	return map[string]interface{}{
		"running":        s.running,
		"paused":         s.paused,
		"updateInterval": s.updateInterval.String(),
		"published":      s.published,
		"failures":       s.failures,
		"lastAngle":      s.lastAngle,
		"lastUpdate":     s.lastUpdate,
		"min":            lo,
		"max":            hi,
	}
}
