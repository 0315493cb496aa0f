package state

import (
	"fmt"
	"sync"
)

const (
	DefaultAngleMin  = -15
	DefaultAngleMax  = 15
	DefaultAngleStep = 1
)

// Oscillator produces a triangle wave between min and max. Each bound is
// produced once before the direction reverses.
type Oscillator struct {
	min, max, step int
	value          int
	direction      int
	mutex          sync.Mutex
}

// NewOscillator starts at min moving up
func NewOscillator(min, max, step int) (*Oscillator, error) {
	if min >= max {
		return nil, fmt.Errorf("angle min %d must be below max %d", min, max)
	}
	if step <= 0 || step > max-min {
		return nil, fmt.Errorf("angle step %d must be in (0, %d]", step, max-min)
	}
	return &Oscillator{
		min:       min,
		max:       max,
		step:      step,
		value:     min,
		direction: 1,
	}, nil
}

// Current returns the value the next call to Next will produce
func (o *Oscillator) Current() float32 {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	return float32(o.value)
}

// Next returns the current value and advances, reflecting at the bounds
func (o *Oscillator) Next() float32 {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	v := o.value
	n := o.value + o.direction*o.step
	if n > o.max || n < o.min {
		o.direction = -o.direction
		n = o.value + o.direction*o.step
	}
	o.value = n
	return float32(v)
}

// Bounds returns min and max
func (o *Oscillator) Bounds() (int, int) {
	return o.min, o.max
}
