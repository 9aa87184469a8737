package actuator

import (
	"errors"
	"fmt"
	"sync"

	rpio "github.com/stianeikeland/go-rpio/v4"

	"github.com/LeonardoBeccarini/irrigation_agent/internal/hw"
)

// Relay is the raw output driving the pump. Set must only return nil once the
// requested level is confirmed on the output.
type Relay interface {
	Set(on bool) error
	Close() error
}

var errReadBack = errors.New("read-back mismatch")

// GPIORelay drives a relay board on a BCM pin. Most boards are active-low.
type GPIORelay struct {
	mu        sync.Mutex
	pin       rpio.Pin
	activeLow bool
	closed    bool
}

// OpenGPIORelay maps the GPIO memory and drives the pin to Off before returning.
func OpenGPIORelay(pin int, activeLow bool) (*GPIORelay, error) {
	if pin < 0 || pin > 27 {
		return nil, fmt.Errorf("relay: gpio %d out of [0,27]", pin)
	}
	if err := hw.Acquire(); err != nil {
		return nil, err
	}
	r := &GPIORelay{pin: rpio.Pin(pin), activeLow: activeLow}
	r.pin.Output()
	if err := r.write(false); err != nil {
		_ = hw.Release()
		return nil, err
	}
	return r, nil
}

func (r *GPIORelay) Set(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("relay: closed")
	}
	return r.write(on)
}

// Close leaves the pin at the Off level and releases the GPIO map.
func (r *GPIORelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.write(false)
	return errors.Join(err, hw.Release())
}

func (r *GPIORelay) write(on bool) error {
	want := r.level(on)
	r.pin.Write(want)
	if got := r.pin.Read(); got != want {
		return fmt.Errorf("relay: gpio %d wrote %d read %d: %w", r.pin, want, got, errReadBack)
	}
	return nil
}

func (r *GPIORelay) level(on bool) rpio.State {
	if on != r.activeLow {
		return rpio.High
	}
	return rpio.Low
}

// SimulatedRelay accepts every write unless a failure is injected.
type SimulatedRelay struct {
	mu      sync.Mutex
	on      bool
	writes  []bool
	failOn  error
	failOff error
}

func NewSimulatedRelay() *SimulatedRelay { return &SimulatedRelay{} }

// FailOn makes subsequent On writes fail with err (nil clears it).
func (s *SimulatedRelay) FailOn(err error) {
	s.mu.Lock()
	s.failOn = err
	s.mu.Unlock()
}

// FailOff makes subsequent Off writes fail with err (nil clears it).
func (s *SimulatedRelay) FailOff(err error) {
	s.mu.Lock()
	s.failOff = err
	s.mu.Unlock()
}

func (s *SimulatedRelay) Set(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, on)
	if on && s.failOn != nil {
		return s.failOn
	}
	if !on && s.failOff != nil {
		return s.failOff
	}
	s.on = on
	return nil
}

// Output is the level the simulated pin is at.
func (s *SimulatedRelay) Output() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

// Writes returns every requested level in order.
func (s *SimulatedRelay) Writes() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.writes...)
}

func (s *SimulatedRelay) Close() error { return nil }
