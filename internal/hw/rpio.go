// Package hw shares the Raspberry Pi GPIO memory map between the relay and the probes.
package hw

import (
	"fmt"
	"sync"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

var (
	mu    sync.Mutex
	users int
)

// Acquire maps /dev/gpiomem on first use. Every successful Acquire must be paired
// with a Release.
func Acquire() error {
	mu.Lock()
	defer mu.Unlock()
	if users == 0 {
		if err := rpio.Open(); err != nil {
			return fmt.Errorf("open gpio: %w", err)
		}
	}
	users++
	return nil
}

// Release unmaps the GPIO memory when the last user is done.
func Release() error {
	mu.Lock()
	defer mu.Unlock()
	if users == 0 {
		return nil
	}
	users--
	if users == 0 {
		return rpio.Close()
	}
	return nil
}
