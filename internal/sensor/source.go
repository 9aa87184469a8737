// Package sensor acquires one Reading per cycle from real probes or a simulator.
//
// A Source never fails: a probe fault degrades to a simulated value because a
// missed cycle is worse than a noisy one.
package sensor

import (
	"context"

	"github.com/LeonardoBeccarini/irrigation_agent/internal/model/entities"
)

// Source produces the reading for a cycle.
type Source interface {
	Read(ctx context.Context) entities.Reading
	Close() error
}

// MoistureProbe returns soil moisture in percent.
type MoistureProbe interface {
	ReadMoisture() (float64, error)
	Close() error
}

// ClimateProbe returns air temperature (°C) and relative humidity (%).
type ClimateProbe interface {
	ReadClimate() (tempC float64, humidity float64, err error)
	Close() error
}
