package entities

import (
	"fmt"
	"time"
)

// Physically plausible ranges for probe values.
const (
	MinTemperatureC = -40.0
	MaxTemperatureC = 80.0
	MinPercent      = 0.0
	MaxPercent      = 100.0
)

// Reading is one immutable sample of the zone, produced once per cycle.
type Reading struct {
	Timestamp    time.Time `json:"timestamp"`
	ZoneID       string    `json:"field_id"`
	Moisture     float64   `json:"moisture"`                // % [0..100]
	TemperatureC *float64  `json:"temperature_c,omitempty"` // °C, nil when unavailable
	Humidity     *float64  `json:"humidity,omitempty"`      // %RH, nil when unavailable
	Simulated    bool      `json:"simulated"`               // at least one value was estimated
}

// NewReading builds a Reading; temperature and humidity are optional.
func NewReading(ts time.Time, zoneID string, moisture float64, tempC, humidity *float64, simulated bool) Reading {
	r := Reading{
		Timestamp: ts,
		ZoneID:    zoneID,
		Moisture:  moisture,
		Simulated: simulated,
	}
	if tempC != nil {
		t := *tempC
		r.TemperatureC = &t
	}
	if humidity != nil {
		h := *humidity
		r.Humidity = &h
	}
	return r
}

// Temperature returns the temperature and whether it is present.
func (r Reading) Temperature() (float64, bool) {
	if r.TemperatureC == nil {
		return 0, false
	}
	return *r.TemperatureC, true
}

// RelativeHumidity returns the humidity and whether it is present.
func (r Reading) RelativeHumidity() (float64, bool) {
	if r.Humidity == nil {
		return 0, false
	}
	return *r.Humidity, true
}

func (r Reading) String() string {
	s := fmt.Sprintf("%s moisture=%.1f%%", r.ZoneID, r.Moisture)
	if t, ok := r.Temperature(); ok {
		s += fmt.Sprintf(" temp=%.1fC", t)
	}
	if h, ok := r.RelativeHumidity(); ok {
		s += fmt.Sprintf(" rh=%.1f%%", h)
	}
	return s
}

// ValidMoisture reports whether m is a plausible moisture percentage.
func ValidMoisture(m float64) bool { return m >= MinPercent && m <= MaxPercent }

// ValidHumidity reports whether h is a plausible relative humidity.
func ValidHumidity(h float64) bool { return h >= MinPercent && h <= MaxPercent }

// ValidTemperature reports whether t is a plausible air temperature.
func ValidTemperature(t float64) bool { return t >= MinTemperatureC && t <= MaxTemperatureC }
