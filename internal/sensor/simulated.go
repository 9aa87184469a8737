package sensor

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/irrigation_agent/internal/model/entities"
)

// ====== Tunables ======
const (
	// gainPerMin: +6% per minute of pump time, the probe sits next to the dripper.
	gainPerMin = 6.0

	// defaultDecayPerMin: -0.1% per minute when the pump is off.
	defaultDecayPerMin = 0.1

	// seed range for the initial moisture level and per-read noise.
	seedMin, seedMax = 25.0, 65.0
	noiseAmplitude   = 3.0

	tempMin, tempMax = 18.0, 35.0
	humMin, humMax   = 30.0, 90.0
)

// Simulated keeps an internal moisture level that dries out over time and rises
// after irrigation, and derives temperature/humidity with a soft inverse correlation.
type Simulated struct {
	mu          sync.Mutex
	zoneID      string
	rng         *rand.Rand
	now         func() time.Time
	seeded      bool
	last        time.Time
	level       float64 // % [0..100]
	decayPerMin float64
}

// SimOption customizes a Simulated source.
type SimOption func(*Simulated)

// WithRand makes the simulator deterministic.
func WithRand(r *rand.Rand) SimOption { return func(s *Simulated) { s.rng = r } }

// WithSimClock replaces time.Now.
func WithSimClock(now func() time.Time) SimOption { return func(s *Simulated) { s.now = now } }

// WithDecay sets the drying rate in percent per minute.
func WithDecay(perMin float64) SimOption {
	return func(s *Simulated) { s.decayPerMin = math.Max(0, perMin) }
}

// NewSimulated returns a simulator for zoneID.
func NewSimulated(zoneID string, opts ...SimOption) *Simulated {
	s := &Simulated{
		zoneID:      zoneID,
		now:         time.Now,
		decayPerMin: defaultDecayPerMin,
	}
	for _, o := range opts {
		o(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s
}

// Read returns a fully simulated reading.
func (s *Simulated) Read(_ context.Context) entities.Reading {
	m := s.SimulateMoisture()
	t, h := s.SimulateClimate()
	return entities.NewReading(s.now(), s.zoneID, m, &t, &h, true)
}

// SimulateMoisture advances the internal level and returns it with noise.
func (s *Simulated) SimulateMoisture() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.seedLocked(now)

	dtMin := now.Sub(s.last).Minutes()
	if dtMin < 0 {
		dtMin = 0
	}
	s.level = clampPct(s.level - s.decayPerMin*dtMin)
	s.last = now

	noise := (s.rng.Float64()*2 - 1) * noiseAmplitude
	return round1(clampPct(s.level + noise))
}

// SimulateClimate returns temperature in [18,35]°C and humidity trending
// inversely with it, clamped to [30,90]%.
func (s *Simulated) SimulateClimate() (tempC, humidity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tempC = tempMin + s.rng.Float64()*(tempMax-tempMin)
	base := 85 - (tempC-tempMin)*1.5
	humidity = base + (s.rng.Float64()*2-1)*10
	humidity = math.Max(humMin, math.Min(humMax, humidity))
	return round1(tempC), round1(humidity)
}

// ApplyIrrigation reflects pump time in the simulated moisture level.
func (s *Simulated) ApplyIrrigation(d time.Duration) {
	if s == nil || d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seedLocked(s.now())
	s.level = clampPct(s.level + gainPerMin*d.Minutes())
}

// Level exposes the noiseless moisture level.
func (s *Simulated) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

func (s *Simulated) Close() error { return nil }

func (s *Simulated) seedLocked(now time.Time) {
	if s.seeded {
		return
	}
	s.level = seedMin + s.rng.Float64()*(seedMax-seedMin)
	s.last = now
	s.seeded = true
}

// ===== Helpers =====

func clampPct(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 100 {
		return 100
	}
	return x
}

func round1(x float64) float64 { return math.Round(x*10) / 10 }
