package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/LeonardoBeccarini/irrigation_agent/internal/model/entities"
)

var errOutOfRange = errors.New("value out of plausible range")

// HardwareBacked reads real probes with a bounded retry and degrades each
// quantity independently to the simulator when the probe keeps failing.
type HardwareBacked struct {
	zoneID   string
	moisture MoistureProbe
	climate  ClimateProbe // optional
	fallback *Simulated
	attempts int
	delay    time.Duration
	logger   *zap.Logger
	now      func() time.Time
	warnings rate.Sometimes
}

// HardwareOption customizes a HardwareBacked source.
type HardwareOption func(*HardwareBacked)

// WithRetry sets the number of attempts per probe and the pause between them.
func WithRetry(attempts int, delay time.Duration) HardwareOption {
	return func(h *HardwareBacked) {
		if attempts > 0 {
			h.attempts = attempts
		}
		if delay >= 0 {
			h.delay = delay
		}
	}
}

// WithClock replaces time.Now for reading timestamps.
func WithClock(now func() time.Time) HardwareOption { return func(h *HardwareBacked) { h.now = now } }

// NewHardwareBacked wires the probes. climate may be nil.
func NewHardwareBacked(zoneID string, moisture MoistureProbe, climate ClimateProbe, fallback *Simulated, logger *zap.Logger, opts ...HardwareOption) *HardwareBacked {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fallback == nil {
		fallback = NewSimulated(zoneID)
	}
	h := &HardwareBacked{
		zoneID:   zoneID,
		moisture: moisture,
		climate:  climate,
		fallback: fallback,
		attempts: 3,
		delay:    500 * time.Millisecond,
		logger:   logger.Named("sensor"),
		now:      time.Now,
		warnings: rate.Sometimes{First: 1, Interval: 10 * time.Minute},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Read never fails; see package doc.
func (h *HardwareBacked) Read(ctx context.Context) entities.Reading {
	ts := h.now()
	simulated := false

	moisture, err := h.readMoisture(ctx)
	if err != nil {
		h.degraded("moisture", err)
		moisture = h.fallback.SimulateMoisture()
		simulated = true
	}

	var tempPtr, humPtr *float64
	if h.climate != nil {
		t, hu, err := h.readClimate(ctx)
		if err != nil {
			h.degraded("climate", err)
			t, hu = h.fallback.SimulateClimate()
			simulated = true
		}
		tempPtr, humPtr = &t, &hu
	}

	return entities.NewReading(ts, h.zoneID, moisture, tempPtr, humPtr, simulated)
}

// Fallback is the simulator used when probes fail.
func (h *HardwareBacked) Fallback() *Simulated { return h.fallback }

// Close releases the probes.
func (h *HardwareBacked) Close() error {
	var errs []error
	if h.moisture != nil {
		if err := h.moisture.Close(); err != nil {
			errs = append(errs, fmt.Errorf("moisture probe: %w", err))
		}
	}
	if h.climate != nil {
		if err := h.climate.Close(); err != nil {
			errs = append(errs, fmt.Errorf("climate probe: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (h *HardwareBacked) readMoisture(ctx context.Context) (float64, error) {
	if h.moisture == nil {
		return 0, errors.New("no moisture probe")
	}
	var out float64
	err := h.retry(ctx, func() error {
		m, err := h.moisture.ReadMoisture()
		if err != nil {
			return err
		}
		if !entities.ValidMoisture(m) {
			return fmt.Errorf("moisture %.1f: %w", m, errOutOfRange)
		}
		out = m
		return nil
	})
	return out, err
}

func (h *HardwareBacked) readClimate(ctx context.Context) (float64, float64, error) {
	var t, hu float64
	err := h.retry(ctx, func() error {
		tt, hh, err := h.climate.ReadClimate()
		if err != nil {
			return err
		}
		if !entities.ValidTemperature(tt) || !entities.ValidHumidity(hh) {
			return fmt.Errorf("temp %.1f rh %.1f: %w", tt, hh, errOutOfRange)
		}
		t, hu = tt, hh
		return nil
	})
	return t, hu, err
}

func (h *HardwareBacked) retry(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(h.delay), uint64(h.attempts-1)),
		ctx,
	)
	return backoff.Retry(op, bo)
}

func (h *HardwareBacked) degraded(probe string, err error) {
	h.warnings.Do(func() {
		h.logger.Warn("probe failed, using simulated value",
			zap.String("probe", probe), zap.Int("attempts", h.attempts), zap.Error(err))
	})
}
