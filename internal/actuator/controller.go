// Package actuator owns the pump relay. Only the Controller writes to it.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrRelayWrite wraps every failed write to the relay output.
var ErrRelayWrite = errors.New("relay write failed")

// StuckRelayError means the relay could not be switched off after being on.
// It is not recoverable: the caller must stop its normal cadence.
type StuckRelayError struct {
	Since time.Time
	Err   error
}

func (e *StuckRelayError) Error() string {
	return fmt.Sprintf("relay stuck on since %s: %v", e.Since.Format(time.RFC3339), e.Err)
}

func (e *StuckRelayError) Unwrap() error { return e.Err }

// Pulse outcome, mirrored on the irrigationResult topic.
const (
	StatusOK   = "OK"
	StatusFail = "FAIL"

	ReasonDone         = "done"
	ReasonTurnOnFailed = "turn_on_failed"
	ReasonStuckOn      = "stuck_on"
	ReasonInterrupted  = "interrupted"
)

// PulseResult describes one timed actuation.
type PulseResult struct {
	TicketID  string
	StartedAt time.Time
	Planned   time.Duration
	Elapsed   time.Duration
	Status    string
	Reason    string
}

// Controller serializes relay writes and tracks the confirmed relay state.
type Controller struct {
	mu     sync.Mutex
	relay  Relay
	on     bool
	onAt   time.Time
	closed bool

	logger *zap.Logger
	sleep  func(time.Duration)
	now    func() time.Time
	hooks  []func(PulseResult)

	stopAttempts uint
	stopDelay    time.Duration
}

type Option func(*Controller)

// WithSleeper replaces time.Sleep for the pulse hold.
func WithSleeper(sleep func(time.Duration)) Option { return func(c *Controller) { c.sleep = sleep } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// WithPulseHook registers a callback run after every pulse, successful or not.
func WithPulseHook(fn func(PulseResult)) Option {
	return func(c *Controller) {
		if fn != nil {
			c.hooks = append(c.hooks, fn)
		}
	}
}

// WithEmergencyRetry tunes EmergencyStop.
func WithEmergencyRetry(attempts uint, delay time.Duration) Option {
	return func(c *Controller) {
		if attempts > 0 {
			c.stopAttempts = attempts
		}
		if delay >= 0 {
			c.stopDelay = delay
		}
	}
}

func NewController(relay Relay, logger *zap.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		relay:        relay,
		logger:       logger.Named("actuator"),
		sleep:        time.Sleep,
		now:          time.Now,
		stopAttempts: 5,
		stopDelay:    200 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// IsOn reports the last confirmed relay state.
func (c *Controller) IsOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.on
}

// TurnOn is a no-op when the relay is already on.
func (c *Controller) TurnOn() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: controller closed", ErrRelayWrite)
	}
	if c.on {
		return nil
	}
	if err := c.relay.Set(true); err != nil {
		return fmt.Errorf("%w: on: %w", ErrRelayWrite, err)
	}
	c.on = true
	c.onAt = c.now()
	c.logger.Info("relay on")
	return nil
}

// TurnOff is a no-op when the relay is already off.
func (c *Controller) TurnOff() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turnOffLocked()
}

func (c *Controller) turnOffLocked() error {
	if !c.on {
		return nil
	}
	if err := c.relay.Set(false); err != nil {
		return fmt.Errorf("%w: off: %w", ErrRelayWrite, err)
	}
	c.on = false
	c.logger.Info("relay off", zap.Duration("on_for", c.now().Sub(c.onAt)))
	return nil
}

// Pulse holds the relay on for d. A failed turn-on is returned as is and leaves
// the relay off; a failed turn-off is returned as *StuckRelayError. The relay
// is switched off even if the hold panics.
func (c *Controller) Pulse(d time.Duration) (res PulseResult, err error) {
	res = PulseResult{
		TicketID:  uuid.NewString(),
		StartedAt: c.now(),
		Planned:   d,
		Status:    StatusFail,
		Reason:    ReasonTurnOnFailed,
	}
	if err := c.TurnOn(); err != nil {
		c.logger.Error("pulse did not start", zap.String("ticket", res.TicketID), zap.Error(err))
		c.emit(res)
		return res, err
	}
	res.Reason = ReasonInterrupted

	defer func() {
		res.Elapsed = c.now().Sub(res.StartedAt)
		if offErr := c.TurnOff(); offErr != nil {
			res.Status, res.Reason = StatusFail, ReasonStuckOn
			err = &StuckRelayError{Since: res.StartedAt, Err: offErr}
		}
		c.emit(res)
	}()

	c.sleep(d)
	res.Status, res.Reason = StatusOK, ReasonDone
	return res, nil
}

// EmergencyStop retries the off write until it is confirmed or attempts run out.
// Unlike TurnOff it always writes, whatever the tracked state.
func (c *Controller) EmergencyStop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(c.stopAttempts),
		retry.Delay(c.stopDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	err := r.Do(func() error {
		if err := c.relay.Set(false); err != nil {
			c.logger.Warn("emergency off failed", zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: emergency off: %w", ErrRelayWrite, err)
	}
	c.on = false
	return nil
}

// Close drives the relay off (best effort) and releases it. Safe to call twice.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var offErr error
	if c.on {
		offErr = c.turnOffLocked()
	} else {
		// the tracked state may be stale after an abnormal exit
		if err := c.relay.Set(false); err != nil {
			offErr = fmt.Errorf("%w: off: %w", ErrRelayWrite, err)
		}
	}
	return errors.Join(offErr, c.relay.Close())
}

func (c *Controller) emit(res PulseResult) {
	for _, h := range c.hooks {
		h(res)
	}
}
