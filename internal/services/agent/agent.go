// Package agent runs the control loop of one irrigation zone: sample, decide,
// actuate, sleep. The loop is the only writer of the session.
package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/LeonardoBeccarini/irrigation_agent/internal/actuator"
	"github.com/LeonardoBeccarini/irrigation_agent/internal/config"
	"github.com/LeonardoBeccarini/irrigation_agent/internal/model"
	"github.com/LeonardoBeccarini/irrigation_agent/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_agent/internal/policy"
	"github.com/LeonardoBeccarini/irrigation_agent/internal/sensor"
	"github.com/LeonardoBeccarini/irrigation_agent/internal/telemetry"
)

// Actuator is the part of the relay controller the loop drives.
type Actuator interface {
	IsOn() bool
	TurnOff() error
	Pulse(d time.Duration) (actuator.PulseResult, error)
	EmergencyStop(ctx context.Context) error
	Close() error
}

// Advisor returns the backend verdict for a reading, if there is one.
type Advisor interface {
	Advise(ctx context.Context, r model.Reading) (model.Verdict, bool)
}

// VerdictSource tells where a cycle's verdict came from.
type VerdictSource string

const (
	SourceRemote VerdictSource = "remote"
	SourceLocal  VerdictSource = "local"
	SourceNone   VerdictSource = "none"
)

const (
	reasonRemote       = "remote verdict"
	reasonShutdown     = "shutting down"
	reasonTurnOnFailed = "turn-on failed"
	reasonStuck        = "relay stuck on"

	emergencyStopBudget = 10 * time.Second
)

// CycleOutcome is what one cycle observed, decided and did.
type CycleOutcome struct {
	Reading          model.Reading
	Verdict          model.Verdict
	Source           VerdictSource
	Reason           string
	Threshold        float64 // effective threshold, 0 for remote verdicts
	Irrigated        bool
	Pulse            *actuator.PulseResult
	Relay            model.RelayState
	DryStreak        int
	IrrigationsToday int
	Duration         time.Duration
	Fatal            error // *actuator.StuckRelayError
}

type Agent struct {
	cfg    *config.Config
	zone   model.Zone
	params policy.Params

	source  sensor.Source
	act     Actuator
	advisor Advisor
	sink    telemetry.Sink
	metrics *Metrics
	logger  *zap.Logger

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) bool

	session   model.Session
	state     atomic.Int32
	status    atomic.Pointer[Status]
	listeners []func(State)
	sinkWarn  rate.Sometimes
}

type Option func(*Agent)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(a *Agent) { a.now = now } }

// WithWait replaces the interruptible pause between cycles. fn returns false
// when ctx was cancelled.
func WithWait(fn func(ctx context.Context, d time.Duration) bool) Option {
	return func(a *Agent) { a.wait = fn }
}

func WithSink(s telemetry.Sink) Option {
	return func(a *Agent) {
		if s != nil {
			a.sink = s
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(a *Agent) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithStateListener is called synchronously on every state transition.
func WithStateListener(fn func(State)) Option {
	return func(a *Agent) {
		if fn != nil {
			a.listeners = append(a.listeners, fn)
		}
	}
}

// New wires the loop. advisor may be nil: every cycle is then decided locally.
func New(cfg *config.Config, source sensor.Source, act Actuator, advisor Advisor, logger *zap.Logger, opts ...Option) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Agent{
		cfg:      cfg,
		zone:     cfg.Zone(),
		params:   policy.ParamsFrom(cfg),
		source:   source,
		act:      act,
		advisor:  advisor,
		sink:     telemetry.Nop{},
		logger:   logger.Named("agent"),
		now:      time.Now,
		wait:     sleepCtx,
		sinkWarn: rate.Sometimes{First: 1, Interval: 10 * time.Minute},
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = NewMetrics(nil)
	}

	started := a.now()
	// il backend si considera raggiungibile all'avvio: il margine offline parte da qui
	a.session = model.Session{LastRemoteContact: started, Relay: model.RelayOff}
	a.status.Store(initialStatus(a.zone, started))
	return a
}

// State is safe to call from any goroutine.
func (a *Agent) State() State { return State(a.state.Load()) }

func (a *Agent) setState(s State) {
	if State(a.state.Swap(int32(s))) == s {
		return
	}
	for _, fn := range a.listeners {
		fn(s)
	}
}

// Run cycles until ctx is cancelled or the relay gets stuck on. It returns nil
// on a graceful stop and the *actuator.StuckRelayError otherwise. The relay is
// driven off and the hardware released on every exit path.
func (a *Agent) Run(ctx context.Context) error {
	defer a.release()

	interval := a.cfg.SamplingInterval()
	a.logger.Info("agent started",
		zap.String("zone", a.zone.ID),
		zap.Duration("interval", interval),
		zap.Float64("threshold", a.params.Threshold),
		zap.Int("dry_required", a.params.DryRequired),
		zap.Int("max_per_day", a.params.MaxPerDay))

	for ctx.Err() == nil {
		out := a.RunCycle(ctx)
		if out.Fatal != nil {
			a.escalate(out.Fatal)
			return out.Fatal
		}

		// la durata del ciclo si sottrae all'intervallo: niente deriva
		pause := interval - out.Duration
		if pause < 0 {
			pause = 0
		}
		if !a.wait(ctx, pause) {
			break
		}
	}

	a.setState(StateShuttingDown)
	a.logger.Info("agent stopping", zap.String("zone", a.zone.ID))
	return nil
}

// RunCycle performs exactly one sample-decide-actuate pass.
func (a *Agent) RunCycle(ctx context.Context) CycleOutcome {
	start := a.now()
	a.setState(StateSampling)
	a.rollover(start)

	out := CycleOutcome{Source: SourceNone, Verdict: model.VerdictUnknown}
	out.Reading = a.source.Read(ctx)

	if ctx.Err() != nil {
		out.Reason = reasonShutdown
		a.ensureOff(&out)
	} else {
		a.setState(StateDeciding)
		a.decide(ctx, &out)

		if out.Verdict == model.VerdictIrrigate {
			a.irrigate(ctx, &out)
		} else {
			a.ensureOff(&out)
		}
	}

	out.Relay = entities.RelayStateOf(a.act.IsOn())
	a.session.Relay = out.Relay
	out.DryStreak = a.session.DryStreak
	out.IrrigationsToday = a.session.IrrigationsToday
	out.Duration = a.now().Sub(start)

	a.logCycle(out)
	a.metrics.observe(out)
	a.publishDecision(ctx, out)
	a.storeStatus(&out)
	if out.Fatal != nil {
		a.setState(StateShuttingDown)
	} else {
		a.setState(StateSampling)
	}
	return out
}

// ===================== decisione =====================

func (a *Agent) decide(ctx context.Context, out *CycleOutcome) {
	r := out.Reading

	if a.advisor != nil {
		if v, ok := a.advisor.Advise(ctx, r); ok {
			a.session.LastRemoteContact = a.now()
			out.Source, out.Verdict, out.Reason = SourceRemote, v, reasonRemote
			// il backend decide da solo, ma una lettura umida interrompe comunque la serie
			if r.Moisture >= a.params.Threshold {
				a.session.DryStreak = 0
			}
			return
		}
	}
	a.metrics.RemoteUnavailable.Inc()

	th := policy.EffectiveThreshold(a.params, a.session, r.Timestamp)
	a.session.DryStreak = policy.NextDryStreak(a.session.DryStreak, r.Moisture, th)
	d := policy.Evaluate(r, a.session, a.params)
	out.Source, out.Verdict, out.Reason, out.Threshold = SourceLocal, d.Verdict, d.Reason, d.Threshold
}

// ===================== attuazione =====================

func (a *Agent) irrigate(ctx context.Context, out *CycleOutcome) {
	// nessun nuovo pulse dopo la richiesta di stop; un pulse in corso invece termina sempre
	if ctx.Err() != nil {
		out.Reason = reasonShutdown
		a.ensureOff(out)
		return
	}

	a.setState(StateActuating)
	run := a.cfg.MinIrrigationRun()
	res, err := a.act.Pulse(run)
	out.Pulse = &res
	a.publishPulse(ctx, res)

	var stuck *actuator.StuckRelayError
	switch {
	case err == nil:
		out.Irrigated = true
		a.session.LastIrrigation = res.StartedAt
		a.session.IrrigationsToday++
		a.session.DryStreak = 0
	case errors.As(err, &stuck):
		out.Reason = reasonStuck
		out.Fatal = stuck
	default:
		a.logger.Error("irrigation did not start", zap.String("ticket", res.TicketID), zap.Error(err))
		out.Reason = reasonTurnOnFailed
	}
}

// ensureOff makes sure nothing runs outside a pulse. An off write that fails
// while the relay is on is as fatal as a failed pulse turn-off.
func (a *Agent) ensureOff(out *CycleOutcome) {
	if !a.act.IsOn() {
		return
	}
	if err := a.act.TurnOff(); err != nil {
		out.Reason = reasonStuck
		out.Fatal = &actuator.StuckRelayError{Since: a.now(), Err: err}
	}
}

func (a *Agent) escalate(fatal error) {
	a.logger.Error("STUCK RELAY: pump may be running unmetered, stopping the control loop",
		zap.String("zone", a.zone.ID), zap.Error(fatal))

	ctx, cancel := context.WithTimeout(context.Background(), emergencyStopBudget)
	defer cancel()
	if err := a.act.EmergencyStop(ctx); err != nil {
		a.logger.Error("STUCK RELAY: emergency stop failed, cut power to the pump manually",
			zap.String("zone", a.zone.ID), zap.Error(err))
		return
	}
	a.logger.Warn("relay forced off by emergency stop", zap.String("zone", a.zone.ID))
}

func (a *Agent) release() {
	if err := a.act.Close(); err != nil {
		a.logger.Error("actuator release failed", zap.Error(err))
	}
	if err := a.source.Close(); err != nil {
		a.logger.Warn("sensor release failed", zap.Error(err))
	}
	if err := a.sink.Close(); err != nil {
		a.logger.Warn("telemetry close failed", zap.Error(err))
	}
}

// ===================== sessione =====================

// rollover resets the daily count once the local day of the last irrigation is over.
func (a *Agent) rollover(now time.Time) {
	if !a.session.HasIrrigated() || a.session.IrrigationsToday == 0 {
		return
	}
	tz := a.cfg.TZ()
	if midnightLocal(now, tz).After(midnightLocal(a.session.LastIrrigation, tz)) {
		a.logger.Info("new day, daily irrigation count reset",
			zap.Int("previous", a.session.IrrigationsToday))
		a.session.IrrigationsToday = 0
	}
}

func midnightLocal(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// ===================== osservabilità =====================

func (a *Agent) logCycle(out CycleOutcome) {
	fields := []zap.Field{
		zap.String("zone", a.zone.ID),
		zap.Float64("moisture", out.Reading.Moisture),
		zap.Bool("simulated", out.Reading.Simulated),
		zap.String("verdict", out.Verdict.String()),
		zap.String("source", string(out.Source)),
		zap.String("reason", out.Reason),
		zap.String("relay", string(out.Relay)),
		zap.Int("dry_streak", out.DryStreak),
		zap.Int("irrigations_today", out.IrrigationsToday),
		zap.Int64("cycle_ms", out.Duration.Milliseconds()),
	}
	if t, ok := out.Reading.Temperature(); ok {
		fields = append(fields, zap.Float64("temperature_c", t))
	}
	if h, ok := out.Reading.RelativeHumidity(); ok {
		fields = append(fields, zap.Float64("humidity", h))
	}
	if out.Source == SourceLocal {
		fields = append(fields, zap.Float64("threshold", out.Threshold))
	}
	if out.Pulse != nil {
		fields = append(fields, zap.String("ticket", out.Pulse.TicketID))
	}
	a.logger.Info("cycle", fields...)
}

func (a *Agent) publishDecision(ctx context.Context, out CycleOutcome) {
	a.sinkErr(a.sink.Decision(ctx, model.DecisionEvent{
		FieldID:          a.zone.ID,
		Verdict:          out.Verdict.String(),
		Source:           string(out.Source),
		Reason:           out.Reason,
		Moisture:         out.Reading.Moisture,
		Threshold:        out.Threshold,
		DryStreak:        out.DryStreak,
		IrrigationsToday: out.IrrigationsToday,
		Timestamp:        out.Reading.Timestamp,
	}))
}

// publishPulse reports the relay transitions of one pulse and its result.
func (a *Agent) publishPulse(ctx context.Context, res actuator.PulseResult) {
	if res.Reason != actuator.ReasonTurnOnFailed {
		a.sinkErr(a.sink.StateChange(ctx, model.StateChangeEvent{
			FieldID:   a.zone.ID,
			NewState:  model.RelayOn,
			Duration:  res.Planned,
			Timestamp: res.StartedAt,
		}))
		if !a.act.IsOn() {
			a.sinkErr(a.sink.StateChange(ctx, model.StateChangeEvent{
				FieldID:   a.zone.ID,
				NewState:  model.RelayOff,
				Timestamp: res.StartedAt.Add(res.Elapsed),
			}))
		}
	}
	a.sinkErr(a.sink.Result(ctx, model.ResultEvent{
		FieldID:   a.zone.ID,
		TicketID:  res.TicketID,
		Status:    res.Status,
		Duration:  res.Elapsed,
		Reason:    res.Reason,
		StartedAt: res.StartedAt,
		Timestamp: a.now(),
	}))
}

func (a *Agent) sinkErr(err error) {
	if err == nil {
		return
	}
	a.sinkWarn.Do(func() {
		a.logger.Warn("telemetry publish failed", zap.Error(err))
	})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
