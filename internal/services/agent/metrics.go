package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LeonardoBeccarini/irrigation_agent/internal/actuator"
	"github.com/LeonardoBeccarini/irrigation_agent/internal/model"
)

type Metrics struct {
	// Traffic: cicli completati per verdetto e sorgente
	Cycles *prometheus.CounterVec

	// Latency: durata del ciclo (lettura, backend, eventuale pulse)
	CycleDuration prometheus.Histogram

	Irrigations   prometheus.Counter
	PulseFailures *prometheus.CounterVec

	RemoteUnavailable prometheus.Counter
	SimulatedReadings prometheus.Counter

	Moisture  prometheus.Gauge
	DryStreak prometheus.Gauge
	RelayOn   prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object: senza registry usiamo un registry locale non esposto
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigation_agent_cycles_total",
			Help: "Completed control cycles by verdict and verdict source.",
		}, []string{"verdict", "source"}),

		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "irrigation_agent_cycle_duration_seconds",
			Help:    "Wall time of one control cycle, pulse included.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}),

		Irrigations: f.NewCounter(prometheus.CounterOpts{
			Name: "irrigation_agent_irrigations_total",
			Help: "Completed irrigation pulses.",
		}),

		PulseFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigation_agent_pulse_failures_total",
			Help: "Pulses that failed, by reason.",
		}, []string{"reason"}), // turn_on_failed, stuck_on

		RemoteUnavailable: f.NewCounter(prometheus.CounterOpts{
			Name: "irrigation_agent_remote_unavailable_total",
			Help: "Cycles decided locally because the backend gave no verdict.",
		}),

		SimulatedReadings: f.NewCounter(prometheus.CounterOpts{
			Name: "irrigation_agent_simulated_readings_total",
			Help: "Readings where at least one value was simulated.",
		}),

		Moisture: f.NewGauge(prometheus.GaugeOpts{
			Name: "irrigation_agent_soil_moisture_percent",
			Help: "Last soil moisture reading.",
		}),

		DryStreak: f.NewGauge(prometheus.GaugeOpts{
			Name: "irrigation_agent_dry_streak",
			Help: "Consecutive offline readings below the threshold.",
		}),

		RelayOn: f.NewGauge(prometheus.GaugeOpts{
			Name: "irrigation_agent_relay_on",
			Help: "Relay state after the last cycle (1=on).",
		}),
	}
}

func (m *Metrics) observe(out CycleOutcome) {
	m.Cycles.WithLabelValues(out.Verdict.String(), string(out.Source)).Inc()
	m.CycleDuration.Observe(out.Duration.Seconds())
	m.Moisture.Set(out.Reading.Moisture)
	m.DryStreak.Set(float64(out.DryStreak))
	if out.Relay == model.RelayOn {
		m.RelayOn.Set(1)
	} else {
		m.RelayOn.Set(0)
	}
	if out.Reading.Simulated {
		m.SimulatedReadings.Inc()
	}
	if out.Irrigated {
		m.Irrigations.Inc()
	}
	if out.Pulse != nil && out.Pulse.Status != actuator.StatusOK {
		m.PulseFailures.WithLabelValues(out.Pulse.Reason).Inc()
	}
}
