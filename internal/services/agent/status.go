package agent

import (
	"time"

	"github.com/LeonardoBeccarini/irrigation_agent/internal/model"
)

// State of the control loop.
type State int32

const (
	StateSampling State = iota
	StateDeciding
	StateActuating
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateSampling:
		return "sampling"
	case StateDeciding:
		return "deciding"
	case StateActuating:
		return "actuating"
	case StateShuttingDown:
		return "shutting_down"
	}
	return "unknown"
}

// Status is the read-only view served by the HTTP and gRPC endpoints.
type Status struct {
	FieldID           string     `json:"field_id"`
	State             string     `json:"state"`
	StartedAt         time.Time  `json:"started_at"`
	Cycles            uint64     `json:"cycles"`
	LastCycleAt       *time.Time `json:"last_cycle_at,omitempty"`
	Moisture          *float64   `json:"moisture,omitempty"`
	TemperatureC      *float64   `json:"temperature_c,omitempty"`
	Humidity          *float64   `json:"humidity,omitempty"`
	Simulated         bool       `json:"simulated"`
	Verdict           string     `json:"verdict"`
	Source            string     `json:"source"`
	Reason            string     `json:"reason,omitempty"`
	Relay             string     `json:"relay"`
	DryStreak         int        `json:"dry_streak"`
	IrrigationsToday  int        `json:"irrigations_today"`
	LastIrrigation    *time.Time `json:"last_irrigation,omitempty"`
	LastRemoteContact time.Time  `json:"last_remote_contact"`
}

func (a *Agent) storeStatus(out *CycleOutcome) {
	prev := a.status.Load()
	st := *prev
	st.Cycles++
	ts := out.Reading.Timestamp
	st.LastCycleAt = &ts
	m := out.Reading.Moisture
	st.Moisture = &m
	st.TemperatureC = out.Reading.TemperatureC
	st.Humidity = out.Reading.Humidity
	st.Simulated = out.Reading.Simulated
	st.Verdict = out.Verdict.String()
	st.Source = string(out.Source)
	st.Reason = out.Reason
	st.Relay = string(out.Relay)
	st.DryStreak = a.session.DryStreak
	st.IrrigationsToday = a.session.IrrigationsToday
	if a.session.HasIrrigated() {
		li := a.session.LastIrrigation
		st.LastIrrigation = &li
	}
	st.LastRemoteContact = a.session.LastRemoteContact
	a.status.Store(&st)
}

// Snapshot is safe to call from any goroutine.
func (a *Agent) Snapshot() Status {
	st := *a.status.Load()
	st.State = a.State().String()
	return st
}

func initialStatus(zone model.Zone, started time.Time) *Status {
	return &Status{
		FieldID:           zone.ID,
		StartedAt:         started,
		Verdict:           model.VerdictUnknown.String(),
		Source:            string(SourceNone),
		Relay:             string(model.RelayOff),
		LastRemoteContact: started,
	}
}
