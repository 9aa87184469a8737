// Package policy decides locally whether to irrigate when the backend gave no verdict.
// Every function here is pure; the agent loop owns the session it reads.
package policy

import (
	"time"

	"github.com/LeonardoBeccarini/irrigation_agent/internal/config"
	"github.com/LeonardoBeccarini/irrigation_agent/internal/model/entities"
)

// OfflineMargin is subtracted from the threshold after a prolonged outage.
const OfflineMargin = 5.0

// Reasons attached to a Decision, also used as log and metric labels.
const (
	ReasonDailyLimit = "daily limit"
	ReasonCooldown   = "cooldown"
	ReasonSufficient = "moisture sufficient"
	ReasonStreak     = "dry streak building"
	ReasonDry        = "dry streak reached"
)

// Params is the subset of the configuration the policy reads.
type Params struct {
	Threshold   float64       // moisture %, strict less-than means dry
	DryRequired int           // consecutive dry readings before irrigating
	MaxPerDay   int           // irrigations allowed per local day
	MinInterval time.Duration // cooldown between irrigations
	MaxOffline  time.Duration // silence after which the margin applies
}

func ParamsFrom(cfg *config.Config) Params {
	return Params{
		Threshold:   cfg.MoistureThreshold,
		DryRequired: cfg.OfflineMode.ConsecutiveDryReadings,
		MaxPerDay:   cfg.Safety.MaxIrrigationPerDay,
		MinInterval: cfg.MinInterval(),
		MaxOffline:  cfg.MaxOffline(),
	}
}

// Decision is a verdict plus the reason it was reached.
type Decision struct {
	Verdict   entities.Verdict
	Reason    string
	Threshold float64 // effective threshold used
}

// EffectiveThreshold lowers the threshold by OfflineMargin once the backend has
// been silent for longer than MaxOffline.
func EffectiveThreshold(p Params, s entities.Session, now time.Time) float64 {
	if s.OfflineFor(now) > p.MaxOffline {
		return p.Threshold - OfflineMargin
	}
	return p.Threshold
}

// NextDryStreak is the streak after observing moisture.
func NextDryStreak(streak int, moisture, threshold float64) int {
	if moisture < threshold {
		return streak + 1
	}
	return 0
}

// SafetyGate returns the reason irrigation is blocked at now, if any.
// It applies to remote and local verdicts alike.
func SafetyGate(p Params, s entities.Session, now time.Time) (string, bool) {
	if s.IrrigationsToday >= p.MaxPerDay {
		return ReasonDailyLimit, true
	}
	if s.HasIrrigated() && now.Sub(s.LastIrrigation) < p.MinInterval {
		return ReasonCooldown, true
	}
	return "", false
}

// Evaluate expects s.DryStreak to already include r.
func Evaluate(r entities.Reading, s entities.Session, p Params) Decision {
	now := r.Timestamp
	th := EffectiveThreshold(p, s, now)

	if reason, blocked := SafetyGate(p, s, now); blocked {
		return Decision{Verdict: entities.VerdictSkip, Reason: reason, Threshold: th}
	}
	if r.Moisture >= th {
		return Decision{Verdict: entities.VerdictSkip, Reason: ReasonSufficient, Threshold: th}
	}
	if s.DryStreak >= p.DryRequired {
		return Decision{Verdict: entities.VerdictIrrigate, Reason: ReasonDry, Threshold: th}
	}
	return Decision{Verdict: entities.VerdictSkip, Reason: ReasonStreak, Threshold: th}
}
