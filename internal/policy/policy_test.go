package policy

import (
	"testing"
	"time"

	"github.com/LeonardoBeccarini/irrigation_agent/internal/config"
	"github.com/LeonardoBeccarini/irrigation_agent/internal/model/entities"
)

var t0 = time.Date(2024, 7, 10, 9, 0, 0, 0, time.UTC)

func params() Params {
	return Params{
		Threshold:   35,
		DryRequired: 2,
		MaxPerDay:   4,
		MinInterval: time.Hour,
		MaxOffline:  12 * time.Hour,
	}
}

func reading(ts time.Time, m float64) entities.Reading {
	return entities.NewReading(ts, "z1", m, nil, nil, false)
}

// step mimics the loop: update the streak, then evaluate.
func step(p Params, s *entities.Session, r entities.Reading) Decision {
	s.DryStreak = NextDryStreak(s.DryStreak, r.Moisture, EffectiveThreshold(p, *s, r.Timestamp))
	return Evaluate(r, *s, p)
}

func TestDryStreakTriggersIrrigation(t *testing.T) {
	p := params()
	s := entities.Session{LastRemoteContact: t0}
	want := []entities.Verdict{entities.VerdictSkip, entities.VerdictSkip, entities.VerdictIrrigate}
	for i, m := range []float64{40, 30, 30} {
		d := step(p, &s, reading(t0.Add(time.Duration(i)*time.Minute), m))
		if d.Verdict != want[i] {
			t.Errorf("cycle %d (moisture %.0f): got %s (%s), want %s", i, m, d.Verdict, d.Reason, want[i])
		}
	}
}

func TestDailyLimitBlocksDryField(t *testing.T) {
	p := params()
	p.MaxPerDay = 1
	s := entities.Session{
		DryStreak:         10,
		IrrigationsToday:  1,
		LastIrrigation:    t0.Add(-5 * time.Hour),
		LastRemoteContact: t0,
	}
	d := Evaluate(reading(t0, 10), s, p)
	if d.Verdict != entities.VerdictSkip || d.Reason != ReasonDailyLimit {
		t.Errorf("got %s (%s), want SKIP (daily limit)", d.Verdict, d.Reason)
	}
}

func TestZeroDailyBudgetNeverIrrigates(t *testing.T) {
	p := params()
	p.MaxPerDay = 0
	d := Evaluate(reading(t0, 5), entities.Session{DryStreak: 5}, p)
	if d.Verdict != entities.VerdictSkip || d.Reason != ReasonDailyLimit {
		t.Errorf("got %s (%s)", d.Verdict, d.Reason)
	}
}

func TestCooldown(t *testing.T) {
	p := params()
	tests := []struct {
		name  string
		since time.Duration
		want  entities.Verdict
	}{
		{"inside cooldown", 59 * time.Minute, entities.VerdictSkip},
		{"exactly at cooldown", time.Hour, entities.VerdictIrrigate},
		{"after cooldown", 2 * time.Hour, entities.VerdictIrrigate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := entities.Session{DryStreak: 3, IrrigationsToday: 1, LastIrrigation: t0.Add(-tt.since)}
			d := Evaluate(reading(t0, 20), s, p)
			if d.Verdict != tt.want {
				t.Errorf("got %s (%s), want %s", d.Verdict, d.Reason, tt.want)
			}
			if tt.want == entities.VerdictSkip && d.Reason != ReasonCooldown {
				t.Errorf("reason = %q", d.Reason)
			}
		})
	}
}

func TestMoistureAtOrAboveThresholdNeverIrrigates(t *testing.T) {
	for _, required := range []int{0, 1, 3} {
		p := params()
		p.DryRequired = required
		for m := 35.0; m <= 100; m += 0.5 {
			for _, streak := range []int{0, 1, 5, 100} {
				d := Evaluate(reading(t0, m), entities.Session{DryStreak: streak}, p)
				if d.Verdict == entities.VerdictIrrigate {
					t.Fatalf("moisture %.1f streak %d required %d: irrigated", m, streak, required)
				}
			}
		}
	}
}

func TestDailyLimitAlwaysSkips(t *testing.T) {
	p := params()
	for _, m := range []float64{0, 10, 34.9} {
		s := entities.Session{DryStreak: 99, IrrigationsToday: p.MaxPerDay}
		if d := Evaluate(reading(t0, m), s, p); d.Verdict != entities.VerdictSkip {
			t.Errorf("moisture %.1f: got %s", m, d.Verdict)
		}
	}
}

func TestNextDryStreak(t *testing.T) {
	tests := []struct {
		streak   int
		moisture float64
		want     int
	}{
		{0, 34.9, 1},
		{2, 10, 3},
		{2, 35, 0}, // equal is sufficient
		{5, 80, 0},
	}
	for _, tt := range tests {
		if got := NextDryStreak(tt.streak, tt.moisture, 35); got != tt.want {
			t.Errorf("NextDryStreak(%d, %.1f) = %d, want %d", tt.streak, tt.moisture, got, tt.want)
		}
	}
}

func TestOfflineMargin(t *testing.T) {
	p := params()

	t.Run("recent contact keeps threshold", func(t *testing.T) {
		s := entities.Session{LastRemoteContact: t0.Add(-time.Hour)}
		if th := EffectiveThreshold(p, s, t0); th != 35 {
			t.Errorf("threshold = %.1f", th)
		}
	})

	t.Run("exactly max offline keeps threshold", func(t *testing.T) {
		s := entities.Session{LastRemoteContact: t0.Add(-12 * time.Hour)}
		if th := EffectiveThreshold(p, s, t0); th != 35 {
			t.Errorf("threshold = %.1f", th)
		}
	})

	t.Run("prolonged outage lowers threshold", func(t *testing.T) {
		s := entities.Session{LastRemoteContact: t0.Add(-13 * time.Hour), DryStreak: 5}
		if th := EffectiveThreshold(p, s, t0); th != 30 {
			t.Errorf("threshold = %.1f, want 30", th)
		}
		// 32 would irrigate online but not after a long outage
		d := Evaluate(reading(t0, 32), s, p)
		if d.Verdict != entities.VerdictSkip || d.Threshold != 30 {
			t.Errorf("got %s at threshold %.1f", d.Verdict, d.Threshold)
		}
		d = Evaluate(reading(t0, 29), s, p)
		if d.Verdict != entities.VerdictIrrigate {
			t.Errorf("moisture 29 with streak: got %s (%s)", d.Verdict, d.Reason)
		}
	})
}

func TestParamsFrom(t *testing.T) {
	cfg, err := config.Default()
	if err != nil {
		t.Fatal(err)
	}
	p := ParamsFrom(cfg)
	if p.Threshold != 35 || p.DryRequired != 2 || p.MaxPerDay != 4 {
		t.Errorf("unexpected params %+v", p)
	}
	if p.MinInterval != time.Hour || p.MaxOffline != 12*time.Hour {
		t.Errorf("unexpected durations %+v", p)
	}
}
