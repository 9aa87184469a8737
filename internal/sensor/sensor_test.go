package sensor

import (
	"context"
	"errors"
	"math/rand"
	"runtime/debug"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeMoisture struct {
	values []float64
	errs   []error
	calls  int
	closed bool
}

func (f *fakeMoisture) ReadMoisture() (float64, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return 0, f.errs[i]
	}
	if i < len(f.values) {
		return f.values[i], nil
	}
	return f.values[len(f.values)-1], nil
}

func (f *fakeMoisture) Close() error { f.closed = true; return nil }

type fakeClimate struct {
	temp, hum float64
	err       error
	calls     int
}

func (f *fakeClimate) ReadClimate() (float64, float64, error) {
	f.calls++
	return f.temp, f.hum, f.err
}

func (f *fakeClimate) Close() error { return nil }

func newSim() *Simulated {
	return NewSimulated("z1", WithRand(rand.New(rand.NewSource(42))))
}

func TestSimulated_Bounds(t *testing.T) {
	sim := newSim()
	for i := 0; i < 500; i++ {
		r := sim.Read(context.Background())
		if r.Moisture < 0 || r.Moisture > 100 {
			t.Fatalf("moisture %.1f out of range", r.Moisture)
		}
		temp, ok := r.Temperature()
		if !ok || temp < 18 || temp > 35 {
			t.Fatalf("temperature %v (present=%v) out of range", temp, ok)
		}
		hum, ok := r.RelativeHumidity()
		if !ok || hum < 30 || hum > 90 {
			t.Fatalf("humidity %v (present=%v) out of range", hum, ok)
		}
		if !r.Simulated || r.ZoneID != "z1" {
			t.Fatalf("unexpected reading %+v", r)
		}
	}
}

func TestSimulated_HumidityTrendsInverselyWithTemperature(t *testing.T) {
	sim := newSim()
	var hotSum, coldSum float64
	var hotN, coldN int
	for i := 0; i < 2000; i++ {
		temp, hum := sim.SimulateClimate()
		switch {
		case temp > 30:
			hotSum += hum
			hotN++
		case temp < 22:
			coldSum += hum
			coldN++
		}
	}
	if hotN == 0 || coldN == 0 {
		t.Fatal("sample did not cover both ends of the range")
	}
	if hotSum/float64(hotN) >= coldSum/float64(coldN) {
		t.Errorf("mean humidity hot=%.1f cold=%.1f, expected hot < cold", hotSum/float64(hotN), coldSum/float64(coldN))
	}
}

func TestSimulated_DriesAndRecovers(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	sim := NewSimulated("z1", WithRand(rand.New(rand.NewSource(1))), WithSimClock(func() time.Time { return now }), WithDecay(1))

	sim.SimulateMoisture()
	start := sim.Level()

	now = now.Add(10 * time.Minute)
	sim.SimulateMoisture()
	if got := sim.Level(); got != clampPct(start-10) {
		t.Errorf("level after 10m = %.2f, want %.2f", got, clampPct(start-10))
	}

	dried := sim.Level()
	sim.ApplyIrrigation(2 * time.Minute)
	if got := sim.Level(); got != clampPct(dried+2*gainPerMin) {
		t.Errorf("level after pulse = %.2f, want %.2f", got, clampPct(dried+2*gainPerMin))
	}
}

func TestHardwareBacked_Success(t *testing.T) {
	m := &fakeMoisture{values: []float64{41.5}}
	c := &fakeClimate{temp: 24.3, hum: 55}
	h := NewHardwareBacked("z1", m, c, newSim(), zap.NewNop(), WithRetry(3, 0))

	r := h.Read(context.Background())
	if r.Simulated {
		t.Error("reading should not be simulated")
	}
	if r.Moisture != 41.5 {
		t.Errorf("moisture = %v", r.Moisture)
	}
	if temp, _ := r.Temperature(); temp != 24.3 {
		t.Errorf("temperature = %v", temp)
	}
	if m.calls != 1 || c.calls != 1 {
		t.Errorf("calls moisture=%d climate=%d, want 1/1", m.calls, c.calls)
	}
}

func TestHardwareBacked_RetriesTransientFault(t *testing.T) {
	boom := errors.New("spi glitch")
	m := &fakeMoisture{values: []float64{0, 0, 30}, errs: []error{boom, boom}}
	h := NewHardwareBacked("z1", m, nil, newSim(), zap.NewNop(), WithRetry(3, time.Millisecond))

	r := h.Read(context.Background())
	if r.Simulated || r.Moisture != 30 {
		t.Fatalf("expected recovered hardware value 30, got %+v", r)
	}
	if m.calls != 3 {
		t.Errorf("calls = %d, want 3", m.calls)
	}
	if r.TemperatureC != nil || r.Humidity != nil {
		t.Error("no climate probe: temperature and humidity must be absent")
	}
}

func TestHardwareBacked_FallsBackAfterRepeatedFailure(t *testing.T) {
	boom := errors.New("dead probe")
	m := &fakeMoisture{values: []float64{0}, errs: []error{boom, boom, boom, boom}}
	c := &fakeClimate{err: boom}
	h := NewHardwareBacked("z1", m, c, newSim(), zap.NewNop(), WithRetry(3, 0))

	r := h.Read(context.Background())
	if !r.Simulated {
		t.Fatal("expected simulated fallback")
	}
	if m.calls != 3 {
		t.Errorf("moisture calls = %d, want 3", m.calls)
	}
	if c.calls != 3 {
		t.Errorf("climate calls = %d, want 3", c.calls)
	}
	if r.Moisture < 0 || r.Moisture > 100 {
		t.Errorf("fallback moisture %.1f out of range", r.Moisture)
	}
	if r.TemperatureC == nil || r.Humidity == nil {
		t.Error("fallback must fill temperature and humidity")
	}
}

func TestHardwareBacked_OutOfRangeIsRejected(t *testing.T) {
	tests := []struct {
		name string
		temp float64
		hum  float64
	}{
		{"too hot", 95, 50},
		{"too cold", -41, 50},
		{"humidity over 100", 20, 101},
		{"negative humidity", 20, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMoisture{values: []float64{40}}
			c := &fakeClimate{temp: tt.temp, hum: tt.hum}
			h := NewHardwareBacked("z1", m, c, newSim(), zap.NewNop(), WithRetry(2, 0))

			r := h.Read(context.Background())
			if !r.Simulated {
				t.Fatal("out-of-range climate must fall back to simulation")
			}
			if r.Moisture != 40 {
				t.Errorf("moisture should still come from hardware, got %v", r.Moisture)
			}
			if temp, _ := r.Temperature(); temp < 18 || temp > 35 {
				t.Errorf("fallback temperature %v not simulated", temp)
			}
		})
	}

	t.Run("moisture over 100", func(t *testing.T) {
		m := &fakeMoisture{values: []float64{140}}
		h := NewHardwareBacked("z1", m, nil, newSim(), zap.NewNop(), WithRetry(2, 0))
		r := h.Read(context.Background())
		if !r.Simulated || r.Moisture > 100 {
			t.Fatalf("expected simulated moisture, got %+v", r)
		}
	})
}

func TestHardwareBacked_Close(t *testing.T) {
	m := &fakeMoisture{values: []float64{10}}
	h := NewHardwareBacked("z1", m, &fakeClimate{}, nil, nil)
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !m.closed {
		t.Error("moisture probe not closed")
	}
}

func TestMoistureFromRaw(t *testing.T) {
	tests := []struct {
		raw  int
		want float64
	}{
		{1023, 0},
		{300, 100},
		{0, 100},
		{1200, 0},
		{661, 50.07},
	}
	for _, tt := range tests {
		got := MoistureFromRaw(tt.raw, 1023, 300)
		if diff := got - tt.want; diff > 0.01 || diff < -0.01 {
			t.Errorf("MoistureFromRaw(%d) = %.2f, want %.2f", tt.raw, got, tt.want)
		}
	}
}

func encodeDHT(bytes [5]uint8) []int64 {
	pulses := make([]int64, 82)
	pulses[0], pulses[1] = 80, 80
	i := 2
	for _, b := range bytes {
		for bit := 7; bit >= 0; bit-- {
			pulses[i] = 50
			if b&(1<<bit) != 0 {
				pulses[i+1] = 70
			} else {
				pulses[i+1] = 26
			}
			i += 2
		}
	}
	return pulses
}

func TestWithoutGCRestoresPreviousSetting(t *testing.T) {
	orig := debug.SetGCPercent(250)
	defer debug.SetGCPercent(orig)

	var inside int
	withoutGC(func() {
		inside = debug.SetGCPercent(-1)
	})
	if inside != -1 {
		t.Errorf("GC percent during the section = %d, want -1", inside)
	}
	if got := debug.SetGCPercent(250); got != 250 {
		t.Errorf("GC percent after the section = %d, want 250", got)
	}
}

func TestDecodeDHT22(t *testing.T) {
	t.Run("positive temperature", func(t *testing.T) {
		// 65.2%RH, 23.1C
		b := [5]uint8{0x02, 0x8C, 0x00, 0xE7, 0}
		b[4] = b[0] + b[1] + b[2] + b[3]
		temp, hum, ok := decodeDHT22(encodeDHT(b))
		if !ok {
			t.Fatal("checksum should match")
		}
		if hum != 65.2 || temp != 23.1 {
			t.Errorf("got temp=%v hum=%v", temp, hum)
		}
	})

	t.Run("negative temperature", func(t *testing.T) {
		// 40.0%RH, -10.1C
		b := [5]uint8{0x01, 0x90, 0x80, 0x65, 0}
		b[4] = b[0] + b[1] + b[2] + b[3]
		temp, hum, ok := decodeDHT22(encodeDHT(b))
		if !ok || hum != 40 || temp != -10.1 {
			t.Errorf("got temp=%v hum=%v ok=%v", temp, hum, ok)
		}
	})

	t.Run("bad checksum", func(t *testing.T) {
		b := [5]uint8{0x02, 0x8C, 0x00, 0xE7, 0x00}
		if _, _, ok := decodeDHT22(encodeDHT(b)); ok {
			t.Error("expected checksum failure")
		}
	})

	t.Run("short capture", func(t *testing.T) {
		if _, _, ok := decodeDHT22(make([]int64, 10)); ok {
			t.Error("expected failure on truncated capture")
		}
	})
}
