package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestDefault(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if cfg.MoistureThreshold != 35 {
		t.Errorf("threshold = %v, want 35", cfg.MoistureThreshold)
	}
	if cfg.OfflineMode.ConsecutiveDryReadings != 2 {
		t.Errorf("consecutive dry = %d, want 2", cfg.OfflineMode.ConsecutiveDryReadings)
	}
	if cfg.Safety.MaxIrrigationPerDay != 4 {
		t.Errorf("max per day = %d, want 4", cfg.Safety.MaxIrrigationPerDay)
	}
	if cfg.MinInterval() != time.Hour {
		t.Errorf("min interval = %s, want 1h", cfg.MinInterval())
	}
	if cfg.SamplingInterval() != 5*time.Minute {
		t.Errorf("sampling interval = %s, want 5m", cfg.SamplingInterval())
	}
	if cfg.MaxOffline() != 12*time.Hour {
		t.Errorf("max offline = %s, want 12h", cfg.MaxOffline())
	}
	if cfg.RemoteTimeout() != 10*time.Second {
		t.Errorf("remote timeout = %s, want 10s", cfg.RemoteTimeout())
	}
	if !cfg.RelayActiveLow {
		t.Error("relay should default to active low")
	}
}

func TestLoad(t *testing.T) {
	path := writeYAML(t, `
field_id: orchard-3
crop_stage: flowering
moisture_threshold: 30
sampling_interval_seconds: 60
offline_mode:
  consecutive_dry_readings: 3
  max_offline_hours: 6
safety:
  max_irrigation_per_day: 2
timezone: Europe/Rome
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FieldID != "orchard-3" || cfg.CropStage != "flowering" {
		t.Errorf("zone = %+v", cfg.Zone())
	}
	if cfg.MoistureThreshold != 30 {
		t.Errorf("threshold = %v", cfg.MoistureThreshold)
	}
	if cfg.OfflineMode.ConsecutiveDryReadings != 3 || cfg.MaxOffline() != 6*time.Hour {
		t.Errorf("offline mode = %+v", cfg.OfflineMode)
	}
	if cfg.Safety.MaxIrrigationPerDay != 2 {
		t.Errorf("max per day = %d", cfg.Safety.MaxIrrigationPerDay)
	}
	// untouched keys keep defaults
	if cfg.MinIrrigationRun() != 2*time.Minute {
		t.Errorf("min run = %s", cfg.MinIrrigationRun())
	}
	if cfg.TZ().String() != "Europe/Rome" {
		t.Errorf("tz = %s", cfg.TZ())
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("AGENT_MOISTURE_THRESHOLD", "22.5")
	t.Setenv("AGENT_SAFETY_MAX_IRRIGATION_PER_DAY", "1")
	path := writeYAML(t, "field_id: z1\nmoisture_threshold: 40\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MoistureThreshold != 22.5 {
		t.Errorf("threshold = %v, want env override 22.5", cfg.MoistureThreshold)
	}
	if cfg.Safety.MaxIrrigationPerDay != 1 {
		t.Errorf("max per day = %d, want 1", cfg.Safety.MaxIrrigationPerDay)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformed(t *testing.T) {
	path := writeYAML(t, "field_id: [unterminated\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Default()
		if err != nil {
			t.Fatalf("Default: %v", err)
		}
		return cfg
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty zone", func(c *Config) { c.FieldID = " " }},
		{"negative threshold", func(c *Config) { c.MoistureThreshold = -1 }},
		{"threshold over 100", func(c *Config) { c.MoistureThreshold = 101 }},
		{"zero interval", func(c *Config) { c.SamplingIntervalSeconds = 0 }},
		{"negative run", func(c *Config) { c.MinIrrigationRunSeconds = -5 }},
		{"negative max per day", func(c *Config) { c.Safety.MaxIrrigationPerDay = -1 }},
		{"negative min interval", func(c *Config) { c.Safety.MinTimeBetweenCycles = -1 }},
		{"negative dry count", func(c *Config) { c.OfflineMode.ConsecutiveDryReadings = -1 }},
		{"negative offline hours", func(c *Config) { c.OfflineMode.MaxOfflineHours = -1 }},
		{"no attempts", func(c *Config) { c.Sensor.ReadAttempts = 0 }},
		{"bad adc channel", func(c *Config) { c.Sensor.SoilMoistureADCChannel = 8 }},
		{"flat calibration", func(c *Config) { c.Sensor.ADCWetValue = c.Sensor.ADCDryValue }},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}

	t.Run("zero max per day is allowed", func(t *testing.T) {
		cfg := base()
		cfg.Safety.MaxIrrigationPerDay = 0
		if err := cfg.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
