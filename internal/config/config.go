// Package config loads the agent configuration once at startup.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/LeonardoBeccarini/irrigation_agent/internal/model/entities"
)

// Config is the immutable agent configuration. Keys keep the names used by the
// field deployments' config.yaml.
type Config struct {
	FieldID   string `mapstructure:"field_id"`
	CropStage string `mapstructure:"crop_stage"`
	Location  string `mapstructure:"location"`

	MoistureThreshold       float64 `mapstructure:"moisture_threshold"`        // %
	SamplingIntervalSeconds int     `mapstructure:"sampling_interval_seconds"` // cycle cadence
	MinIrrigationRunSeconds int     `mapstructure:"min_irrigation_run_seconds"`

	BackendBaseURL    string  `mapstructure:"backend_base_url"` // empty = always offline
	APITimeoutSeconds float64 `mapstructure:"api_timeout_seconds"`

	RelayGPIOPin   int    `mapstructure:"relay_gpio_pin"`
	RelayActiveLow bool   `mapstructure:"relay_active_low"`
	Simulate       bool   `mapstructure:"simulate"`
	Timezone       string `mapstructure:"timezone"` // IANA name, empty = Local

	Sensor      SensorConfig  `mapstructure:"sensor"`
	Safety      SafetyConfig  `mapstructure:"safety"`
	OfflineMode OfflineConfig `mapstructure:"offline_mode"`
	Remote      RemoteConfig  `mapstructure:"remote"`
	Logger      LoggerConfig  `mapstructure:"logger"`
	HTTP        HTTPConfig    `mapstructure:"http"`
	GRPC        GRPCConfig    `mapstructure:"grpc"`
	MQTT        MQTTConfig    `mapstructure:"mqtt"`
	Influx      InfluxConfig  `mapstructure:"influx"`

	loc *time.Location
}

// SensorConfig describes the probes wiring and calibration.
type SensorConfig struct {
	SoilMoistureADCChannel int `mapstructure:"soil_moisture_adc_channel"` // MCP3008 channel 0..7
	DHT22Pin               int `mapstructure:"dht22_pin"`                 // BCM pin
	ReadAttempts           int `mapstructure:"read_attempts"`
	RetryDelayMs           int `mapstructure:"retry_delay_ms"`
	ADCDryValue            int `mapstructure:"adc_dry_value"` // raw value in completely dry soil
	ADCWetValue            int `mapstructure:"adc_wet_value"` // raw value in saturated soil
}

// SafetyConfig bounds how often the pump may run.
type SafetyConfig struct {
	MaxIrrigationPerDay  int `mapstructure:"max_irrigation_per_day"`
	MinTimeBetweenCycles int `mapstructure:"min_time_between_cycles"` // seconds
}

// OfflineConfig tunes the local fallback policy.
type OfflineConfig struct {
	ConsecutiveDryReadings int     `mapstructure:"consecutive_dry_readings"`
	MaxOfflineHours        float64 `mapstructure:"max_offline_hours"`
}

// RemoteConfig tunes the backend client.
type RemoteConfig struct {
	TokenSecret        string `mapstructure:"token_secret"` // HS256 device token, empty = no auth
	BreakerFailures    int    `mapstructure:"breaker_failures"`
	BreakerOpenSeconds int    `mapstructure:"breaker_open_seconds"`
}

// LoggerConfig configures zap.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// HTTPConfig configures the local status endpoint. Empty Listen disables it.
type HTTPConfig struct {
	Listen string `mapstructure:"listen"`
}

// GRPCConfig configures the local gRPC status/health server. Empty Listen disables it.
type GRPCConfig struct {
	Listen string `mapstructure:"listen"`
}

// MQTTConfig configures event publishing. Empty Host disables it.
type MQTTConfig struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	ClientID          string `mapstructure:"client_id"`
	DecisionTopic     string `mapstructure:"decision_topic"`
	StateChangeTopic  string `mapstructure:"state_change_topic"`
	ResultTopic       string `mapstructure:"result_topic"`
	PublishTimeoutMs  int    `mapstructure:"publish_timeout_ms"`
	ConnectMaxRetries int    `mapstructure:"connect_max_retries"`
}

// InfluxConfig configures the event telemetry sink. Empty URL disables it.
type InfluxConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

// ErrInvalid marks a configuration that loaded but makes no sense.
var ErrInvalid = errors.New("invalid configuration")

// Load reads the YAML document at path, applies defaults and AGENT_* environment
// overrides, then validates the result.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return decode(v)
}

// Default returns the configuration obtained from defaults and environment only.
func Default() (*Config, error) {
	return decode(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("field_id", "field1")
	v.SetDefault("crop_stage", "")
	v.SetDefault("location", "")
	v.SetDefault("moisture_threshold", 35.0)
	v.SetDefault("sampling_interval_seconds", 300)
	v.SetDefault("min_irrigation_run_seconds", 120)
	v.SetDefault("backend_base_url", "")
	v.SetDefault("api_timeout_seconds", 10)
	v.SetDefault("relay_gpio_pin", 18)
	v.SetDefault("relay_active_low", true)
	v.SetDefault("simulate", false)
	v.SetDefault("timezone", "")

	v.SetDefault("sensor.soil_moisture_adc_channel", 0)
	v.SetDefault("sensor.dht22_pin", 4)
	v.SetDefault("sensor.read_attempts", 3)
	v.SetDefault("sensor.retry_delay_ms", 500)
	v.SetDefault("sensor.adc_dry_value", 1023)
	v.SetDefault("sensor.adc_wet_value", 300)

	v.SetDefault("safety.max_irrigation_per_day", 4)
	v.SetDefault("safety.min_time_between_cycles", 3600)

	v.SetDefault("offline_mode.consecutive_dry_readings", 2)
	v.SetDefault("offline_mode.max_offline_hours", 12)

	v.SetDefault("remote.token_secret", "")
	v.SetDefault("remote.breaker_failures", 3)
	v.SetDefault("remote.breaker_open_seconds", 60)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("http.listen", ":8090")
	v.SetDefault("grpc.listen", ":50061")

	v.SetDefault("mqtt.host", "")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.user", "guest")
	v.SetDefault("mqtt.password", "guest")
	v.SetDefault("mqtt.client_id", "irrigation-agent")
	v.SetDefault("mqtt.decision_topic", "event/irrigationDecision/{field}")
	v.SetDefault("mqtt.state_change_topic", "event/StateChange/{field}")
	v.SetDefault("mqtt.result_topic", "event/irrigationResult/{field}")
	v.SetDefault("mqtt.publish_timeout_ms", 2000)
	v.SetDefault("mqtt.connect_max_retries", 5)

	v.SetDefault("influx.url", "")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "sdcc")
	v.SetDefault("influx.bucket", "events")
}

// Validate checks the invariants the control loop relies on and resolves the timezone.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.FieldID) == "" {
		errs = append(errs, errors.New("field_id is required"))
	}
	if c.MoistureThreshold < 0 || c.MoistureThreshold > 100 {
		errs = append(errs, fmt.Errorf("moisture_threshold %.1f out of [0,100]", c.MoistureThreshold))
	}
	if c.SamplingIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("sampling_interval_seconds must be > 0, got %d", c.SamplingIntervalSeconds))
	}
	if c.MinIrrigationRunSeconds < 0 {
		errs = append(errs, fmt.Errorf("min_irrigation_run_seconds must be >= 0, got %d", c.MinIrrigationRunSeconds))
	}
	if c.APITimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("api_timeout_seconds must be >= 0, got %.1f", c.APITimeoutSeconds))
	}
	if c.Safety.MaxIrrigationPerDay < 0 {
		errs = append(errs, fmt.Errorf("safety.max_irrigation_per_day must be >= 0, got %d", c.Safety.MaxIrrigationPerDay))
	}
	if c.Safety.MinTimeBetweenCycles < 0 {
		errs = append(errs, fmt.Errorf("safety.min_time_between_cycles must be >= 0, got %d", c.Safety.MinTimeBetweenCycles))
	}
	if c.OfflineMode.ConsecutiveDryReadings < 0 {
		errs = append(errs, fmt.Errorf("offline_mode.consecutive_dry_readings must be >= 0, got %d", c.OfflineMode.ConsecutiveDryReadings))
	}
	if c.OfflineMode.MaxOfflineHours < 0 {
		errs = append(errs, fmt.Errorf("offline_mode.max_offline_hours must be >= 0, got %.1f", c.OfflineMode.MaxOfflineHours))
	}
	if c.Sensor.ReadAttempts < 1 {
		errs = append(errs, fmt.Errorf("sensor.read_attempts must be >= 1, got %d", c.Sensor.ReadAttempts))
	}
	if c.Sensor.RetryDelayMs < 0 {
		errs = append(errs, fmt.Errorf("sensor.retry_delay_ms must be >= 0, got %d", c.Sensor.RetryDelayMs))
	}
	if c.Sensor.SoilMoistureADCChannel < 0 || c.Sensor.SoilMoistureADCChannel > 7 {
		errs = append(errs, fmt.Errorf("sensor.soil_moisture_adc_channel %d out of [0,7]", c.Sensor.SoilMoistureADCChannel))
	}
	if c.Sensor.ADCDryValue == c.Sensor.ADCWetValue {
		errs = append(errs, errors.New("sensor.adc_dry_value and sensor.adc_wet_value must differ"))
	}

	loc := time.Local
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			errs = append(errs, fmt.Errorf("timezone %q: %v", tz, err))
		} else {
			loc = l
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	c.loc = loc
	return nil
}

// Zone returns the zone identity reported with every reading.
func (c *Config) Zone() entities.Zone {
	return entities.Zone{ID: c.FieldID, CropStage: c.CropStage, Location: c.Location}
}

// TZ is the location used for local-day rollover.
func (c *Config) TZ() *time.Location {
	if c.loc == nil {
		return time.Local
	}
	return c.loc
}

func (c *Config) SamplingInterval() time.Duration {
	return time.Duration(c.SamplingIntervalSeconds) * time.Second
}

func (c *Config) MinIrrigationRun() time.Duration {
	return time.Duration(c.MinIrrigationRunSeconds) * time.Second
}

func (c *Config) MinInterval() time.Duration {
	return time.Duration(c.Safety.MinTimeBetweenCycles) * time.Second
}

func (c *Config) MaxOffline() time.Duration {
	return time.Duration(c.OfflineMode.MaxOfflineHours * float64(time.Hour))
}

func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.APITimeoutSeconds * float64(time.Second))
}

func (c *Config) SensorRetryDelay() time.Duration {
	return time.Duration(c.Sensor.RetryDelayMs) * time.Millisecond
}

func (c *Config) BreakerOpenFor() time.Duration {
	return time.Duration(c.Remote.BreakerOpenSeconds) * time.Second
}

func (c *Config) MQTTPublishTimeout() time.Duration {
	return time.Duration(c.MQTT.PublishTimeoutMs) * time.Millisecond
}
