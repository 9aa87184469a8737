package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/irrigation_agent/internal/actuator"
	"github.com/LeonardoBeccarini/irrigation_agent/internal/advisor"
	"github.com/LeonardoBeccarini/irrigation_agent/internal/config"
	"github.com/LeonardoBeccarini/irrigation_agent/internal/logging"
	"github.com/LeonardoBeccarini/irrigation_agent/internal/sensor"
	"github.com/LeonardoBeccarini/irrigation_agent/internal/services/agent"
	"github.com/LeonardoBeccarini/irrigation_agent/internal/services/agent/api"
	"github.com/LeonardoBeccarini/irrigation_agent/internal/telemetry"
	"github.com/LeonardoBeccarini/irrigation_agent/pkg/rabbitmq"
)

const (
	exitOK     = 0
	exitConfig = 1
	exitStuck  = 2
)

func main() { os.Exit(run()) }

func run() int {
	configPath := pflag.StringP("config", "c", "config/config.yaml", "path to the YAML configuration")
	simulate := pflag.Bool("simulate", false, "use simulated sensors and relay")
	pflag.Parse()

	boot, _ := zap.NewProduction()

	// === Config ===
	cfg, err := loadConfig(*configPath, boot)
	if err != nil {
		boot.Error("configuration fault", zap.Error(err))
		return exitConfig
	}
	if *simulate {
		cfg.Simulate = true
	}

	logger, err := logging.New(cfg.Logger)
	if err != nil {
		boot.Error("configuration fault", zap.Error(err))
		return exitConfig
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// i server e il broker restano su finché il loop non ha spento la pompa
	svcCtx, svcCancel := context.WithCancel(context.Background())
	defer svcCancel()

	// === Metrics ===
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := agent.NewMetrics(reg)

	// === Hardware ===
	source, sim := buildSource(cfg, logger)
	relay := buildRelay(cfg, logger)
	ctrl := actuator.NewController(relay, logger, actuator.WithPulseHook(func(res actuator.PulseResult) {
		if res.Status == actuator.StatusOK {
			sim.ApplyIrrigation(res.Elapsed)
		}
	}))

	// === Backend ===
	adv := advisor.New(advisor.ConfigFrom(cfg, logger))
	var backend api.BreakerReporter
	if adv.Enabled() {
		backend = adv
	} else {
		logger.Info("no backend configured, deciding locally")
	}

	// === Events ===
	sink, mqttClient, influxWriter := buildTelemetry(svcCtx, cfg, logger)

	hs := api.NewHealth()
	ag := agent.New(cfg, source, ctrl, adv, logger,
		agent.WithSink(sink),
		agent.WithMetrics(metrics),
		agent.WithStateListener(api.HealthListener(hs)),
	)

	// === HTTP ===
	if cfg.HTTP.Listen != "" {
		router := api.NewRouter(api.Deps{
			Agent:    ag,
			Gatherer: reg,
			MQTT:     mqttClient,
			Influx:   influxWriter,
			Backend:  backend,
		})
		go func() {
			if err := api.ServeHTTP(svcCtx, cfg.HTTP.Listen, router, logger); err != nil {
				logger.Error("http server stopped", zap.Error(err))
			}
		}()
	}

	// === gRPC ===
	if cfg.GRPC.Listen != "" {
		srv := api.NewGRPCServer(ag, hs)
		go func() {
			if err := api.ServeGRPC(svcCtx, cfg.GRPC.Listen, srv, logger); err != nil {
				logger.Error("grpc server stopped", zap.Error(err))
			}
		}()
	}

	logger.Info("irrigation agent starting",
		zap.Bool("simulate", cfg.Simulate),
		zap.Float64("threshold", cfg.MoistureThreshold),
		zap.Duration("interval", cfg.SamplingInterval()),
		zap.String("backend", cfg.BackendBaseURL),
	)

	err = ag.Run(ctx)
	svcCancel()

	var stuck *actuator.StuckRelayError
	switch {
	case errors.As(err, &stuck):
		return exitStuck
	case err != nil:
		logger.Error("agent stopped", zap.Error(err))
		return exitConfig
	}
	logger.Info("irrigation agent stopped")
	return exitOK
}

// loadConfig reads path, falling back to config.example.yaml next to it when
// the file does not exist.
func loadConfig(path string, logger *zap.Logger) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		example := filepath.Join(filepath.Dir(path), "config.example.yaml")
		if _, exErr := os.Stat(example); exErr == nil {
			logger.Warn("config not found, using example configuration",
				zap.String("path", path), zap.String("example", example))
			path = example
		}
	}
	return config.Load(path)
}

func buildSource(cfg *config.Config, logger *zap.Logger) (sensor.Source, *sensor.Simulated) {
	sim := sensor.NewSimulated(cfg.FieldID)
	if cfg.Simulate {
		return sim, sim
	}

	probe, err := sensor.OpenMCP3008(cfg.Sensor.SoilMoistureADCChannel, cfg.Sensor.ADCDryValue, cfg.Sensor.ADCWetValue)
	if err != nil {
		logger.Warn("moisture probe unavailable, using simulated readings", zap.Error(err))
		return sim, sim
	}

	var climate sensor.ClimateProbe
	if dht, err := sensor.OpenDHT22(cfg.Sensor.DHT22Pin); err != nil {
		logger.Warn("climate probe unavailable, using simulated climate", zap.Error(err))
	} else {
		climate = dht
	}

	return sensor.NewHardwareBacked(cfg.FieldID, probe, climate, sim, logger,
		sensor.WithRetry(cfg.Sensor.ReadAttempts, cfg.SensorRetryDelay()),
	), sim
}

func buildRelay(cfg *config.Config, logger *zap.Logger) actuator.Relay {
	if cfg.Simulate {
		return actuator.NewSimulatedRelay()
	}
	r, err := actuator.OpenGPIORelay(cfg.RelayGPIOPin, cfg.RelayActiveLow)
	if err != nil {
		logger.Warn("relay gpio unavailable, using simulated relay",
			zap.Int("pin", cfg.RelayGPIOPin), zap.Error(err))
		return actuator.NewSimulatedRelay()
	}
	return r
}

// buildTelemetry never fails: a sink that cannot be set up is logged and left out.
func buildTelemetry(ctx context.Context, cfg *config.Config, logger *zap.Logger) (telemetry.Sink, mqtt.Client, *telemetry.Writer) {
	var (
		sinks  []telemetry.Sink
		client mqtt.Client
		writer *telemetry.Writer
	)

	if cfg.MQTT.Host != "" {
		c, err := rabbitmq.NewRabbitMQConn(ctx, rabbitmq.RabbitMQConfig{
			Host:       cfg.MQTT.Host,
			Port:       cfg.MQTT.Port,
			User:       cfg.MQTT.User,
			Password:   cfg.MQTT.Password,
			ClientID:   cfg.MQTT.ClientID,
			MaxRetries: cfg.MQTT.ConnectMaxRetries,
		}, logger)
		if err != nil {
			logger.Warn("broker unreachable, event publishing disabled", zap.Error(err))
		} else {
			client = c
			pub := rabbitmq.NewPublisher(c, 1, cfg.MQTTPublishTimeout())
			sinks = append(sinks, telemetry.NewMQTTSink(pub, telemetry.Topics{
				Decision:    cfg.MQTT.DecisionTopic,
				StateChange: cfg.MQTT.StateChangeTopic,
				Result:      cfg.MQTT.ResultTopic,
			}))
		}
	}

	if cfg.Influx.URL != "" {
		s := telemetry.NewInfluxSink(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket, logger)
		writer = s.Writer()
		sinks = append(sinks, s)
	}

	return telemetry.NewMulti(sinks...), client, writer
}
