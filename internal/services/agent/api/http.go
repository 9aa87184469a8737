// Package api exposes the agent's health, readiness, metrics and status
// over local HTTP and gRPC.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/irrigation_agent/internal/services/agent"
	"github.com/LeonardoBeccarini/irrigation_agent/internal/telemetry"
)

// StatusProvider is implemented by *agent.Agent.
type StatusProvider interface {
	Snapshot() agent.Status
	State() agent.State
}

// BreakerReporter is implemented by *advisor.Client.
type BreakerReporter interface {
	BreakerState() string
}

// Deps are the collaborators the endpoints report on. Only Agent is required.
type Deps struct {
	Agent    StatusProvider
	Gatherer prometheus.Gatherer
	MQTT     mqtt.Client       // nil when event publishing is off
	Influx   *telemetry.Writer // nil when the time-series sink is off
	Backend  BreakerReporter   // nil when no backend is configured
}

// recent write errors make the influx sink count as unhealthy
const influxErrorWindow = 30 * time.Second

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", d.health)
	r.Get("/readyz", d.ready)
	r.Get("/status", d.status)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

type healthStatus struct {
	Status          string   `json:"status"` // ok | degraded | down
	State           string   `json:"state"`
	MQTTConnected   *bool    `json:"mqtt_connected,omitempty"`
	InfluxOK        *bool    `json:"influx_ok,omitempty"`
	LastWriteErrorS *float64 `json:"last_write_error_age_sec,omitempty"`
	Backend         string   `json:"backend"`
}

// health always answers 200 while the process is up; the body says how well.
func (d Deps) health(w http.ResponseWriter, _ *http.Request) {
	state := d.Agent.State()
	st := healthStatus{State: state.String(), Backend: "disabled", Status: "ok"}

	degraded := false
	if d.MQTT != nil {
		ok := d.MQTT.IsConnectionOpen()
		st.MQTTConnected = &ok
		degraded = degraded || !ok
	}
	if d.Influx != nil {
		age := d.Influx.LastErrorAge()
		ok := age > influxErrorWindow
		secs := age.Seconds()
		st.InfluxOK, st.LastWriteErrorS = &ok, &secs
		degraded = degraded || !ok
	}
	if d.Backend != nil {
		st.Backend = d.Backend.BreakerState()
		degraded = degraded || st.Backend == "open"
	}

	switch {
	case state == agent.StateShuttingDown:
		st.Status = "down"
	case degraded:
		st.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, st)
}

// ready is 200 until the loop starts shutting down.
func (d Deps) ready(w http.ResponseWriter, _ *http.Request) {
	ready := d.Agent.State() != agent.StateShuttingDown
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, struct {
		Ready bool `json:"ready"`
	}{ready})
}

func (d Deps) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.Agent.Snapshot())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ServeHTTP listens on addr until ctx is done, then shuts down gracefully.
func ServeHTTP(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
