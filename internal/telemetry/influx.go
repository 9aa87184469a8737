package telemetry

import (
	"context"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/irrigation_agent/internal/model"
)

const (
	measurement   = "system_event"
	sourceService = "irrigation-agent"
)

// Event is the flat shape every agent event is normalized to before it is stored.
type Event struct {
	EventType string
	Severity  string
	FieldID   string
	Fields    map[string]interface{}
	Timestamp time.Time
}

// EventToPoint maps an Event to a "system_event" point.
func EventToPoint(evt Event) *write.Point {
	tags := map[string]string{
		"event_type":     evt.EventType,
		"source_service": sourceService,
		"severity":       evt.Severity,
	}
	if evt.FieldID != "" {
		tags["field_id"] = evt.FieldID
	}

	fields := map[string]interface{}{}
	for k, v := range evt.Fields {
		fields[k] = v
	}
	// a point needs at least one field
	if _, ok := fields["count"]; !ok {
		fields["count"] = int64(1)
	}
	return influxdb2.NewPoint(measurement, tags, fields, evt.Timestamp)
}

func decisionEvent(e model.DecisionEvent) Event {
	return Event{
		EventType: "irrigation_decision",
		Severity:  "info",
		FieldID:   e.FieldID,
		Fields: map[string]interface{}{
			"verdict":           e.Verdict,
			"source":            e.Source,
			"reason":            e.Reason,
			"moisture":          e.Moisture,
			"threshold_pct":     e.Threshold,
			"dry_streak":        int64(e.DryStreak),
			"irrigations_today": int64(e.IrrigationsToday),
		},
		Timestamp: e.Timestamp,
	}
}

func stateChangeEvent(e model.StateChangeEvent) Event {
	return Event{
		EventType: "state_change",
		Severity:  "info",
		FieldID:   e.FieldID,
		Fields: map[string]interface{}{
			"new_state":  string(e.NewState),
			"duration_s": e.Duration.Seconds(),
		},
		Timestamp: e.Timestamp,
	}
}

func resultEvent(e model.ResultEvent) Event {
	sev := "info"
	if e.Status != "OK" {
		sev = "error"
	}
	return Event{
		EventType: "irrigation_result",
		Severity:  sev,
		FieldID:   e.FieldID,
		Fields: map[string]interface{}{
			"ticket_id":  e.TicketID,
			"status":     e.Status,
			"reason":     e.Reason,
			"duration_s": e.Duration.Seconds(),
		},
		Timestamp: e.Timestamp,
	}
}

// Writer wraps the non-blocking WriteAPI and remembers when it last failed.
type Writer struct {
	api     api.WriteAPI
	now     func() time.Time
	mu      sync.RWMutex
	lastErr time.Time
	counts  map[string]int64
}

// NewWriter starts draining the asynchronous write errors.
func NewWriter(w api.WriteAPI, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("influx")
	ww := &Writer{
		api:     w,
		now:     time.Now,
		lastErr: time.Now().Add(-24 * time.Hour),
		counts:  make(map[string]int64),
	}
	go func() {
		for err := range w.Errors() {
			if err != nil {
				ww.mu.Lock()
				ww.lastErr = ww.now()
				ww.mu.Unlock()
				logger.Warn("write error", zap.Error(err))
			}
		}
	}()
	return ww
}

// Write queues the point; delivery errors surface through LastErrorAge.
func (w *Writer) Write(evt Event) {
	w.api.WritePoint(EventToPoint(evt))
	w.mu.Lock()
	w.counts[evt.EventType]++
	w.mu.Unlock()
}

// LastErrorAge is the time since the last failed write.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return w.now().Sub(t)
}

// Count returns how many events of eventType were queued.
func (w *Writer) Count(eventType string) int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.counts[eventType]
}

func (w *Writer) Flush() { w.api.Flush() }

// InfluxSink stores every event as a system_event point.
type InfluxSink struct {
	client influxdb2.Client // nil in tests
	writer *Writer
}

// NewInfluxSink opens a client for url and writes to org/bucket in small batches.
func NewInfluxSink(url, token, org, bucket string, logger *zap.Logger) *InfluxSink {
	opts := influxdb2.DefaultOptions().
		SetBatchSize(10).
		SetFlushInterval(1000)
	client := influxdb2.NewClientWithOptions(url, token, opts)
	return &InfluxSink{client: client, writer: NewWriter(client.WriteAPI(org, bucket), logger)}
}

func newInfluxSinkWithAPI(w api.WriteAPI) *InfluxSink {
	return &InfluxSink{writer: NewWriter(w, nil)}
}

// Writer exposes write health for the status endpoints.
func (s *InfluxSink) Writer() *Writer { return s.writer }

func (s *InfluxSink) Decision(_ context.Context, evt model.DecisionEvent) error {
	s.writer.Write(decisionEvent(evt))
	return nil
}

func (s *InfluxSink) StateChange(_ context.Context, evt model.StateChangeEvent) error {
	s.writer.Write(stateChangeEvent(evt))
	return nil
}

func (s *InfluxSink) Result(_ context.Context, evt model.ResultEvent) error {
	s.writer.Write(resultEvent(evt))
	return nil
}

func (s *InfluxSink) Close() error {
	s.writer.Flush()
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
