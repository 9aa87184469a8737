package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/irrigation_agent/internal/model"
)

var ts = time.Date(2024, 7, 10, 9, 0, 0, 0, time.UTC)

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	bodies [][]byte
	err    error
	closed bool
}

func (p *fakePublisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.bodies = append(p.bodies, payload)
	return p.err
}

func (p *fakePublisher) Close() { p.closed = true }

func TestMQTTSink_Topics(t *testing.T) {
	pub := &fakePublisher{}
	s := NewMQTTSink(pub, Topics{Result: "custom/{field}/result"})
	ctx := context.Background()

	_ = s.Decision(ctx, model.DecisionEvent{FieldID: "f1", Verdict: "SKIP", Timestamp: ts})
	_ = s.StateChange(ctx, model.StateChangeEvent{FieldID: "f1", NewState: model.RelayOn, Timestamp: ts})
	_ = s.Result(ctx, model.ResultEvent{FieldID: "f1", TicketID: "t-1", Status: "OK", Timestamp: ts})

	want := []string{"event/irrigationDecision/f1", "event/StateChange/f1", "custom/f1/result"}
	if len(pub.topics) != len(want) {
		t.Fatalf("topics = %v", pub.topics)
	}
	for i := range want {
		if pub.topics[i] != want[i] {
			t.Errorf("topic[%d] = %q, want %q", i, pub.topics[i], want[i])
		}
	}

	var sc model.StateChangeEvent
	if err := json.Unmarshal(pub.bodies[1], &sc); err != nil {
		t.Fatal(err)
	}
	if sc.NewState != model.RelayOn {
		t.Errorf("new_state = %q", sc.NewState)
	}

	if err := s.Close(); err != nil || !pub.closed {
		t.Errorf("Close err=%v closed=%v", err, pub.closed)
	}
}

func TestMQTTSink_PropagatesPublishError(t *testing.T) {
	boom := errors.New("offline")
	s := NewMQTTSink(&fakePublisher{err: boom}, Topics{})
	if err := s.Decision(context.Background(), model.DecisionEvent{FieldID: "f1"}); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

type fakeWriteAPI struct {
	api.WriteAPI
	mu      sync.Mutex
	points  []*write.Point
	errs    chan error
	flushes int
}

func newFakeWriteAPI() *fakeWriteAPI { return &fakeWriteAPI{errs: make(chan error, 1)} }

func (f *fakeWriteAPI) WritePoint(p *write.Point) {
	f.mu.Lock()
	f.points = append(f.points, p)
	f.mu.Unlock()
}
func (f *fakeWriteAPI) Errors() <-chan error { return f.errs }
func (f *fakeWriteAPI) Flush()               { f.flushes++ }

func tagMap(p *write.Point) map[string]string {
	out := map[string]string{}
	for _, tg := range p.TagList() {
		out[tg.Key] = tg.Value
	}
	return out
}

func fieldMap(p *write.Point) map[string]interface{} {
	out := map[string]interface{}{}
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestEventToPoint(t *testing.T) {
	p := EventToPoint(Event{EventType: "state_change", Severity: "info", FieldID: "f1", Timestamp: ts})
	if p.Name() != "system_event" {
		t.Errorf("measurement = %q", p.Name())
	}
	tags := tagMap(p)
	if tags["event_type"] != "state_change" || tags["field_id"] != "f1" || tags["source_service"] != "irrigation-agent" {
		t.Errorf("tags = %v", tags)
	}
	if fieldMap(p)["count"] != int64(1) {
		t.Errorf("fields = %v", fieldMap(p))
	}
	if !p.Time().Equal(ts) {
		t.Errorf("time = %v", p.Time())
	}

	if _, ok := tagMap(EventToPoint(Event{EventType: "x"}))["field_id"]; ok {
		t.Error("empty field id must not be tagged")
	}
}

func TestInfluxSink(t *testing.T) {
	w := newFakeWriteAPI()
	s := newInfluxSinkWithAPI(w)
	ctx := context.Background()

	_ = s.Decision(ctx, model.DecisionEvent{FieldID: "f1", Verdict: "IRRIGATE", Source: "local", Moisture: 22.5, DryStreak: 3, Timestamp: ts})
	_ = s.Result(ctx, model.ResultEvent{FieldID: "f1", TicketID: "t-9", Status: "FAIL", Reason: "stuck_on", Duration: time.Minute, Timestamp: ts})

	if len(w.points) != 2 {
		t.Fatalf("points = %d", len(w.points))
	}
	dec := fieldMap(w.points[0])
	if dec["verdict"] != "IRRIGATE" || dec["moisture"] != 22.5 || dec["dry_streak"] != int64(3) {
		t.Errorf("decision fields = %v", dec)
	}
	res := w.points[1]
	if tagMap(res)["severity"] != "error" {
		t.Errorf("failed result severity = %q", tagMap(res)["severity"])
	}
	if fieldMap(res)["duration_s"] != 60.0 {
		t.Errorf("duration_s = %v", fieldMap(res)["duration_s"])
	}
	if s.Writer().Count("irrigation_decision") != 1 || s.Writer().Count("irrigation_result") != 1 {
		t.Error("counts not tracked")
	}

	if err := s.Close(); err != nil || w.flushes != 1 {
		t.Errorf("Close err=%v flushes=%d", err, w.flushes)
	}
}

func TestWriterTracksErrors(t *testing.T) {
	w := newFakeWriteAPI()
	wr := NewWriter(w, nil)
	if wr.LastErrorAge() < time.Hour {
		t.Fatalf("fresh writer reports a recent error: %v", wr.LastErrorAge())
	}
	w.errs <- errors.New("401 unauthorized")

	deadline := time.Now().Add(2 * time.Second)
	for wr.LastErrorAge() > time.Minute {
		if time.Now().After(deadline) {
			t.Fatal("write error never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	var nilWriter *Writer
	if nilWriter.LastErrorAge() < time.Hour || nilWriter.Count("x") != 0 {
		t.Error("nil writer must look healthy-but-idle")
	}
}

type recordingSink struct {
	Nop
	decisions int
	err       error
}

func (r *recordingSink) Decision(context.Context, model.DecisionEvent) error {
	r.decisions++
	return r.err
}

func TestMulti(t *testing.T) {
	if _, ok := NewMulti().(Nop); !ok {
		t.Error("empty multi should be Nop")
	}
	single := &recordingSink{}
	if NewMulti(nil, single) != Sink(single) {
		t.Error("single sink should be returned as is")
	}

	boom := errors.New("boom")
	a, b := &recordingSink{err: boom}, &recordingSink{}
	m := NewMulti(a, b)
	err := m.Decision(context.Background(), model.DecisionEvent{})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
	if a.decisions != 1 || b.decisions != 1 {
		t.Error("a failing sink must not stop the others")
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
