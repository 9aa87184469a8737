package telemetry

import (
	"context"
	"strings"

	"github.com/LeonardoBeccarini/irrigation_agent/internal/model"
	"github.com/LeonardoBeccarini/irrigation_agent/pkg/rabbitmq"
)

// Default topic templates; {field} is replaced with the zone id.
const (
	DefaultDecisionTopic    = "event/irrigationDecision/{field}"
	DefaultStateChangeTopic = "event/StateChange/{field}"
	DefaultResultTopic      = "event/irrigationResult/{field}"
)

type Topics struct {
	Decision    string
	StateChange string
	Result      string
}

// MQTTSink publishes JSON events on per-field topics.
type MQTTSink struct {
	pub    rabbitmq.IPublisher
	topics Topics
}

func NewMQTTSink(pub rabbitmq.IPublisher, topics Topics) *MQTTSink {
	return &MQTTSink{
		pub: pub,
		topics: Topics{
			Decision:    firstNonEmpty(topics.Decision, DefaultDecisionTopic),
			StateChange: firstNonEmpty(topics.StateChange, DefaultStateChangeTopic),
			Result:      firstNonEmpty(topics.Result, DefaultResultTopic),
		},
	}
}

func (s *MQTTSink) Decision(_ context.Context, evt model.DecisionEvent) error {
	return rabbitmq.PublishJSON(s.pub, formatTopic(s.topics.Decision, evt.FieldID), evt)
}

func (s *MQTTSink) StateChange(_ context.Context, evt model.StateChangeEvent) error {
	return rabbitmq.PublishJSON(s.pub, formatTopic(s.topics.StateChange, evt.FieldID), evt)
}

func (s *MQTTSink) Result(_ context.Context, evt model.ResultEvent) error {
	return rabbitmq.PublishJSON(s.pub, formatTopic(s.topics.Result, evt.FieldID), evt)
}

func (s *MQTTSink) Close() error {
	s.pub.Close()
	return nil
}

func formatTopic(tmpl, fieldID string) string {
	return strings.NewReplacer("{field}", fieldID).Replace(tmpl)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
