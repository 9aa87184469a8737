package rabbitmq

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var ErrPublishTimeout = errors.New("publish not acknowledged in time")

// IPublisher sends payloads to arbitrary topics on a shared connection.
type IPublisher interface {
	Publish(topic string, payload []byte) error
	Close()
}

// Publisher holds the shared client and the delivery settings.
type Publisher struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
}

// NewPublisher uses QoS 1 unless told otherwise; timeout bounds the wait for the broker ack.
func NewPublisher(client mqtt.Client, qos byte, timeout time.Duration) *Publisher {
	if qos > 2 {
		qos = 1
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Publisher{client: client, qos: qos, timeout: timeout}
}

func (p *Publisher) Publish(topic string, payload []byte) error {
	if p.client == nil || !p.client.IsConnectionOpen() {
		return fmt.Errorf("publish %s: not connected", topic)
	}
	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish %s: %w", topic, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishJSON marshals v and publishes it.
func PublishJSON(p IPublisher, topic string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	return p.Publish(topic, b)
}

// Close disconnects the shared client.
func (p *Publisher) Close() {
	CloseRabbitMQConn(p.client)
}
