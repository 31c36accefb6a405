package mqttbus

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher sends payloads to one topic.
type Publisher interface {
	Publish(payload []byte) error
}

// TopicPublisher publishes at QoS 1 and waits for the broker ack.
type TopicPublisher struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
}

func NewPublisher(client mqtt.Client, topic string) *TopicPublisher {
	return &TopicPublisher{client: client, topic: topic, qos: 1, timeout: 10 * time.Second}
}

func (p *TopicPublisher) Topic() string { return p.topic }

func (p *TopicPublisher) Publish(payload []byte) error {
	token := p.client.Publish(p.topic, p.qos, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish to %s: timed out after %s", p.topic, p.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}

// LogWriter mirrors log lines to an MQTT topic. It is an io.Writer meant to
// sit behind io.MultiWriter next to stdout; publishing is fire-and-forget so
// logging never blocks on the broker.
type LogWriter struct {
	client mqtt.Client
	topic  string
}

func NewLogWriter(client mqtt.Client, topic string) *LogWriter {
	return &LogWriter{client: client, topic: topic}
}

func (w *LogWriter) Write(p []byte) (int, error) {
	// p is reused by the caller
	payload := make([]byte, len(p))
	copy(payload, p)
	w.client.Publish(w.topic, 0, false, payload)
	return len(p), nil
}
