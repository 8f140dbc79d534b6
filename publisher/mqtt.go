// Package publisher mirrors injected position fixes to an MQTT broker
package publisher

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Bucknalla/go-nmea-server/nmea"
)

// ErrPublishTimeout is returned when the broker does not acknowledge a fix in time
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// publishTimeout bounds how long a session may wait on the broker
const publishTimeout = 2 * time.Second

// client is the subset of mqtt.Client used by the publisher
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes every fix it observes as JSON to a topic
type MQTT struct {
	client  client
	topic   string
	qos     byte
	timeout time.Duration
}

// NewMQTT connects to the broker (e.g. tcp://localhost:1883) and returns a
// publisher for topic
func NewMQTT(broker, clientID, topic string) (*MQTT, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", broker, token.Error())
	}
	return newMQTT(c, topic), nil
}

func newMQTT(c client, topic string) *MQTT {
	return &MQTT{
		client:  c,
		topic:   topic,
		qos:     0,
		timeout: publishTimeout,
	}
}

// ObserveFix publishes the fix as a retained message so late subscribers see
// the latest position
func (p *MQTT) ObserveFix(fix nmea.Fix) error {
	payload, err := json.Marshal(fix)
	if err != nil {
		return fmt.Errorf("failed to marshal fix: %w", err)
	}

	token := p.client.Publish(p.topic, p.qos, true, payload)
	if !token.WaitTimeout(p.timeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

// Close disconnects from the broker
func (p *MQTT) Close() {
	p.client.Disconnect(250)
}
