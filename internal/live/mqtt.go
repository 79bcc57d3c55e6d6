package live

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTT bridges events to a broker at QoS 0, matching the at-most-once contract of the
// live channel. Topics are prefixed, e.g. complylaw/scan_<id>.
type MQTT struct {
	client mqtt.Client
	prefix string
}

type MQTTOptions struct {
	Broker   string
	ClientID string
	Prefix   string
	Username string
	Password string
	Timeout  time.Duration
}

func NewMQTT(opts MQTTOptions) (*MQTT, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Prefix == "" {
		opts.Prefix = "complylaw"
	}
	co := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetConnectTimeout(opts.Timeout).
		SetAutoReconnect(true)

	c := mqtt.NewClient(co)
	tok := c.Connect()
	if !tok.WaitTimeout(opts.Timeout) {
		return nil, fmt.Errorf("connect %s: timed out", opts.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", opts.Broker, err)
	}
	return &MQTT{client: c, prefix: strings.TrimSuffix(opts.Prefix, "/")}, nil
}

func (m *MQTT) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	tok := m.client.Publish(m.prefix+"/"+topic, 0, false, data)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MQTT) Close() {
	m.client.Disconnect(250)
}
