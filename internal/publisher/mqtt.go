package publisher

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jgoulah/itrontap/internal/config"
	"github.com/jgoulah/itrontap/pkg/models"
)

// Publisher pushes the latest meter readings to an MQTT broker so external
// consumers (e.g. Home Assistant) can track current state. Long-term
// statistics never flow through here; they live in the local store.
type Publisher struct {
	client      mqtt.Client
	topicPrefix string
}

// New connects to the configured MQTT broker.
func New(cfg config.MQTTConfig) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required when enabled")
	}

	topicPrefix := cfg.TopicPrefix
	if topicPrefix == "" {
		topicPrefix = "itrontap"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID("itrontap")
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}

	return &Publisher{client: client, topicPrefix: topicPrefix}, nil
}

// readingPayload is the JSON body published for one meter reading.
type readingPayload struct {
	MeterID   string  `json:"meter_id"`
	Reading   float64 `json:"reading"`
	Unit      string  `json:"unit"`
	MeterType string  `json:"meter_type"`
	Timestamp string  `json:"timestamp"`
}

// PublishReading publishes the service point's latest cumulative dial
// reading, retained, on {prefix}/{municipality}/{servicepoint}/reading.
func (p *Publisher) PublishReading(muniCode string, sp models.ServicePoint) error {
	topic := fmt.Sprintf("%s/%s/%s/reading", p.topicPrefix, muniCode, sp.ID)

	body, err := json.Marshal(readingPayload{
		MeterID:   sp.Meter.ID,
		Reading:   sp.Meter.Reading,
		Unit:      string(sp.Commodity.Unit),
		MeterType: string(sp.Meter.Type),
		Timestamp: sp.Meter.Timestamp.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encoding reading payload: %w", err)
	}

	token := p.client.Publish(topic, 0, true, body)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	return nil
}

// Close disconnects from the MQTT broker.
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
