package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	// DefaultTopicPrefix is used when no prefix is configured.
	DefaultTopicPrefix = "nrf-remote"
	publishTimeout     = 2 * time.Second
	appID              = "nrf-remote"
)

// MQTTConfig selects the broker and topics for the exporter.
type MQTTConfig struct {
	Broker      string
	TopicPrefix string
	QoS         byte
	Username    string
	Password    string
}

// publisher is the part of paho.Client the exporter uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Exporter publishes hub events to <prefix>/<type>.
type Exporter struct {
	client publisher
	prefix string
	qos    byte
	logger *slog.Logger
}

// ClientID derives a stable client ID from the machine ID, falling back to
// the host-independent app name.
func ClientID() string {
	id, err := machineid.ProtectedID(appID)
	if err != nil {
		return appID
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return appID + "-" + id
}

// Topic returns the topic an event type is published on.
func Topic(prefix string, t Type) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return string(t)
	}
	return prefix + "/" + string(t)
}

// DialMQTT connects to the broker.
func DialMQTT(cfg MQTTConfig, logger *slog.Logger) (*Exporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("broker", cfg.Broker)

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker).
		SetClientID(ClientID()).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("MQTT connection lost", "error", err)
		}).
		SetOnConnectHandler(func(paho.Client) {
			logger.Info("MQTT connected")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("timeout connecting to MQTT broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, err)
	}

	return newExporter(client, cfg, logger), nil
}

func newExporter(client publisher, cfg MQTTConfig, logger *slog.Logger) *Exporter {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &Exporter{client: client, prefix: prefix, qos: cfg.QoS, logger: logger}
}

// Run forwards events from sub until it is closed or ctx is done.
func (e *Exporter) Run(ctx context.Context, sub *Subscription) {
	defer sub.Close()
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := e.forward(ev); err != nil {
				e.logger.Warn("Failed to export event", "type", string(ev.Type), "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (e *Exporter) forward(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	token := e.client.Publish(Topic(e.prefix, ev.Type), e.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timed out")
	}
	return token.Error()
}

// Close disconnects from the broker.
func (e *Exporter) Close() {
	e.client.Disconnect(250)
}
