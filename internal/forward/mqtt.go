package forward

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/blehr/pkg/config"
)

// MQTTPublisher publishes each sample as a JSON message on a single topic.
type MQTTPublisher struct {
	client   mqtt.Client
	topic    string
	qos      byte
	retained bool
	logger   *logrus.Logger
}

// NewMQTTPublisher connects to the broker. The client reconnects on its own afterwards.
func NewMQTTPublisher(cfg config.MQTTConfig, logger *logrus.Logger) (*MQTTPublisher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "blehr-" + uuid.NewString()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.WithField("error", err).Warn("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, token.Error())
	}
	logger.WithFields(logrus.Fields{
		"broker":    cfg.Broker,
		"client_id": clientID,
		"topic":     cfg.Topic,
	}).Info("Connected to MQTT broker")

	return newMQTTPublisher(client, cfg, logger), nil
}

func newMQTTPublisher(client mqtt.Client, cfg config.MQTTConfig, logger *logrus.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client:   client,
		topic:    cfg.Topic,
		qos:      cfg.QoS,
		retained: cfg.Retained,
		logger:   logger,
	}
}

func (p *MQTTPublisher) Name() string { return "mqtt" }

// Publish waits for the broker acknowledgement or ctx, whichever comes first.
func (p *MQTTPublisher) Publish(ctx context.Context, msg Message) error {
	payload, err := msg.JSON()
	if err != nil {
		return err
	}
	token := p.client.Publish(p.topic, p.qos, p.retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to topic %s: %w", p.topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", p.topic, err)
	}
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250) // ms to let in-flight publishes finish
	return nil
}
