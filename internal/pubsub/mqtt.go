// Package pubsub provides implementations of message publishers.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/go-tmtc/internal/config"
)

const (
	publishTimeout = 5 * time.Second

	statusOnline  = "online"
	statusOffline = "offline"
)

// NoopPublisher is a no-operation implementation of the MessagePublisher interface.
type NoopPublisher struct{}

// NewNoopPublisher creates a new no-operation publisher.
func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

// Connect is a no-op for the NoopPublisher.
func (p *NoopPublisher) Connect(_ context.Context) error {
	return nil
}

// Publish is a no-op for the NoopPublisher.
func (p *NoopPublisher) Publish(_ context.Context, _ string, _ interface{}) error {
	return nil
}

// Close is a no-op for the NoopPublisher.
func (p *NoopPublisher) Close() error {
	return nil
}

// MQTTPublisher implements the MessagePublisher interface for MQTT.
type MQTTPublisher struct {
	config        *config.Config
	logger        zerolog.Logger
	clientFactory func(*config.Config, *MQTTPublisher) mqtt.Client // Factory function for creating MQTT clients (testable)

	mu        sync.RWMutex
	client    mqtt.Client
	connected bool

	stop     chan struct{}
	stopOnce sync.Once
	retries  sync.WaitGroup
}

// NewMQTTPublisher creates a new MQTT publisher.
func NewMQTTPublisher(cfg *config.Config) *MQTTPublisher {
	return &MQTTPublisher{
		config:        cfg,
		logger:        log.With().Str("component", "mqtt").Logger(),
		clientFactory: createMQTTClient,
		stop:          make(chan struct{}),
	}
}

// NewMQTTPublisherWithClient creates a new MQTT publisher with a custom client (for testing).
func NewMQTTPublisherWithClient(cfg *config.Config, client mqtt.Client) *MQTTPublisher {
	p := NewMQTTPublisher(cfg)
	p.client = client
	return p
}

// StatusTopic is where the publisher announces its availability.
func (p *MQTTPublisher) StatusTopic() string {
	return Topic(p.config.MQTT.Topic, "status")
}

// createMQTTClient is the default factory function for creating MQTT clients.
func createMQTTClient(cfg *config.Config, p *MQTTPublisher) mqtt.Client {
	timeout := time.Duration(cfg.MQTT.ConnectionTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port)).
		SetClientID(fmt.Sprintf("go-tmtc-%d", time.Now().UnixNano())).
		SetAutoReconnect(true).
		SetConnectTimeout(timeout).
		SetWriteTimeout(publishTimeout).
		SetKeepAlive(30*time.Second).
		SetCleanSession(true).
		SetWill(p.StatusTopic(), statusOffline, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	// Set credentials if provided
	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}

	return mqtt.NewClient(opts)
}

// onConnect is called by the client whenever a connection is made or
// remade.
func (p *MQTTPublisher) onConnect(client mqtt.Client) {
	p.logger.Info().Msg("MQTT connection established")
	p.setConnected(true)
	token := client.Publish(p.StatusTopic(), 1, true, statusOnline)
	go func() {
		if token.WaitTimeout(publishTimeout) && token.Error() != nil {
			p.logger.Warn().Err(token.Error()).Msg("Failed to publish availability")
		}
	}()
}

func (p *MQTTPublisher) onConnectionLost(_ mqtt.Client, err error) {
	p.setConnected(false)
	p.logger.Warn().Err(err).Msg("MQTT connection lost")
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

// IsConnected reports whether the broker connection is up.
func (p *MQTTPublisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// Connect establishes a connection to the MQTT broker. A failed first
// attempt is not an error: the publisher keeps retrying in the background
// with exponential backoff and drops messages until it is connected.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	// If MQTT is disabled, do nothing
	if !p.config.MQTT.Enabled {
		return nil
	}

	p.mu.Lock()
	if p.client == nil {
		p.client = p.clientFactory(p.config, p)
	}
	p.mu.Unlock()

	if err := p.connectOnce(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("MQTT broker not reachable, retrying in background")
		p.retries.Add(1)
		go p.retry()
		return nil
	}
	return nil
}

func (p *MQTTPublisher) connectOnce(ctx context.Context) error {
	timeout := time.Duration(p.config.MQTT.ConnectionTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	connToken := p.client.Connect()

	// Wait for connection or context timeout
	select {
	case <-connectCtx.Done():
		return fmt.Errorf("failed to connect to MQTT broker: timeout after %s", timeout)
	case <-connToken.Done():
		if connToken.Error() != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", connToken.Error())
		}
	}

	p.setConnected(true)
	return nil
}

func (p *MQTTPublisher) retry() {
	defer p.retries.Done()

	attempts := p.config.MQTT.ConnectionRetryAttempts
	delay := time.Duration(p.config.MQTT.ConnectionRetryBaseDelay) * time.Second
	if delay <= 0 {
		delay = time.Second
	}
	for i := 1; i <= attempts; i++ {
		select {
		case <-p.stop:
			return
		case <-time.After(delay):
		}
		if err := p.connectOnce(context.Background()); err != nil {
			p.logger.Warn().Err(err).Int("attempt", i).Int("max_attempts", attempts).Msg("MQTT connection attempt failed")
			delay *= 2
			continue
		}
		p.logger.Info().Int("attempt", i).Msg("MQTT connected after retry")
		return
	}
	p.logger.Error().Int("attempts", attempts).Msg("Giving up connecting to the MQTT broker")
}

// Publish sends data to the specified topic. Byte slices are sent as is,
// anything else as JSON.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, data interface{}) error {
	if !p.config.MQTT.Enabled || !p.IsConnected() {
		return nil
	}

	var payload []byte
	switch d := data.(type) {
	case []byte:
		payload = d
	case string:
		payload = []byte(d)
	default:
		var err error
		if payload, err = json.Marshal(data); err != nil {
			return fmt.Errorf("failed to marshal data to JSON: %w", err)
		}
	}

	// Publish with context for timeout
	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	token := client.Publish(topic, 0, p.config.MQTT.Retain, payload)

	// Wait for publication or context timeout
	select {
	case <-publishCtx.Done():
		return fmt.Errorf("publish timeout on %s", topic)
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("failed to publish message: %w", token.Error())
		}
	}

	p.logger.Debug().Str("topic", topic).Int("bytes", len(payload)).Msg("Published message")
	return nil
}

// Close announces the publisher offline and terminates the connection to
// the MQTT broker.
func (p *MQTTPublisher) Close() error {
	p.stopOnce.Do(func() { close(p.stop) })
	p.retries.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && p.connected {
		token := p.client.Publish(p.StatusTopic(), 1, true, statusOffline)
		token.WaitTimeout(time.Second)
		p.client.Disconnect(250) // Disconnect with 250ms timeout
		p.connected = false
	}
	return nil
}

// Topic joins topic levels, skipping empty ones.
func Topic(levels ...string) string {
	parts := make([]string, 0, len(levels))
	for _, l := range levels {
		if l = strings.Trim(l, "/"); l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, "/")
}
