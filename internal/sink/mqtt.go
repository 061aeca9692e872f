// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sink

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/fleetsim/internal/config"
	"github.com/ManuGH/fleetsim/internal/log"
	"github.com/ManuGH/fleetsim/internal/metrics"
	"github.com/ManuGH/fleetsim/internal/sim/event"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
)

const mqttConnectTimeout = 10 * time.Second

// Publisher is the part of an MQTT client the sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// PositionPayload is published on <prefix>/vehicles/<id>/position.
type PositionPayload struct {
	VehicleID string    `json:"vehicle_id"`
	Lon       float64   `json:"lon"`
	Lat       float64   `json:"lat"`
	Time      time.Time `json:"ts"`
}

// MQTT publishes throttled positions and every event transition. Publishes
// are fire-and-forget; failures surface in the sink error counter.
type MQTT struct {
	pub         Publisher
	client      mqtt.Client
	prefix      string
	qos         byte
	minInterval time.Duration
	now         func() time.Time
	logger      zerolog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewMQTT connects to the configured broker.
func NewMQTT(cfg config.MQTTConfig) (*MQTT, error) {
	logger := log.WithComponent("mqtt")
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn().Err(err).Str(log.FieldEvent, "mqtt.connection_lost").Msg("mqtt connection lost")
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info().Str(log.FieldEvent, "mqtt.connected").Str("broker", cfg.Broker).Msg("mqtt connected")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect %s: timeout after %s", cfg.Broker, mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	m := NewMQTTWithPublisher(client, cfg)
	m.client = client
	return m, nil
}

// NewMQTTWithPublisher builds the sink on an existing publisher.
func NewMQTTWithPublisher(pub Publisher, cfg config.MQTTConfig) *MQTT {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "fleetsim"
	}
	return &MQTT{
		pub:         pub,
		prefix:      prefix,
		qos:         byte(cfg.QoS),
		minInterval: cfg.MinInterval,
		now:         time.Now,
		logger:      log.WithComponent("mqtt"),
		lastSent:    make(map[string]time.Time),
	}
}

func (m *MQTT) Name() string { return "mqtt" }

// SetVehiclePosition publishes at most one position per vehicle per
// minimum interval.
func (m *MQTT) SetVehiclePosition(id string, p orb.Point) {
	now := m.now()
	m.mu.Lock()
	last, ok := m.lastSent[id]
	if ok && now.Sub(last) < m.minInterval {
		m.mu.Unlock()
		return
	}
	m.lastSent[id] = now
	m.mu.Unlock()

	m.publish(fmt.Sprintf("%s/vehicles/%s/position", m.prefix, id),
		PositionPayload{VehicleID: id, Lon: p.Lon(), Lat: p.Lat(), Time: now})
}

func (m *MQTT) OnEventCreated(ev event.View) {
	m.publish(fmt.Sprintf("%s/events/%s/created", m.prefix, ev.Kind), ev)
}

func (m *MQTT) OnEventExpired(ev event.View) {
	m.publish(fmt.Sprintf("%s/events/%s/expired", m.prefix, ev.Kind), ev)
}

func (m *MQTT) publish(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		metrics.IncSinkError(m.Name())
		return
	}
	token := m.pub.Publish(topic, m.qos, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			metrics.IncSinkError(m.Name())
			m.logger.Debug().Err(err).Str(log.FieldEvent, "mqtt.publish_failed").Str("topic", topic).Msg("publish failed")
		}
	default:
	}
}

// Close disconnects from the broker, allowing in-flight publishes 250ms.
func (m *MQTT) Close() {
	if m.client != nil {
		m.client.Disconnect(250)
	}
}
