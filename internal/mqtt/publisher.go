package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/despensa-ai/despensa/internal/config"
)

// StatsSource provides runtime data for the state document. The
// concrete adapter is wired in main to avoid coupling this package to
// the API server or the turn handler.
type StatsSource interface {
	// Uptime returns the process uptime.
	Uptime() time.Duration
	// Version returns the software version string.
	Version() string
	// DefaultModel returns the configured default LLM model name.
	DefaultModel() string
	// ActiveThreads returns the count of threads with recorded history.
	ActiveThreads() int
	// LastTurnTime returns when the most recent turn finished.
	LastTurnTime() time.Time
}

// stateDoc is the retained JSON document published to the state topic.
type stateDoc struct {
	Uptime        string `json:"uptime"`
	Version       string `json:"version"`
	DefaultModel  string `json:"default_model"`
	ActiveThreads int    `json:"active_threads"`
	TurnsToday    int64  `json:"turns_today"`
	TokensToday   int64  `json:"tokens_today"`
	LastTurn      string `json:"last_turn"`
}

// Publisher manages the MQTT connection and runs a periodic loop that
// pushes the state document to the broker.
type Publisher struct {
	cfg      config.MQTTConfig
	counters *DailyCounters
	stats    StatsSource
	logger   *slog.Logger
	cm       *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop.
func New(cfg config.MQTTConfig, counters *DailyCounters, stats StatsSource, logger *slog.Logger) *Publisher {
	return &Publisher{
		cfg:      cfg,
		counters: counters,
		stats:    stats,
		logger:   logger,
	}
}

// Start connects to the MQTT broker and begins the periodic publish
// loop. It blocks until ctx is cancelled. Every (re-)connect publishes
// a birth message and a fresh state document.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
			p.publishState(ctx)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "despensa-" + p.cfg.DeviceName,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	// Wait for the initial connection before starting the publish loop.
	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop gracefully disconnects by publishing an "offline" availability
// message before closing the MQTT connection. The provided context
// controls how long to wait for the publish and disconnect to complete.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

func (p *Publisher) baseTopic() string {
	return "despensa/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic() string {
	return p.baseTopic() + "/state"
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

func (p *Publisher) runLoop(ctx context.Context) {
	interval := time.Duration(p.cfg.PublishIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Publish immediately on start.
	p.publishState(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishState(ctx)
		}
	}
}

// stateDocument assembles the current state payload.
func (p *Publisher) stateDocument() stateDoc {
	turns, input, output := p.counters.Snapshot()

	doc := stateDoc{
		Uptime:        p.stats.Uptime().Truncate(time.Second).String(),
		Version:       p.stats.Version(),
		DefaultModel:  p.stats.DefaultModel(),
		ActiveThreads: p.stats.ActiveThreads(),
		TurnsToday:    turns,
		TokensToday:   input + output,
		LastTurn:      "never",
	}
	if last := p.stats.LastTurnTime(); !last.IsZero() {
		doc.LastTurn = last.Format(time.RFC3339)
	}
	return doc
}

func (p *Publisher) publishState(ctx context.Context) {
	if p.cm == nil {
		return
	}

	payload, err := json.Marshal(p.stateDocument())
	if err != nil {
		p.logger.Error("mqtt marshal state payload", "error", err)
		return
	}

	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.stateTopic(),
		Payload: payload,
		QoS:     0,
		Retain:  true,
	}); err != nil {
		p.logger.Debug("mqtt state publish failed", "error", err)
		return
	}
	p.logger.Debug("mqtt state published", "bytes", len(payload))
}
