package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/thane-mcp/internal/config"
	"github.com/nugget/thane-mcp/internal/events"
)

// publisher is the part of autopaho.ConnectionManager the forwarder
// uses.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Forwarder publishes bus events to an MQTT broker.
type Forwarder struct {
	cfg      config.MQTTConfig
	clientID string
	bus      *events.Bus
	logger   *slog.Logger

	cm  *autopaho.ConnectionManager
	pub publisher
}

// New creates a Forwarder but does not connect. Call [Forwarder.Start]
// to connect and begin forwarding.
func New(cfg config.MQTTConfig, clientID string, bus *events.Bus, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClientID != "" {
		clientID = cfg.ClientID
	}
	return &Forwarder{
		cfg:      cfg,
		clientID: clientID,
		bus:      bus,
		logger:   logger,
	}
}

// Start connects to the broker and forwards events until ctx is
// cancelled. autopaho keeps reconnecting in the background, so a
// broker that is down at startup is logged, not fatal.
func (f *Forwarder) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(f.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: f.cfg.Username,
		ConnectPassword: []byte(f.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   f.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			f.logger.Info("mqtt connected to broker", "broker", f.cfg.Broker)
			f.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			f.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: f.clientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	f.cm = cm
	f.pub = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		f.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	f.forward(ctx)
	return nil
}

// Stop publishes "offline" and disconnects.
func (f *Forwarder) Stop(ctx context.Context) error {
	if f.cm == nil {
		return nil
	}
	f.publishAvailability(ctx, f.cm, "offline")
	return f.cm.Disconnect(ctx)
}

// forward drains the bus until ctx is cancelled.
func (f *Forwarder) forward(ctx context.Context) {
	ch := f.bus.Subscribe(256)
	defer f.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			f.publishEvent(ctx, e)
		}
	}
}

// message builds the MQTT messages for one event: the event itself
// and, for health transitions, a retained status update.
func (f *Forwarder) messages(e events.Event) ([]*paho.Publish, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	msgs := []*paho.Publish{{
		Topic:   f.eventTopic(e.Server, e.Kind),
		Payload: payload,
		QoS:     0,
	}}

	switch e.Kind {
	case events.KindServerUp:
		msgs = append(msgs, &paho.Publish{Topic: f.statusTopic(e.Server), Payload: []byte("up"), QoS: 1, Retain: true})
	case events.KindServerDown:
		msgs = append(msgs, &paho.Publish{Topic: f.statusTopic(e.Server), Payload: []byte("down"), QoS: 1, Retain: true})
	}
	return msgs, nil
}

func (f *Forwarder) publishEvent(ctx context.Context, e events.Event) {
	if f.pub == nil {
		return
	}
	msgs, err := f.messages(e)
	if err != nil {
		f.logger.Error("mqtt event encode failed", "kind", e.Kind, "error", err)
		return
	}
	for _, m := range msgs {
		if _, err := f.pub.Publish(ctx, m); err != nil {
			f.logger.Debug("mqtt event publish failed", "topic", m.Topic, "error", err)
		}
	}
}

func (f *Forwarder) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   f.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		f.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		f.logger.Info("mqtt availability published", "status", status)
	}
}

// --- Topic helpers ---

func (f *Forwarder) prefix() string {
	return strings.TrimSuffix(f.cfg.TopicPrefix, "/")
}

func (f *Forwarder) availabilityTopic() string {
	return f.prefix() + "/availability"
}

func (f *Forwarder) eventTopic(server, kind string) string {
	return f.prefix() + "/" + topicSegment(server) + "/" + topicSegment(kind)
}

func (f *Forwarder) statusTopic(server string) string {
	return f.prefix() + "/" + topicSegment(server) + "/status"
}

// topicSegment makes s safe as a single topic level: wildcards and
// separators are replaced, and empty becomes "_".
func topicSegment(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
