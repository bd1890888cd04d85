package mqtt

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/devlink-io/devlink/pkg/log"
)

type subscription struct {
	qos     int
	handler MessageHandler
}

type pahoClient struct {
	cfg *ClientConfig
	cm  *autopaho.ConnectionManager

	mu   sync.RWMutex
	subs map[string]subscription // topic filter -> handler, replayed on reconnect
}

// NewClient validates cfg and returns an unstarted client.
func NewClient(cfg *ClientConfig) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt config is required")
	}

	setDefaultConfig(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	return &pahoClient{
		cfg:  cfg,
		subs: make(map[string]subscription),
	}, nil
}

func (c *pahoClient) Start(ctx context.Context) error {
	brokerURL, _ := url.Parse(c.cfg.BrokerURL) // Validate already ran

	var will *paho.WillMessage
	if c.cfg.WillTopic != "" {
		will = &paho.WillMessage{
			Topic:   c.cfg.WillTopic,
			Payload: c.cfg.WillPayload,
			QoS:     c.cfg.WillQoS,
			Retain:  c.cfg.WillRetain,
		}
	}

	cm, err := autopaho.NewConnection(ctx, autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     c.cfg.KeepAlive,
		CleanStartOnInitialConnection: c.cfg.CleanStart,
		SessionExpiryInterval:         c.cfg.SessionExpiry,
		ReconnectBackoff:              autopaho.NewConstantBackoff(3 * time.Second),
		ConnectTimeout:                c.cfg.ConnectTimeout,
		ConnectUsername:               c.cfg.Username,
		ConnectPassword:               []byte(c.cfg.Password),
		TlsCfg:                        c.cfg.TLSConfig,
		WillMessage:                   will,
		OnConnectionUp:                c.onConnectionUp,
		OnConnectError: func(err error) {
			log.Error(err, "MQTT connect failed, retrying")
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.cfg.ClientID,
			OnClientError: func(err error) {
				log.Error(err, "MQTT client error")
			},
			OnServerDisconnect: onServerDisconnect,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				c.route,
			},
		},
	})
	if err != nil {
		return err
	}

	log.Info("MQTT client started", "broker", c.cfg.BrokerURL, "clientID", c.cfg.ClientID)
	c.cm = cm
	return nil
}

func (c *pahoClient) Disconnect(ctx context.Context) {
	if c.cm != nil {
		_ = c.cm.Disconnect(ctx)
	}
}

func (c *pahoClient) AwaitConnection(ctx context.Context) error {
	if c.cm == nil {
		return fmt.Errorf("client not started")
	}
	return c.cm.AwaitConnection(ctx)
}

func (c *pahoClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	if c.cm == nil {
		return fmt.Errorf("client not started")
	}

	_, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     byte(qos),
		Retain:  retain,
		Payload: payload,
	})
	return err
}

// Subscribe registers the handler, then sends the SUBSCRIBE packet. The
// registration survives reconnects; onConnectionUp replays it.
func (c *pahoClient) Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error {
	if c.cm == nil {
		return fmt.Errorf("client not started")
	}

	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	if _, err := c.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: byte(qos)}},
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	log.Info("Subscribed", "topic", topic)
	return nil
}

func (c *pahoClient) Unsubscribe(ctx context.Context, topic string) error {
	if c.cm == nil {
		return fmt.Errorf("client not started")
	}

	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	_, err := c.cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{topic}})
	return err
}

// onConnectionUp replays every registered subscription. The broker may have
// expired the session while we were away.
func (c *pahoClient) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	log.Info("MQTT connection up")

	c.mu.RLock()
	filters := make(map[string]int, len(c.subs))
	for topic, sub := range c.subs {
		filters[topic] = sub.qos
	}
	c.mu.RUnlock()

	for topic, qos := range filters {
		if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: byte(qos)}},
		}); err != nil {
			log.Error(err, "Re-subscribe failed", "topic", topic)
		}
	}
}

// route finds the handlers whose filter matches the inbound topic and runs
// them off the reader goroutine. Wildcard filters rule out a map lookup, but
// the filter count here is a handful, so the scan is cheap.
func (c *pahoClient) route(p paho.PublishReceived) (bool, error) {
	c.mu.RLock()
	var handlers []MessageHandler
	for filter, sub := range c.subs {
		if topicsMatch(filter, p.Packet.Topic) {
			handlers = append(handlers, sub.handler)
		}
	}
	c.mu.RUnlock()

	if len(handlers) == 0 {
		log.Debug("Message on unhandled topic", "topic", p.Packet.Topic)
	}
	for _, h := range handlers {
		go h(context.Background(), p.Packet.Topic, p.Packet.Payload)
	}

	return true, nil
}

func onServerDisconnect(d *paho.Disconnect) {
	reason := fmt.Sprintf("code %d", d.ReasonCode)
	if d.Properties != nil && d.Properties.ReasonString != "" {
		reason = d.Properties.ReasonString
	}
	log.Warn("MQTT server closed the connection", "reason", reason)
}

// topicsMatch reports whether an MQTT topic filter ("+" matches one level,
// "#" matches the rest) accepts the given concrete topic.
func topicsMatch(filter, topic string) bool {
	for {
		fPart, fRest, fMore := strings.Cut(filter, "/")
		tPart, tRest, tMore := strings.Cut(topic, "/")

		if fPart == "#" {
			return true
		}
		if fPart != "+" && fPart != tPart {
			return false
		}
		if fMore != tMore {
			// "a/#" still matches "a" itself.
			return fMore && fRest == "#"
		}
		if !fMore {
			return true
		}
		filter, topic = fRest, tRest
	}
}
