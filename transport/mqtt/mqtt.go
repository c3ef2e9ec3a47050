// Package mqtt is a transport backed by an MQTT v5 broker. Every stream key
// maps to one topic. Send publishes retained messages so the broker keeps the
// newest value per topic; Receive subscribes to a key on first use and
// returns the newest payload seen since.
package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/Elon-Abulafia/PipeRT/errors"
)

// DefaultTopicPrefix is prepended to every key
const DefaultTopicPrefix = "pipert"

// Config describes the broker connection
type Config struct {
	URL            string
	ClientID       string
	TopicPrefix    string
	QoS            byte
	KeepAlive      uint16
	ConnectTimeout time.Duration
	// TLS secures mqtts:// and wss:// connections
	TLS    *tls.Config
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = "pipert-" + uuid.NewString()[:8]
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = DefaultTopicPrefix
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = 20
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Handler implements transport.Handler over MQTT
type Handler struct {
	cfg    Config
	server *url.URL
	logger *slog.Logger

	mu         sync.Mutex
	cm         *autopaho.ConnectionManager
	subscribed map[string]bool

	latestMu sync.RWMutex
	latest   map[string][]byte
}

// New validates cfg; nothing is dialled until Connect
func New(cfg Config) (*Handler, error) {
	if cfg.URL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "mqtt", "New", "validate url")
	}
	if cfg.QoS > 2 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: qos %d", errors.ErrInvalidConfig, cfg.QoS), "mqtt", "New", "validate qos")
	}
	server, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.WrapInvalid(err, "mqtt", "New", "parse url")
	}
	cfg = cfg.withDefaults()

	return &Handler{
		cfg:        cfg,
		server:     server,
		logger:     cfg.Logger.With("transport", "mqtt", "client_id", cfg.ClientID),
		subscribed: make(map[string]bool),
		latest:     make(map[string][]byte),
	}, nil
}

// Topic returns the topic a key is stored under. MQTT wildcards are
// replaced with underscores.
func (h *Handler) Topic(key string) string {
	return Topic(h.cfg.TopicPrefix, key)
}

var topicReplacer = strings.NewReplacer("+", "_", "#", "_")

// Topic maps key onto a topic below prefix
func Topic(prefix, key string) string {
	return prefix + "/" + topicReplacer.Replace(key)
}

// Connect starts the connection manager and waits for the first connection.
// autopaho reconnects on its own afterwards.
func (h *Handler) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cm != nil {
		return nil
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{h.server},
		TlsCfg:                        h.cfg.TLS,
		KeepAlive:                     h.cfg.KeepAlive,
		CleanStartOnInitialConnection: true,
		ConnectTimeout:                h.cfg.ConnectTimeout,
		ConnectPacketBuilder: func(pc *paho.Connect, uri *url.URL) (*paho.Connect, error) {
			if uri.User == nil {
				return pc, nil
			}
			pc.UsernameFlag = true
			pc.Username = uri.User.Username()
			if pwd, ok := uri.User.Password(); ok {
				pc.PasswordFlag = true
				pc.Password = []byte(pwd)
			}
			return pc, nil
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			h.logger.Info("MQTT connection up")
			h.resubscribe(cm)
		},
		OnConnectError: func(err error) {
			h.logger.Warn("MQTT connect attempt failed", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: h.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					h.store(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}

	cm, err := autopaho.NewConnection(context.Background(), cfg)
	if err != nil {
		return errors.WrapInvalid(err, "mqtt", "Connect", "configure connection")
	}
	if err := cm.AwaitConnection(ctx); err != nil {
		_ = cm.Disconnect(context.Background())
		return errors.WrapTransient(err, "mqtt", "Connect", "await connection")
	}

	h.cm = cm
	return nil
}

func (h *Handler) store(topic string, payload []byte) {
	h.latestMu.Lock()
	defer h.latestMu.Unlock()
	h.latest[topic] = payload
}

// resubscribe restores subscriptions after a reconnect
func (h *Handler) resubscribe(cm *autopaho.ConnectionManager) {
	h.mu.Lock()
	topics := make([]string, 0, len(h.subscribed))
	for t := range h.subscribed {
		topics = append(topics, t)
	}
	h.mu.Unlock()

	for _, t := range topics {
		go func(topic string) {
			ctx, cancel := context.WithTimeout(context.Background(), h.cfg.ConnectTimeout)
			defer cancel()
			if err := h.subscribe(ctx, cm, topic); err != nil {
				h.logger.Error("MQTT resubscribe failed", "topic", topic, "error", err)
			}
		}(t)
	}
}

func (h *Handler) subscribe(ctx context.Context, cm *autopaho.ConnectionManager, topic string) error {
	_, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: h.cfg.QoS}},
	})
	return err
}

func (h *Handler) manager() (*autopaho.ConnectionManager, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cm == nil {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "mqtt", "manager", "use connection")
	}
	return h.cm, nil
}

// Receive returns the newest payload seen for key. The first call for a key
// subscribes to its topic; the broker then delivers the retained value.
func (h *Handler) Receive(ctx context.Context, key string) ([]byte, error) {
	cm, err := h.manager()
	if err != nil {
		return nil, err
	}
	topic := h.Topic(key)

	h.mu.Lock()
	known := h.subscribed[topic]
	h.mu.Unlock()

	if !known {
		if err := h.subscribe(ctx, cm, topic); err != nil {
			return nil, errors.WrapTransient(err, "mqtt", "Receive", "subscribe "+topic)
		}
		h.mu.Lock()
		h.subscribed[topic] = true
		h.mu.Unlock()
	}

	h.latestMu.RLock()
	defer h.latestMu.RUnlock()
	return h.latest[topic], nil
}

// Send publishes data as the retained value of key
func (h *Handler) Send(ctx context.Context, key string, data []byte) error {
	cm, err := h.manager()
	if err != nil {
		return err
	}

	_, err = cm.Publish(ctx, &paho.Publish{
		Topic:   h.Topic(key),
		QoS:     h.cfg.QoS,
		Retain:  true,
		Payload: data,
	})
	if err != nil {
		return errors.WrapTransient(err, "mqtt", "Send", "publish "+key)
	}
	return nil
}

// Close disconnects from the broker
func (h *Handler) Close(ctx context.Context) error {
	h.mu.Lock()
	cm := h.cm
	h.cm = nil
	h.subscribed = make(map[string]bool)
	h.mu.Unlock()

	if cm == nil {
		return nil
	}
	if err := cm.Disconnect(ctx); err != nil {
		return errors.Wrap(err, "mqtt", "Close", "disconnect")
	}
	return nil
}
