// Package natsstream is a transport backed by NATS JetStream. Every stream key
// maps to one subject of a single stream that keeps MaxLen messages per
// subject, so Receive reads the newest message directly.
package natsstream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/natsclient"
	"github.com/Elon-Abulafia/PipeRT/transport"
)

// Defaults for Config
const (
	DefaultStream        = "PIPERT"
	DefaultSubjectPrefix = "pipert"
)

// Config describes the JetStream stream backing the transport
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	MaxLen        int
	MaxAge        time.Duration
	// FileStorage keeps messages on disk instead of in server memory
	FileStorage   bool
	ClientOptions []natsclient.ClientOption
	Logger        *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = DefaultSubjectPrefix
	}
	if c.MaxLen <= 0 {
		c.MaxLen = transport.DefaultMaxLen
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Handler implements transport.Handler over one JetStream stream
type Handler struct {
	cfg    Config
	client *natsclient.Client
	logger *slog.Logger
}

// New creates a handler; nothing is dialled until Connect
func New(cfg Config) (*Handler, error) {
	if cfg.URL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "natsstream", "New", "validate url")
	}
	cfg = cfg.withDefaults()

	opts := append([]natsclient.ClientOption{natsclient.WithLogger(cfg.Logger)}, cfg.ClientOptions...)
	client, err := natsclient.NewClient(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}

	return &Handler{
		cfg:    cfg,
		client: client,
		logger: cfg.Logger.With("transport", "nats", "stream", cfg.Stream),
	}, nil
}

// Client returns the underlying NATS client
func (h *Handler) Client() *natsclient.Client { return h.client }

// Subject returns the subject a key is stored under. Characters NATS
// reserves for tokens and wildcards are replaced with underscores.
func (h *Handler) Subject(key string) string {
	return Subject(h.cfg.SubjectPrefix, key)
}

var subjectReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

// Subject maps key onto a subject below prefix
func Subject(prefix, key string) string {
	return prefix + "." + subjectReplacer.Replace(key)
}

// Connect dials NATS when needed and creates or updates the stream
func (h *Handler) Connect(ctx context.Context) error {
	if !h.client.IsHealthy() {
		if err := h.client.Connect(ctx); err != nil {
			return err
		}
	}

	storage := jetstream.MemoryStorage
	if h.cfg.FileStorage {
		storage = jetstream.FileStorage
	}

	_, err := h.client.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:              h.cfg.Stream,
		Subjects:          []string{h.cfg.SubjectPrefix + ".>"},
		MaxMsgsPerSubject: int64(h.cfg.MaxLen),
		MaxAge:            h.cfg.MaxAge,
		Storage:           storage,
		Discard:           jetstream.DiscardOld,
	})
	if err != nil {
		return err
	}

	h.logger.Info("NATS stream transport ready", "max_len", h.cfg.MaxLen, "subjects", h.cfg.SubjectPrefix+".>")
	return nil
}

// Receive returns the newest message stored under key
func (h *Handler) Receive(ctx context.Context, key string) ([]byte, error) {
	data, err := h.client.LastMessage(ctx, h.cfg.Stream, h.Subject(key))
	if err != nil {
		return nil, fmt.Errorf("receive %q: %w", key, err)
	}
	return data, nil
}

// Send appends data under key
func (h *Handler) Send(ctx context.Context, key string, data []byte) error {
	if err := h.client.PublishToStream(ctx, h.Subject(key), data); err != nil {
		return fmt.Errorf("send %q: %w", key, err)
	}
	return nil
}

// Close drains the connection
func (h *Handler) Close(ctx context.Context) error {
	return h.client.Close(ctx)
}
