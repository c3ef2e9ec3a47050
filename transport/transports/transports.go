// Package transports opens a transport.Handler from a URL
package transports

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/metric"
	"github.com/Elon-Abulafia/PipeRT/natsclient"
	"github.com/Elon-Abulafia/PipeRT/transport"
	"github.com/Elon-Abulafia/PipeRT/transport/memory"
	"github.com/Elon-Abulafia/PipeRT/transport/mqtt"
	"github.com/Elon-Abulafia/PipeRT/transport/natsstream"
)

// DefaultMemoryStore is the shared store used by "memory://" without a name
const DefaultMemoryStore = "default"

// Options tune the opened handler
type Options struct {
	// MaxLen is the number of entries kept per key
	MaxLen int
	// Stream names the JetStream stream for nats:// URLs
	Stream string
	// ClientName identifies the connection to the broker
	ClientName string
	// TLS secures broker connections; ignored by memory://
	TLS    *tls.Config
	Logger *slog.Logger
	// Metrics, when set, wraps the handler with transfer metrics
	Metrics *metric.Metrics
	// Registry, when set, receives broker-side stream metrics (nats:// only)
	Registry *metric.MetricsRegistry
}

// Open returns a handler for rawURL. Supported schemes:
//
//	memory://[name]            process-wide in-memory store
//	nats://host:port           JetStream stream, newest message per subject
//	mqtt://, mqtts://, ws://   MQTT v5 broker with retained messages
//
// The handler is not connected yet.
func Open(rawURL string, opts Options) (transport.Handler, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.WrapInvalid(err, "transports", "Open", "parse url")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = transport.DefaultMaxLen
	}

	scheme := strings.ToLower(u.Scheme)
	var h transport.Handler

	switch scheme {
	case "memory":
		name := u.Host
		if name == "" {
			name = DefaultMemoryStore
		}
		h = memory.New(memory.Shared(name, opts.MaxLen))

	case "nats", "tls":
		var clientOpts []natsclient.ClientOption
		if opts.ClientName != "" {
			clientOpts = append(clientOpts, natsclient.WithName(opts.ClientName))
		}
		if opts.TLS != nil {
			clientOpts = append(clientOpts, natsclient.WithTLSConfig(opts.TLS))
		}
		if opts.Registry != nil {
			clientOpts = append(clientOpts, natsclient.WithMetrics(opts.Registry))
		}
		h, err = natsstream.New(natsstream.Config{
			URL:           rawURL,
			Stream:        opts.Stream,
			MaxLen:        opts.MaxLen,
			ClientOptions: clientOpts,
			Logger:        opts.Logger,
		})

	case "mqtt", "mqtts", "ws", "wss":
		h, err = mqtt.New(mqtt.Config{
			URL:      rawURL,
			ClientID: opts.ClientName,
			TLS:      opts.TLS,
			Logger:   opts.Logger,
		})

	default:
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrUnsupportedScheme, u.Scheme),
			"transports", "Open", "select adapter")
	}
	if err != nil {
		return nil, err
	}

	return transport.Instrument(h, scheme, opts.Metrics), nil
}
