// Package display provides a component that shows a frame stream with its
// metadata drawn on top.
//
// The component fetches the newest frame and metadata envelopes from two
// stream keys, pairs them by fetch order, renders them with a Visualizer and
// serves the result over HTTP:
//
//	GET /        minimal viewer page
//	GET /video   MJPEG stream (multipart/x-mixed-replace)
//	GET /frame   newest frame as one JPEG
//	GET /ws      WebSocket feed of frame summaries (id, latency, history)
//
// With Config.TLS set the same routes are served over HTTPS.
//
// Payloads of the frame stream are expected to be JPEG encoded.
package display

import (
	"context"
	"fmt"

	"github.com/Elon-Abulafia/PipeRT/component"
	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/message"
	"github.com/Elon-Abulafia/PipeRT/pkg/queue"
	"github.com/Elon-Abulafia/PipeRT/pkg/retry"
	"github.com/Elon-Abulafia/PipeRT/pkg/tlsutil"
	"github.com/Elon-Abulafia/PipeRT/pkg/worker"
	"github.com/Elon-Abulafia/PipeRT/routine"
	"github.com/Elon-Abulafia/PipeRT/transport"
)

// Queue and worker names
const (
	PairQueue    = "pairs"
	DisplayQueue = "display"

	ReceiveRoutine   = "get_frames_and_preds"
	VisualizeRoutine = "visualize"
	BroadcastRoutine = "broadcast"
	ServerWorker     = "http"
)

// Config is the display's component-specific configuration
type Config struct {
	FrameKey string `json:"frame_key" yaml:"frame_key"`
	MetaKey  string `json:"meta_key" yaml:"meta_key"`
	// Addr is the HTTP listen address
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
	// TLS serves the endpoints over HTTPS
	TLS *tlsutil.ServerConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// DefaultConfig matches the usual camera layout
func DefaultConfig() Config {
	return Config{
		FrameKey: "camera:0",
		MetaKey:  "camera:2",
		Addr:     "0.0.0.0:5000",
	}
}

// Validate checks the keys and address
func (c Config) Validate() error {
	if c.FrameKey == "" || c.MetaKey == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: frame_key and meta_key are required", errors.ErrMissingConfig),
			"display", "Validate", "check keys")
	}
	if c.Addr == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: addr is required", errors.ErrMissingConfig),
			"display", "Validate", "check addr")
	}
	if c.TLS != nil && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return errors.WrapInvalid(fmt.Errorf("%w: tls needs cert_file and key_file", errors.ErrMissingConfig),
			"display", "Validate", "check tls")
	}
	return nil
}

// Dependencies are the display's collaborators. A nil Visualizer shows
// frames unchanged.
type Dependencies struct {
	Transport  transport.Handler
	Visualizer Visualizer
	Options    []component.Option
}

// Display is the display component
type Display struct {
	*component.Component
	server *server
	hub    *hub
}

// New builds the display component in the Created state
func New(name string, cfg Config, deps Dependencies) (*Display, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Transport == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: transport", errors.ErrMissingConfig),
			"display", "New", "check dependencies")
	}

	d := &Display{hub: newHub()}
	opts := append(append([]component.Option(nil), deps.Options...), component.WithTeardown(d.teardown))
	d.Component = component.New(name, opts...)
	d.server = newServer(name, cfg.Addr, d.hub, d.Logger())
	if cfg.TLS != nil {
		tlsConfig, err := tlsutil.LoadServerConfig(*cfg.TLS)
		if err != nil {
			return nil, errors.Wrap(err, "display", "New", "load tls")
		}
		d.server.tls = tlsConfig
	}

	if registry := d.Metrics(); registry != nil {
		if err := d.server.registerMetrics(registry); err != nil {
			d.Logger().Warn("Display viewer metrics unavailable", "error", err)
		}
	}

	component.CreateQueue[Pair](d.Component, PairQueue, 1)
	component.CreateQueue[*message.Message](d.Component, DisplayQueue, 1)
	pairs := component.MustQueue[Pair](d.Component, PairQueue)
	shown := component.MustQueue[*message.Message](d.Component, DisplayQueue)

	routines := []struct {
		name   string
		logic  routine.Logic
		queues []queue.Handle
	}{
		{ReceiveRoutine, &pairReceiver{
			handler:  deps.Transport,
			frameKey: cfg.FrameKey,
			metaKey:  cfg.MetaKey,
			out:      pairs,
			connect:  retry.Connect(),
		}, []queue.Handle{pairs}},
		{VisualizeRoutine, &visualize{in: pairs, out: shown, vis: deps.Visualizer}, []queue.Handle{pairs, shown}},
		{BroadcastRoutine, &broadcast{in: shown, hub: d.hub}, []queue.Handle{shown}},
	}
	for _, r := range routines {
		if _, err := d.AddRoutine(r.name, r.logic, routine.WithQueues(r.queues...)); err != nil {
			return nil, errors.Wrap(err, "display", "New", "register "+r.name)
		}
	}

	srv, err := worker.NewBackground(ServerWorker, d.server.serve)
	if err != nil {
		return nil, err
	}
	if err := d.RegisterRoutine(srv); err != nil {
		return nil, errors.Wrap(err, "display", "New", "register "+ServerWorker)
	}
	return d, nil
}

// Addr returns the HTTP address, the bound one once listening
func (d *Display) Addr() string { return d.server.address() }

// Ready is closed once the HTTP server is listening
func (d *Display) Ready() <-chan struct{} { return d.server.ready }

// Viewers returns the number of connected viewers
func (d *Display) Viewers() int { return d.hub.count() }

// teardown ends every open stream so the HTTP server can shut down
func (d *Display) teardown(context.Context) error {
	d.hub.close()
	return nil
}
