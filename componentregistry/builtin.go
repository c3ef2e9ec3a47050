package componentregistry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Elon-Abulafia/PipeRT/component"
	"github.com/Elon-Abulafia/PipeRT/config"
	"github.com/Elon-Abulafia/PipeRT/contrib/display"
	"github.com/Elon-Abulafia/PipeRT/contrib/relay"
	"github.com/Elon-Abulafia/PipeRT/contrib/source"
	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/pipeline"
	"github.com/Elon-Abulafia/PipeRT/pkg/tlsutil"
	"github.com/Elon-Abulafia/PipeRT/transport"
	"github.com/Elon-Abulafia/PipeRT/transport/transports"
)

// Keys read from a component's settings by every built-in type
const (
	TransportKey = "transport"
	MaxLenKey    = "max_len"
	TransformKey = "transform"
)

// Register adds the built-in component types to registry
func Register(registry *Registry) error {
	if registry == nil {
		return errors.WrapFatal(fmt.Errorf("%w: registry", errors.ErrMissingConfig),
			"ComponentRegistry", "Register", "registry validation")
	}

	builtins := []Registration{
		{
			Name:        "relay",
			Description: "Reads a stream key, transforms each envelope and writes another key",
			Factory:     newRelay,
			Validate:    func(cc config.ComponentConfig) error { _, err := relayConfig(cc); return err },
		},
		{
			Name:        "display",
			Description: "Pairs frames with predictions and serves them over MJPEG and WebSocket",
			Factory:     newDisplay,
			Validate:    func(cc config.ComponentConfig) error { _, err := displayConfig(cc); return err },
		},
		{
			Name:        "source",
			Description: "Publishes image files matching a glob at a fixed frame rate",
			Factory:     newSource,
			Validate:    func(cc config.ComponentConfig) error { _, err := sourceConfig(cc); return err },
		},
	}
	for _, reg := range builtins {
		if err := registry.Register(reg); err != nil {
			return errors.WrapInvalid(err, "ComponentRegistry", "Register", reg.Name+" registration")
		}
	}
	return nil
}

// Default returns a registry holding the built-in types
func Default() *Registry {
	r := NewRegistry()
	if err := Register(r); err != nil {
		panic(err)
	}
	return r
}

// openTransport opens a handler for one routine of a component. The
// component may override the process-wide transport URL and max length.
func openTransport(name, role string, cc config.ComponentConfig, deps Dependencies) (transport.Handler, error) {
	opts := transports.Options{
		MaxLen:     config.GetInt(cc.Config, MaxLenKey, deps.Config.Transport.MaxLen),
		Stream:     deps.Config.Transport.Stream,
		ClientName: name + "-" + role,
		Logger:     deps.Logger.With("component", name),
	}
	if deps.Metrics != nil {
		opts.Metrics = deps.Metrics.CoreMetrics()
		opts.Registry = deps.Metrics
	}
	if tlsCfg := deps.Config.Transport.TLS; tlsCfg != nil {
		secured, err := tlsutil.LoadClientConfig(*tlsCfg)
		if err != nil {
			return nil, errors.Wrap(err, "ComponentRegistry", "openTransport", name+" "+role+" tls")
		}
		opts.TLS = secured
	}
	url := config.GetString(cc.Config, TransportKey, deps.Config.Transport.URL)
	h, err := transports.Open(url, opts)
	if err != nil {
		return nil, errors.Wrap(err, "ComponentRegistry", "openTransport", name+" "+role)
	}
	return h, nil
}

func relayConfig(cc config.ComponentConfig) (relay.Config, error) {
	cfg := relay.DefaultConfig()
	if err := cc.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func displayConfig(cc config.ComponentConfig) (display.Config, error) {
	cfg := display.DefaultConfig()
	if err := cc.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func sourceConfig(cc config.ComponentConfig) (source.Config, error) {
	cfg := source.DefaultConfig()
	if err := cc.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// transformFor resolves a relay's "transform" setting; empty means identity
func transformFor(cc config.ComponentConfig, deps Dependencies) (pipeline.TransformFunc, error) {
	name := config.GetString(cc.Config, TransformKey, "")
	if name == "" || name == "identity" {
		return pipeline.Identity, nil
	}
	if fn, ok := deps.Transforms[name]; ok {
		return fn, nil
	}
	known := make([]string, 0, len(deps.Transforms)+1)
	known = append(known, "identity")
	for k := range deps.Transforms {
		known = append(known, k)
	}
	sort.Strings(known)
	return nil, errors.WrapInvalid(fmt.Errorf("%w: unknown transform %q (known: %s)", errors.ErrInvalidConfig, name, strings.Join(known, ", ")),
		"ComponentRegistry", "transformFor", "resolve transform")
}

func newRelay(name string, cc config.ComponentConfig, deps Dependencies) (*component.Component, error) {
	cfg, err := relayConfig(cc)
	if err != nil {
		return nil, err
	}
	transform, err := transformFor(cc, deps)
	if err != nil {
		return nil, err
	}
	in, err := openTransport(name, "in", cc, deps)
	if err != nil {
		return nil, err
	}
	out, err := openTransport(name, "out", cc, deps)
	if err != nil {
		return nil, err
	}
	return relay.New(name, cfg, relay.Dependencies{
		Input:     in,
		Output:    out,
		Transform: transform,
		Options:   componentOptions(cc, deps),
	})
}

func newDisplay(name string, cc config.ComponentConfig, deps Dependencies) (*component.Component, error) {
	cfg, err := displayConfig(cc)
	if err != nil {
		return nil, err
	}
	h, err := openTransport(name, "in", cc, deps)
	if err != nil {
		return nil, err
	}
	d, err := display.New(name, cfg, display.Dependencies{
		Transport:  h,
		Visualizer: deps.Visualizer,
		Options:    componentOptions(cc, deps),
	})
	if err != nil {
		return nil, err
	}
	return d.Component, nil
}

func newSource(name string, cc config.ComponentConfig, deps Dependencies) (*component.Component, error) {
	cfg, err := sourceConfig(cc)
	if err != nil {
		return nil, err
	}
	out, err := openTransport(name, "out", cc, deps)
	if err != nil {
		return nil, err
	}
	return source.New(name, cfg, source.Dependencies{
		Output:  out,
		Options: componentOptions(cc, deps),
	})
}
