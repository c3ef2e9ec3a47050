// Package componentregistry maps component types named in configuration to
// the factories that build them.
package componentregistry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Elon-Abulafia/PipeRT/component"
	"github.com/Elon-Abulafia/PipeRT/config"
	"github.com/Elon-Abulafia/PipeRT/contrib/display"
	"github.com/Elon-Abulafia/PipeRT/control"
	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/metric"
	"github.com/Elon-Abulafia/PipeRT/pipeline"
)

// Dependencies are shared by every component built from one configuration
type Dependencies struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metric.MetricsRegistry

	// Visualizer draws predictions for display components
	Visualizer display.Visualizer
	// Transforms are selectable by name from a relay's "transform" setting
	Transforms map[string]pipeline.TransformFunc
	// Options are applied to every component after the configured ones
	Options []component.Option
}

// Factory builds a component in the Created state. Factories do no I/O.
type Factory func(name string, cc config.ComponentConfig, deps Dependencies) (*component.Component, error)

// Registration describes one component type
type Registration struct {
	Name        string
	Description string
	Factory     Factory
	// Validate checks the type-specific settings without building anything
	Validate func(cc config.ComponentConfig) error
}

// Registry holds registrations by type name
type Registry struct {
	mu        sync.RWMutex
	factories map[string]*Registration
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]*Registration)}
}

// Register adds a component type
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: name", errors.ErrMissingConfig), "Registry", "Register", "name validation")
	}
	if reg.Factory == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: factory", errors.ErrMissingConfig), "Registry", "Register", "factory validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[reg.Name]; exists {
		return errors.WrapInvalid(fmt.Errorf("%w: component type %q", errors.ErrAlreadyRegistered, reg.Name),
			"Registry", "Register", "duplicate check")
	}
	r.factories[reg.Name] = &reg
	return nil
}

// Lookup returns the registration for a type
func (r *Registry) Lookup(typ string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.factories[typ]
	return reg, ok
}

// Types returns the registered type names in sorted order
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for name := range r.factories {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// Check validates one component entry: known type, parsable endpoint and
// type-specific settings
func (r *Registry) Check(name string, cc config.ComponentConfig) error {
	reg, ok := r.Lookup(cc.Type)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: unknown component type %q (known: %v)", errors.ErrInvalidConfig, cc.Type, r.Types()),
			"Registry", "Check", "component "+name)
	}
	if cc.Endpoint != "" {
		if _, err := control.ParseEndpoint(cc.Endpoint); err != nil {
			return errors.Wrap(err, "Registry", "Check", "component "+name+" endpoint")
		}
	}
	if reg.Validate != nil {
		if err := reg.Validate(cc); err != nil {
			return errors.Wrap(err, "Registry", "Check", "component "+name)
		}
	}
	return nil
}

// Create builds the named component and attaches its control endpoint when
// one is configured
func (r *Registry) Create(name string, cc config.ComponentConfig, deps Dependencies) (*component.Component, error) {
	if err := r.Check(name, cc); err != nil {
		return nil, err
	}
	if deps.Config == nil {
		deps.Config = config.Default()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	reg, _ := r.Lookup(cc.Type)
	c, err := reg.Factory(name, cc, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "Create", "build "+name)
	}

	if c.Endpoint() != "" {
		if _, err := control.Attach(c); err != nil {
			return nil, errors.Wrap(err, "Registry", "Create", "attach control endpoint for "+name)
		}
	}
	deps.Logger.Debug("Component created", "component", name, "type", cc.Type, "endpoint", c.Endpoint())
	return c, nil
}

// Build creates every enabled component of cfg in name order
func (r *Registry) Build(cfg *config.Config, deps Dependencies) ([]*component.Component, error) {
	deps.Config = cfg
	var built []*component.Component
	for _, name := range cfg.Components.Names() {
		cc := cfg.Components[name]
		if !cc.IsEnabled() {
			continue
		}
		c, err := r.Create(name, cc, deps)
		if err != nil {
			return nil, err
		}
		built = append(built, c)
	}
	return built, nil
}

// componentOptions are the options every built-in factory applies
func componentOptions(cc config.ComponentConfig, deps Dependencies) []component.Option {
	opts := []component.Option{
		component.WithLogger(deps.Logger),
		component.WithEndpoint(cc.Endpoint),
		component.WithShutdownTimeout(deps.Config.ShutdownTimeout),
	}
	if deps.Metrics != nil {
		opts = append(opts, component.WithMetrics(deps.Metrics))
	}
	return append(opts, deps.Options...)
}
