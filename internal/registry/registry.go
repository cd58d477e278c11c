// Package registry manages plugin lifecycle for RelayScan: registration,
// dependency ordering, initialization, event wiring and shutdown.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/HerbHall/relayscan/pkg/plugin"
	"go.uber.org/zap"
)

// Registry manages the lifecycle of all registered plugins.
type Registry struct {
	mu       sync.RWMutex
	plugins  map[string]plugin.Plugin
	infos    map[string]plugin.PluginInfo
	order    []string // dependency order after Validate
	disabled map[string]bool
	unsubs   []func()
	logger   *zap.Logger
}

// PluginStatus describes one registered plugin for the API.
type PluginStatus struct {
	Name         string   `json:"name" example:"recon"`
	Version      string   `json:"version" example:"0.1.0"`
	Description  string   `json:"description,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	Required     bool     `json:"required"`
	Enabled      bool     `json:"enabled"`
}

// New creates a new plugin registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		plugins:  make(map[string]plugin.Plugin),
		infos:    make(map[string]plugin.PluginInfo),
		disabled: make(map[string]bool),
		logger:   logger,
	}
}

// Register adds a plugin. Must be called before Validate.
func (r *Registry) Register(p plugin.Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := p.Info()
	if info.Name == "" {
		return fmt.Errorf("plugin has empty name")
	}
	if _, exists := r.plugins[info.Name]; exists {
		return fmt.Errorf("plugin %q already registered", info.Name)
	}

	r.plugins[info.Name] = p
	r.infos[info.Name] = info
	r.logger.Debug("plugin registered",
		zap.String("name", info.Name),
		zap.String("version", info.Version),
	)
	return nil
}

// Validate checks API versions and dependencies, disabling optional plugins
// that cannot run, and computes the start order. It fails when a required
// plugin cannot run or the dependency graph has a cycle.
func (r *Registry) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.sortedNames() {
		info := r.infos[name]
		if err := r.checkAPIVersion(name, info.APIVersion); err != nil {
			if err := r.disableLocked(name, "incompatible API version", err); err != nil {
				return err
			}
		}
	}

	// Repeat until stable so a disabled plugin takes its dependents with it.
	for changed := true; changed; {
		changed = false
		for _, name := range r.sortedNames() {
			if r.disabled[name] {
				continue
			}
			for _, dep := range r.infos[name].Dependencies {
				reason := ""
				switch {
				case r.plugins[dep] == nil:
					reason = "dependency " + dep + " is not registered"
				case r.disabled[dep]:
					reason = "dependency " + dep + " is disabled"
				}
				if reason == "" {
					continue
				}
				if err := r.disableLocked(name, reason, nil); err != nil {
					return err
				}
				changed = true
				break
			}
		}
	}

	order, err := r.topologicalSort()
	if err != nil {
		return err
	}
	r.order = order

	r.logger.Info("plugin dependency resolution complete",
		zap.Strings("start_order", r.order),
		zap.Int("disabled", len(r.disabled)),
	)
	return nil
}

// disableLocked marks name disabled, or returns an error when it is required.
func (r *Registry) disableLocked(name, reason string, cause error) error {
	if r.infos[name].Required {
		if cause != nil {
			return cause
		}
		return fmt.Errorf("required plugin %q cannot start: %s", name, reason)
	}
	r.logger.Warn("disabling plugin",
		zap.String("name", name),
		zap.String("reason", reason),
		zap.Error(cause),
	)
	r.disabled[name] = true
	return nil
}

// InitAll initializes active plugins in dependency order and subscribes
// their event handlers. A failing optional plugin is disabled; a failing
// required plugin aborts startup.
func (r *Registry) InitAll(ctx context.Context, depsFn func(name string) plugin.Dependencies) error {
	// Plugins resolve each other during Init, so no lock is held across calls.
	for _, name := range r.activeOrder() {
		p, info := r.entry(name)
		if dep := r.disabledDep(info); dep != "" {
			if info.Required {
				return fmt.Errorf("required plugin %q cannot start: dependency %q failed to initialize", name, dep)
			}
			r.logger.Warn("disabling plugin: dependency failed to initialize",
				zap.String("name", name),
				zap.String("dependency", dep),
			)
			r.setDisabled(name)
			continue
		}
		deps := depsFn(name)

		r.logger.Debug("initializing plugin", zap.String("name", name))
		err := safeCall(name, "Init", func() error { return p.Init(ctx, deps) })
		if err == nil {
			if v, ok := p.(plugin.Validator); ok {
				err = safeCall(name, "ValidateConfig", v.ValidateConfig)
			}
		}
		if err != nil {
			if info.Required {
				return fmt.Errorf("required plugin %q failed to initialize: %w", name, err)
			}
			r.logger.Error("optional plugin failed to initialize, disabling",
				zap.String("name", name),
				zap.Error(err),
			)
			r.setDisabled(name)
			continue
		}

		if sub, ok := p.(plugin.EventSubscriber); ok && deps.Bus != nil {
			var unsubs []func()
			for _, s := range sub.Subscriptions() {
				if s.Topic == "*" {
					unsubs = append(unsubs, deps.Bus.SubscribeAll(s.Handler))
				} else {
					unsubs = append(unsubs, deps.Bus.Subscribe(s.Topic, s.Handler))
				}
			}
			r.mu.Lock()
			r.unsubs = append(r.unsubs, unsubs...)
			r.mu.Unlock()
		}
	}
	return nil
}

// StartAll starts initialized plugins in dependency order.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, name := range r.activeOrder() {
		p, info := r.entry(name)
		r.logger.Info("starting plugin", zap.String("name", name))
		if err := safeCall(name, "Start", func() error { return p.Start(ctx) }); err != nil {
			if info.Required {
				return fmt.Errorf("required plugin %q failed to start: %w", name, err)
			}
			r.logger.Error("optional plugin failed to start, disabling",
				zap.String("name", name),
				zap.Error(err),
			)
			r.setDisabled(name)
		}
	}
	return nil
}

// StopAll stops active plugins in reverse dependency order. Errors and
// panics are logged and never keep the remaining plugins from stopping.
// Plugins are expected to honour ctx's deadline.
func (r *Registry) StopAll(ctx context.Context) {
	order := r.activeOrder()
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		p, _ := r.entry(name)
		r.logger.Info("stopping plugin", zap.String("name", name))
		if err := safeCall(name, "Stop", func() error { return p.Stop(ctx) }); err != nil {
			r.logger.Error("failed to stop plugin", zap.String("name", name), zap.Error(err))
		}
	}
}

func (r *Registry) activeOrder() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.order))
	for _, name := range r.order {
		if !r.disabled[name] {
			out = append(out, name)
		}
	}
	return out
}

func (r *Registry) entry(name string) (plugin.Plugin, plugin.PluginInfo) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.plugins[name], r.infos[name]
}

func (r *Registry) disabledDep(info plugin.PluginInfo) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, dep := range info.Dependencies {
		if r.disabled[dep] {
			return dep
		}
	}
	return ""
}

func (r *Registry) setDisabled(name string) {
	r.mu.Lock()
	r.disabled[name] = true
	r.mu.Unlock()
}

// Unsubscribe removes every event subscription made during InitAll.
func (r *Registry) Unsubscribe() {
	r.mu.Lock()
	unsubs := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// safeCall runs fn and turns a panic into an error.
func safeCall(name, method string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("plugin %q panicked in %s: %v", name, method, rec)
		}
	}()
	return fn()
}

// Get returns an active plugin by name.
func (r *Registry) Get(name string) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	if !ok || r.disabled[name] {
		return nil, false
	}
	return p, true
}

// All returns active plugins in dependency order.
func (r *Registry) All() []plugin.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]plugin.Plugin, 0, len(r.order))
	for _, name := range r.order {
		if !r.disabled[name] {
			result = append(result, r.plugins[name])
		}
	}
	return result
}

// Statuses describes every registered plugin, active ones first in start
// order, then disabled ones by name.
func (r *Registry) Statuses() []PluginStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PluginStatus, 0, len(r.infos))
	seen := make(map[string]bool, len(r.order))
	add := func(name string) {
		info := r.infos[name]
		out = append(out, PluginStatus{
			Name:         info.Name,
			Version:      info.Version,
			Description:  info.Description,
			Dependencies: info.Dependencies,
			Roles:        info.Roles,
			Required:     info.Required,
			Enabled:      !r.disabled[name],
		})
		seen[name] = true
	}
	for _, name := range r.order {
		if !r.disabled[name] {
			add(name)
		}
	}
	for _, name := range r.sortedNames() {
		if !seen[name] {
			add(name)
		}
	}
	return out
}

// Health collects reports from active plugins that implement
// plugin.HealthChecker. Plugins without a checker report healthy.
func (r *Registry) Health(ctx context.Context) map[string]plugin.HealthStatus {
	out := make(map[string]plugin.HealthStatus)
	for _, p := range r.All() {
		name := p.Info().Name
		hc, ok := p.(plugin.HealthChecker)
		if !ok {
			out[name] = plugin.HealthStatus{Status: "healthy"}
			continue
		}
		out[name] = hc.Health(ctx)
	}
	return out
}

// AllRoutes returns HTTP routes of active plugins keyed by plugin name.
func (r *Registry) AllRoutes() map[string][]plugin.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string][]plugin.Route)
	for _, name := range r.order {
		if r.disabled[name] {
			continue
		}
		if hp, ok := r.plugins[name].(plugin.HTTPProvider); ok {
			if pr := hp.Routes(); len(pr) > 0 {
				routes[name] = pr
			}
		}
	}
	return routes
}

// Resolve implements plugin.PluginResolver.
func (r *Registry) Resolve(name string) (plugin.Plugin, bool) {
	return r.Get(name)
}

// ResolveByRole returns active plugins that declare role, in start order.
func (r *Registry) ResolveByRole(role string) []plugin.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []plugin.Plugin
	for _, name := range r.order {
		if r.disabled[name] {
			continue
		}
		for _, pr := range r.infos[name].Roles {
			if pr == role {
				result = append(result, r.plugins[name])
				break
			}
		}
	}
	return result
}

// IsDisabled reports whether a plugin has been disabled.
func (r *Registry) IsDisabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.disabled[name]
}

func (r *Registry) checkAPIVersion(name string, v int) error {
	if v < plugin.APIVersionMin || v > plugin.APIVersionCurrent {
		return fmt.Errorf("plugin %q targets Plugin API v%d, server supports v%d to v%d",
			name, v, plugin.APIVersionMin, plugin.APIVersionCurrent)
	}
	return nil
}

func (r *Registry) sortedNames() []string {
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// topologicalSort orders active plugins with Kahn's algorithm. Ties are
// broken by name so the order is stable across runs.
func (r *Registry) topologicalSort() ([]string, error) {
	inDegree := make(map[string]int)
	dependents := make(map[string][]string)
	for _, name := range r.sortedNames() {
		if r.disabled[name] {
			continue
		}
		inDegree[name] += 0
		for _, dep := range r.infos[name].Dependencies {
			if !r.disabled[dep] && r.plugins[dep] != nil {
				inDegree[name]++
				dependents[dep] = append(dependents[dep], name)
			}
		}
	}

	var queue []string
	for _, name := range r.sortedNames() {
		if d, ok := inDegree[name]; ok && d == 0 {
			queue = append(queue, name)
		}
	}

	var order []string
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)
		for _, dependent := range dependents[name] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(inDegree) {
		var cycled []string
		for _, name := range r.sortedNames() {
			if inDegree[name] > 0 {
				cycled = append(cycled, name)
			}
		}
		return nil, fmt.Errorf("dependency cycle detected among plugins: %v", cycled)
	}
	return order, nil
}
