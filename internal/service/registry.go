// SPDX-License-Identifier: MIT

package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Factory builds a fresh adapter instance.
type Factory func() Adapter

// Registry maps short uppercase service tags to adapter factories and
// their merged configuration.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	configs   map[string]map[string]any
	configDir string
}

// NewRegistry creates an empty registry. configDir, when non-empty, points
// at a directory of per-service YAML files merged into each adapter's
// configuration at load time.
func NewRegistry(configDir string) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		configs:   make(map[string]map[string]any),
		configDir: configDir,
	}
}

// Register adds an adapter factory under its tag. Tags are uppercased.
func (r *Registry) Register(tag string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToUpper(tag)] = f
}

// Tags returns the sorted tags of all registered adapters.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Has reports whether a tag is registered.
func (r *Registry) Has(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[strings.ToUpper(tag)]
	return ok
}

// Load instantiates and configures the adapter for tag. The adapter
// receives the global service config merged with its service-local file
// (service-local values win).
func (r *Registry) Load(tag string, global map[string]any) (Adapter, error) {
	tag = strings.ToUpper(tag)
	r.mu.RLock()
	f, ok := r.factories[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("service %q is not registered", tag)
	}

	merged := make(map[string]any, len(global))
	for k, v := range global {
		merged[k] = v
	}
	local, err := r.localConfig(tag)
	if err != nil {
		return nil, err
	}
	for k, v := range local {
		merged[k] = v
	}

	adapter := f()
	if err := adapter.Configure(merged); err != nil {
		return nil, fmt.Errorf("configure service %q: %w", tag, err)
	}
	return adapter, nil
}

// ReloadConfigs drops the cached per-service configs so the next Load
// re-reads them from disk.
func (r *Registry) ReloadConfigs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = make(map[string]map[string]any)
}

func (r *Registry) localConfig(tag string) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg, ok := r.configs[tag]; ok {
		return cfg, nil
	}
	if r.configDir == "" {
		return nil, nil
	}
	path := filepath.Join(r.configDir, strings.ToLower(tag)+".yaml")
	raw, err := os.ReadFile(path) // #nosec G304 -- path is derived from the configured services dir
	if err != nil {
		if os.IsNotExist(err) {
			r.configs[tag] = nil
			return nil, nil
		}
		return nil, fmt.Errorf("read service config %s: %w", path, err)
	}
	var cfg map[string]any
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse service config %s: %w", path, err)
	}
	r.configs[tag] = cfg
	return cfg, nil
}
