package extensions

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry is the catalog of known extension configurations keyed by
// normalized name. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]Config
	path    string
}

type registryFile struct {
	Extensions []Config `yaml:"extensions"`
}

// NewRegistry creates a registry seeded with configs. Invalid configs are
// returned as an error and not registered.
func NewRegistry(configs ...Config) (*Registry, error) {
	r := &Registry{configs: make(map[string]Config)}
	for _, cfg := range configs {
		if err := r.Set(cfg); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// LoadRegistry reads a YAML catalog from path. A missing file yields an empty
// registry that will be created on the first Save.
func LoadRegistry(path string) (*Registry, error) {
	r := &Registry{configs: make(map[string]Config), path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read extensions: %w", err)
	}
	var file registryFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse extensions: %w", err)
	}
	for _, cfg := range file.Extensions {
		if err := r.Set(cfg); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Get returns the config registered under name.
func (r *Registry) Get(name string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[NormalizeName(name)]
	return cfg, ok
}

// Set validates and stores cfg, replacing any config with the same name.
func (r *Registry) Set(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.Key()] = cfg
	return nil
}

// SetEnabled flips the enabled flag of a registered config.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := NormalizeName(name)
	cfg, ok := r.configs[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	cfg.Enabled = enabled
	r.configs[key] = cfg
	return nil
}

// Remove deletes a config. Removing an unknown name is not an error.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.configs, NormalizeName(name))
}

// List returns all configs sorted by name.
func (r *Registry) List() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Config, 0, len(r.configs))
	for _, cfg := range r.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Enabled returns the configs flagged for startup.
func (r *Registry) Enabled() []Config {
	var out []Config
	for _, cfg := range r.List() {
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}
	return out
}

// Search returns configs that are not in active, optionally filtered by a
// case-insensitive query matched against name and description.
func (r *Registry) Search(active []string, query string) []Config {
	running := make(map[string]struct{}, len(active))
	for _, name := range active {
		running[NormalizeName(name)] = struct{}{}
	}
	query = strings.ToLower(strings.TrimSpace(query))

	var out []Config
	for _, cfg := range r.List() {
		if _, ok := running[cfg.Key()]; ok {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(cfg.Name), query) &&
			!strings.Contains(strings.ToLower(cfg.Description), query) {
			continue
		}
		out = append(out, cfg)
	}
	return out
}

// Save writes the catalog back to the path it was loaded from.
func (r *Registry) Save() error {
	if r.path == "" {
		return fmt.Errorf("registry has no backing file")
	}
	data, err := yaml.Marshal(registryFile{Extensions: r.List()})
	if err != nil {
		return fmt.Errorf("encode extensions: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create extensions dir: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write extensions: %w", err)
	}
	return os.Rename(tmp, r.path)
}
