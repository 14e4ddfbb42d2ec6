package agent

import (
	"fmt"
	"sync"
)

// Registry manages the configured agent profiles.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewRegistry creates a registry seeded with the default profile.
func NewRegistry() *Registry {
	r := &Registry{profiles: make(map[string]*Profile)}
	def := Default()
	r.profiles[def.Name] = def
	return r
}

// Get retrieves a profile by name.
func (r *Registry) Get(name string) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[name]
	if !ok {
		return nil, fmt.Errorf("agent: profile not found: %s", name)
	}
	return p, nil
}

// GetOrDefault retrieves a profile by name, falling back to Default when
// name is empty or unregistered (spec.md §4.1's fallback behavior).
func (r *Registry) GetOrDefault(name string) *Profile {
	if name != "" {
		if p, err := r.Get(name); err == nil {
			return p
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.profiles["default"]
}

// Register adds or updates a profile.
func (r *Registry) Register(p *Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.Name] = p
}

// Unregister removes a profile by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.profiles, name)
}

// List returns all registered profiles.
func (r *Registry) List() []*Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profiles := make([]*Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		profiles = append(profiles, p)
	}
	return profiles
}

// ListPrimary returns profiles selectable directly by a client.
func (r *Registry) ListPrimary() []*Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var profiles []*Profile
	for _, p := range r.profiles {
		if p.IsPrimary() {
			profiles = append(profiles, p)
		}
	}
	return profiles
}

// ListSubagents returns profiles invocable only as delegates.
func (r *Registry) ListSubagents() []*Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var profiles []*Profile
	for _, p := range r.profiles {
		if p.IsSubagent() {
			profiles = append(profiles, p)
		}
	}
	return profiles
}

// Names returns all profile names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	return names
}

// Exists checks if a profile exists.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.profiles[name]
	return ok
}

// Count returns the number of registered profiles.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.profiles)
}

// Config is the on-disk shape of one profile entry, as loaded by
// internal/config from the agents section of the JSONC config file.
type Config struct {
	Description  string   `json:"description,omitempty"`
	Mode         Mode     `json:"mode,omitempty"`
	Model        ModelRef `json:"model,omitempty"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Temperature  float64  `json:"temperature,omitempty"`
	TopP         float64  `json:"topP,omitempty"`
}

// LoadFromConfig loads or overrides profiles from configuration.
func (r *Registry) LoadFromConfig(config map[string]Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, cfg := range config {
		p, exists := r.profiles[name]
		if !exists {
			p = &Profile{Name: name, Mode: ModePrimary}
		} else {
			p = p.Clone()
		}

		if cfg.Description != "" {
			p.Description = cfg.Description
		}
		if cfg.Mode != "" {
			p.Mode = cfg.Mode
		}
		if cfg.Model.ModelID != "" {
			p.Model = cfg.Model
		}
		if cfg.SystemPrompt != "" {
			p.SystemPrompt = cfg.SystemPrompt
		}
		if cfg.Temperature > 0 {
			p.Temperature = cfg.Temperature
		}
		if cfg.TopP > 0 {
			p.TopP = cfg.TopP
		}

		r.profiles[name] = p
	}
}
