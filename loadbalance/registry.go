package loadbalance

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Registry maps policy names to builders. It is the catalog consulted both at
// config-validation time (ParseConfig) and at construction time (CreatePolicy).
//
// Default is used by the client and by the init-time registrations of the
// built-in policies; tests construct their own via NewRegistry so fakes can be
// registered without touching process-wide state.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// Default is the process-wide registry the built-in policies register into.
var Default = NewRegistry()

// NewRegistry returns an empty policy registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds a builder under its name. A later registration for the same
// name replaces the earlier one.
func (r *Registry) Register(b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[b.Name()] = b
}

// Builder returns the builder registered under name, or nil.
func (r *Registry) Builder(name string) Builder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.builders[name]
}

// CreatePolicy constructs a policy by name. Returns nil when the name is not
// registered or the builder declines to build. The args are passed through
// with this registry filled in when the caller left it unset, so a delegating
// policy resolves its children against the registry that built it.
func (r *Registry) CreatePolicy(name string, args Args) Policy {
	b := r.Builder(name)
	if b == nil {
		return nil
	}
	if args.Registry == nil {
		args.Registry = r
	}
	return b.Build(args)
}

// ParseConfig validates a service config list of the form
//
//	[{"policy_name": {...config...}}, ...]
//
// Candidates are tried in order; the first entry whose name is registered is
// parsed by that builder and its config returned. Entries must contain exactly
// one name. If no candidate is registered, ErrInvalidConfig is returned.
func (r *Registry) ParseConfig(raw json.RawMessage) (Config, error) {
	var candidates []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &candidates); err != nil {
		return nil, fmt.Errorf("%w: not a config list: %v", ErrInvalidConfig, err)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: empty config list", ErrInvalidConfig)
	}
	for _, entry := range candidates {
		if len(entry) != 1 {
			return nil, fmt.Errorf("%w: config entry must name exactly one policy, got %d", ErrInvalidConfig, len(entry))
		}
		for name, cfg := range entry {
			b := r.Builder(name)
			if b == nil {
				continue // Try the next candidate
			}
			parsed, err := b.ParseConfig(cfg)
			if err != nil {
				return nil, fmt.Errorf("%w: policy %q: %v", ErrInvalidConfig, name, err)
			}
			return parsed, nil
		}
	}
	return nil, fmt.Errorf("%w: no registered policy in config list", ErrInvalidConfig)
}
