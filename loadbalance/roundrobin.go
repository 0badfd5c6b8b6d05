package loadbalance

import (
	"encoding/json"
	"sync/atomic"

	"imbalancer-rpc/registry"
)

// RoundRobinName is the registered name of the round robin policy.
const RoundRobinName = "round_robin"

func init() {
	Default.Register(roundRobinBuilder{})
}

type roundRobinConfig struct{}

func (roundRobinConfig) Name() string { return RoundRobinName }

type roundRobinBuilder struct{}

func (roundRobinBuilder) Name() string { return RoundRobinName }

func (roundRobinBuilder) Build(args Args) Policy {
	return &roundRobinPolicy{helper: args.Helper}
}

// ParseConfig accepts anything: round robin has no knobs.
func (roundRobinBuilder) ParseConfig(json.RawMessage) (Config, error) {
	return roundRobinConfig{}, nil
}

// roundRobinPolicy distributes calls evenly across the latest instance
// snapshot. Each update builds a fresh picker; the atomic counter lives in
// the picker so in-flight Picks never see a shrinking index space.
//
// Best for: stateless services where all instances have similar capacity.
type roundRobinPolicy struct {
	helper Helper
	picker *roundRobinPicker
	closed bool
}

func (p *roundRobinPolicy) Update(args UpdateArgs) error {
	if p.closed {
		return nil
	}
	p.picker = &roundRobinPicker{instances: args.Instances}
	p.helper.UpdatePicker(p.picker)
	return nil
}

// ExitIdle re-publishes the current picker so a dormant owner starts routing
// again without waiting for the next instance update.
func (p *roundRobinPolicy) ExitIdle() {
	if p.closed || p.picker == nil {
		return
	}
	p.helper.UpdatePicker(p.picker)
}

func (p *roundRobinPolicy) ResetBackoff() {}

func (p *roundRobinPolicy) Shutdown() { p.closed = true }

// roundRobinPicker selects the next instance in order. The atomic counter
// keeps Pick lock-free and goroutine-safe.
type roundRobinPicker struct {
	counter   int64
	instances []registry.ServiceInstance
}

func (p *roundRobinPicker) Pick(PickInfo) (registry.ServiceInstance, error) {
	if len(p.instances) == 0 {
		return registry.ServiceInstance{}, ErrNoInstances
	}
	index := atomic.AddInt64(&p.counter, 1) % int64(len(p.instances))
	return p.instances[index], nil
}
