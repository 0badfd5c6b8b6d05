package loadbalance

import (
	"encoding/json"
	"math/rand"

	"imbalancer-rpc/registry"
)

// WeightedRandomName is the registered name of the weighted random policy.
const WeightedRandomName = "weighted_random"

func init() {
	Default.Register(weightedRandomBuilder{})
}

type weightedRandomConfig struct{}

func (weightedRandomConfig) Name() string { return WeightedRandomName }

type weightedRandomBuilder struct{}

func (weightedRandomBuilder) Name() string { return WeightedRandomName }

func (weightedRandomBuilder) Build(args Args) Policy {
	return &weightedRandomPolicy{helper: args.Helper}
}

func (weightedRandomBuilder) ParseConfig(json.RawMessage) (Config, error) {
	return weightedRandomConfig{}, nil
}

// weightedRandomPolicy picks instances at random, proportionally to their
// registered Weight. Instances with weight <= 0 are counted as weight 1 so a
// misconfigured instance is down-weighted rather than unreachable.
type weightedRandomPolicy struct {
	helper Helper
	picker *weightedRandomPicker
	closed bool
}

func (p *weightedRandomPolicy) Update(args UpdateArgs) error {
	if p.closed {
		return nil
	}
	total := 0
	for _, inst := range args.Instances {
		total += effectiveWeight(inst)
	}
	p.picker = &weightedRandomPicker{instances: args.Instances, totalWeight: total}
	p.helper.UpdatePicker(p.picker)
	return nil
}

func (p *weightedRandomPolicy) ExitIdle() {
	if p.closed || p.picker == nil {
		return
	}
	p.helper.UpdatePicker(p.picker)
}

func (p *weightedRandomPolicy) ResetBackoff() {}

func (p *weightedRandomPolicy) Shutdown() { p.closed = true }

type weightedRandomPicker struct {
	instances   []registry.ServiceInstance
	totalWeight int
}

// Pick walks the weight prefix: draw r in [0, totalWeight), subtract each
// instance's weight until r goes negative.
func (p *weightedRandomPicker) Pick(PickInfo) (registry.ServiceInstance, error) {
	if len(p.instances) == 0 {
		return registry.ServiceInstance{}, ErrNoInstances
	}
	r := rand.Intn(p.totalWeight)
	for _, inst := range p.instances {
		r -= effectiveWeight(inst)
		if r < 0 {
			return inst, nil
		}
	}
	// Unreachable while totalWeight matches the instance list.
	return p.instances[len(p.instances)-1], nil
}

func effectiveWeight(inst registry.ServiceInstance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}
