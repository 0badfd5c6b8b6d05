package loadbalance

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"sort"

	"imbalancer-rpc/registry"
)

// ConsistentHashName is the registered name of the consistent hash policy.
const ConsistentHashName = "consistent_hash"

// defaultReplicas is the virtual node count per real instance. Without
// virtual nodes a handful of instances can cluster on the ring and skew the
// load; 100 replicas gives statistical uniformity.
const defaultReplicas = 100

func init() {
	Default.Register(consistentHashBuilder{})
}

// consistentHashConfig carries the only knob: virtual nodes per instance.
type consistentHashConfig struct {
	Replicas int `json:"replicas"`
}

func (consistentHashConfig) Name() string { return ConsistentHashName }

type consistentHashBuilder struct{}

func (consistentHashBuilder) Name() string { return ConsistentHashName }

func (consistentHashBuilder) Build(args Args) Policy {
	return &consistentHashPolicy{helper: args.Helper}
}

// ParseConfig accepts {"replicas": <int>}; absent or zero means the default,
// negative is rejected.
func (consistentHashBuilder) ParseConfig(raw json.RawMessage) (Config, error) {
	cfg := consistentHashConfig{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("consistent_hash: %v", err)
		}
	}
	if cfg.Replicas < 0 {
		return nil, fmt.Errorf("consistent_hash: replicas must be positive, got %d", cfg.Replicas)
	}
	if cfg.Replicas == 0 {
		cfg.Replicas = defaultReplicas
	}
	return cfg, nil
}

// consistentHashPolicy maps affinity keys to instances via a hash ring, so
// the same key keeps hitting the same instance until the instance set
// changes. Each update rebuilds the ring from scratch — simpler than
// incremental maintenance, and updates are rare relative to picks.
type consistentHashPolicy struct {
	helper   Helper
	replicas int
	picker   *consistentHashPicker
	closed   bool
}

func (p *consistentHashPolicy) Update(args UpdateArgs) error {
	if p.closed {
		return nil
	}
	cfg, ok := args.Config.(consistentHashConfig)
	if !ok {
		return fmt.Errorf("%w: consistent_hash: got %T", ErrMissingConfig, args.Config)
	}
	p.replicas = cfg.Replicas

	picker := &consistentHashPicker{
		nodes: make(map[uint32]registry.ServiceInstance),
	}
	for _, inst := range args.Instances {
		for i := 0; i < p.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", inst.Addr, i)))
			picker.ring = append(picker.ring, hash)
			picker.nodes[hash] = inst
		}
	}
	// Ring must stay sorted for the binary search in Pick.
	sort.Slice(picker.ring, func(i, j int) bool { return picker.ring[i] < picker.ring[j] })
	p.picker = picker
	p.helper.UpdatePicker(picker)
	return nil
}

func (p *consistentHashPolicy) ExitIdle() {
	if p.closed || p.picker == nil {
		return
	}
	p.helper.UpdatePicker(p.picker)
}

func (p *consistentHashPolicy) ResetBackoff() {}

func (p *consistentHashPolicy) Shutdown() { p.closed = true }

// consistentHashPicker is an immutable snapshot of the ring. Reads only, so
// it is goroutine-safe without locks.
type consistentHashPicker struct {
	ring  []uint32
	nodes map[uint32]registry.ServiceInstance
}

// Pick hashes the call's affinity key (HashKey, or ServiceMethod when the
// caller supplied none) and binary-searches for the first ring node at or
// past it, wrapping to the first node off the end.
func (p *consistentHashPicker) Pick(info PickInfo) (registry.ServiceInstance, error) {
	if len(p.ring) == 0 {
		return registry.ServiceInstance{}, ErrNoInstances
	}
	key := info.HashKey
	if key == "" {
		key = info.ServiceMethod
	}
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(p.ring), func(i int) bool { return p.ring[i] >= hash })
	if idx == len(p.ring) {
		idx = 0
	}
	return p.nodes[p.ring[idx]], nil
}
