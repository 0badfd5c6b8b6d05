package loadbalance

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"imbalancer-rpc/registry"
)

var testInstances = []registry.ServiceInstance{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func buildPolicy(t *testing.T, b Builder, helper Helper) (Policy, Config) {
	t.Helper()
	cfg, err := b.ParseConfig(json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	p := b.Build(Args{Helper: helper})
	if p == nil {
		t.Fatal("builder declined to build")
	}
	return p, cfg
}

func TestRoundRobinCycles(t *testing.T) {
	helper := &fakeHelper{}
	p, cfg := buildPolicy(t, roundRobinBuilder{}, helper)

	if err := p.Update(UpdateArgs{Instances: testInstances, Config: cfg}); err != nil {
		t.Fatal(err)
	}
	picker := helper.pickers[0]

	results := make([]string, 3)
	for i := range results {
		inst, err := picker.Pick(PickInfo{})
		if err != nil {
			t.Fatal(err)
		}
		results[i] = inst.Addr
	}

	// The fourth pick wraps around to the first.
	inst, _ := picker.Pick(PickInfo{})
	if inst.Addr != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], inst.Addr)
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	helper := &fakeHelper{}
	p, cfg := buildPolicy(t, roundRobinBuilder{}, helper)

	if err := p.Update(UpdateArgs{Config: cfg}); err != nil {
		t.Fatal(err)
	}
	if _, err := helper.pickers[0].Pick(PickInfo{}); !errors.Is(err, ErrNoInstances) {
		t.Fatalf("expect ErrNoInstances, got %v", err)
	}
}

func TestRoundRobinLifecycle(t *testing.T) {
	helper := &fakeHelper{}
	p, cfg := buildPolicy(t, roundRobinBuilder{}, helper)

	if err := p.Update(UpdateArgs{Instances: testInstances, Config: cfg}); err != nil {
		t.Fatal(err)
	}

	// ExitIdle re-publishes the current picker.
	p.ExitIdle()
	if len(helper.pickers) != 2 || helper.pickers[0] != helper.pickers[1] {
		t.Fatalf("expect the same picker re-published, got %d pickers", len(helper.pickers))
	}

	// Shutdown is terminal: no more pickers.
	p.Shutdown()
	if err := p.Update(UpdateArgs{Instances: testInstances, Config: cfg}); err != nil {
		t.Fatal(err)
	}
	p.ExitIdle()
	if len(helper.pickers) != 2 {
		t.Fatal("no picker may be published after shutdown")
	}
}

func TestWeightedRandomDistribution(t *testing.T) {
	helper := &fakeHelper{}
	p, cfg := buildPolicy(t, weightedRandomBuilder{}, helper)

	if err := p.Update(UpdateArgs{Instances: testInstances, Config: cfg}); err != nil {
		t.Fatal(err)
	}
	picker := helper.pickers[0]

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := picker.Pick(PickInfo{})
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}

	// Weights are 10:5:10, so :8001 should land about twice as often as :8002.
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	helper := &fakeHelper{}
	p, cfg := buildPolicy(t, weightedRandomBuilder{}, helper)

	instances := []registry.ServiceInstance{{Addr: ":8001"}, {Addr: ":8002"}}
	if err := p.Update(UpdateArgs{Instances: instances, Config: cfg}); err != nil {
		t.Fatal(err)
	}

	// Unweighted instances still get picked (floor weight of 1).
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		inst, err := helper.pickers[0].Pick(PickInfo{})
		if err != nil {
			t.Fatal(err)
		}
		seen[inst.Addr] = true
	}
	if len(seen) != 2 {
		t.Fatalf("expect both zero-weight instances reachable, got %v", seen)
	}
}

func TestConsistentHashAffinity(t *testing.T) {
	helper := &fakeHelper{}
	b := consistentHashBuilder{}
	cfg, err := b.ParseConfig(json.RawMessage(`{"replicas": 100}`))
	if err != nil {
		t.Fatal(err)
	}
	p := b.Build(Args{Helper: helper})

	if err := p.Update(UpdateArgs{Instances: testInstances, Config: cfg}); err != nil {
		t.Fatal(err)
	}
	picker := helper.pickers[0]

	// Same key maps to the same instance.
	inst1, _ := picker.Pick(PickInfo{HashKey: "user-123"})
	inst2, _ := picker.Pick(PickInfo{HashKey: "user-123"})
	if inst1.Addr != inst2.Addr {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Addr, inst2.Addr)
	}

	// 100 distinct keys over 3 instances should hit at least 2 of them.
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := picker.Pick(PickInfo{HashKey: fmt.Sprintf("key-%d", i)})
		seen[inst.Addr] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}
}

func TestConsistentHashKeyFallback(t *testing.T) {
	helper := &fakeHelper{}
	b := consistentHashBuilder{}
	cfg, _ := b.ParseConfig(nil)
	p := b.Build(Args{Helper: helper})

	if err := p.Update(UpdateArgs{Instances: testInstances, Config: cfg}); err != nil {
		t.Fatal(err)
	}
	picker := helper.pickers[0]

	// Without a hash key, the service method is the affinity key.
	inst1, _ := picker.Pick(PickInfo{ServiceMethod: "Arith.Add"})
	inst2, _ := picker.Pick(PickInfo{ServiceMethod: "Arith.Add"})
	if inst1.Addr != inst2.Addr {
		t.Fatal("same method must keep mapping to the same instance")
	}
}

func TestConsistentHashConfig(t *testing.T) {
	b := consistentHashBuilder{}

	cfg, err := b.ParseConfig(json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.(consistentHashConfig).Replicas != defaultReplicas {
		t.Fatalf("expect default replicas %d, got %d", defaultReplicas, cfg.(consistentHashConfig).Replicas)
	}

	if _, err := b.ParseConfig(json.RawMessage(`{"replicas": -1}`)); err == nil {
		t.Fatal("expect error for negative replicas")
	}
	if _, err := b.ParseConfig(json.RawMessage(`{"replicas": "many"}`)); err == nil {
		t.Fatal("expect error for non-numeric replicas")
	}

	// Update without the expected config type is rejected.
	helper := &fakeHelper{}
	p := b.Build(Args{Helper: helper})
	if err := p.Update(UpdateArgs{Instances: testInstances}); !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("expect ErrMissingConfig, got %v", err)
	}
}
