package loadbalance

import (
	"encoding/json"
	"fmt"
)

// ImbalancerName is the registered name of the delegating policy.
const ImbalancerName = "imbalancer"

// defaultChildPolicy is used when the config names no child policy.
const defaultChildPolicy = "round_robin"

func init() {
	RegisterImbalancer(Default)
}

// RegisterImbalancer registers the imbalancer policy with reg. Child policy
// lookups and child config validation are bound to the same registry, so a
// test registry sees its own fakes resolved.
func RegisterImbalancer(reg *Registry) {
	reg.Register(&imbalancerBuilder{reg: reg})
}

// imbalancerConfig is the validated config: the child policy's name plus the
// child's own config as validated by that policy's builder. Immutable.
type imbalancerConfig struct {
	childName   string
	childConfig Config
}

func (c *imbalancerConfig) Name() string { return ImbalancerName }

type imbalancerBuilder struct {
	reg *Registry
}

func (b *imbalancerBuilder) Name() string { return ImbalancerName }

func (b *imbalancerBuilder) Build(args Args) Policy {
	reg := args.Registry
	if reg == nil {
		reg = b.reg
	}
	return &imbalancer{reg: reg, helper: args.Helper}
}

// ParseConfig accepts
//
//	{"childPolicy": <string>, "childPolicyConfig": <object>}
//
// with both fields optional. A missing or non-string childPolicy falls back
// to round_robin; a missing or non-object childPolicyConfig falls back to {}.
// A top-level value that is not an object means "all defaults", not an error.
// The chosen pair is validated through the registry as a single-entry config
// list, and the registry's validated child config is what gets stored.
func (b *imbalancerBuilder) ParseConfig(raw json.RawMessage) (Config, error) {
	childName := defaultChildPolicy
	childRaw := json.RawMessage("{}")

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		if v, ok := obj["childPolicy"]; ok {
			var s string
			if json.Unmarshal(v, &s) == nil && s != "" {
				childName = s
			}
		}
		if v, ok := obj["childPolicyConfig"]; ok {
			var m map[string]json.RawMessage
			if json.Unmarshal(v, &m) == nil && m != nil {
				childRaw = v
			}
		}
	}

	list, err := json.Marshal([]map[string]json.RawMessage{{childName: childRaw}})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	childConfig, err := b.reg.ParseConfig(list)
	if err != nil {
		return nil, err
	}
	return &imbalancerConfig{childName: childName, childConfig: childConfig}, nil
}

// imbalancer delegates all balancing work to a dynamically selected child
// policy. It owns exactly zero or one child at a time: the child is created
// on the first update, replaced when the configured name changes, and
// destroyed at shutdown. Only the name decides replacement — config-only
// changes flow to the existing child through its own update path.
//
// The owner serializes Update/ExitIdle/ResetBackoff/Shutdown, so the fields
// below need no lock.
type imbalancer struct {
	reg    *Registry
	helper Helper

	shuttingDown bool
	childName    string
	child        Policy
	childHelper  *DelegatingHelper
}

func (b *imbalancer) Update(args UpdateArgs) error {
	if b.shuttingDown {
		return nil
	}
	cfg, ok := args.Config.(*imbalancerConfig)
	if !ok {
		return fmt.Errorf("%w: imbalancer: got %T", ErrMissingConfig, args.Config)
	}
	// Create or replace the child when none exists or the name changed.
	// The replacement is built first so that a creation failure leaves the
	// previous child fully intact.
	if b.child == nil || b.childName != cfg.childName {
		helper := NewDelegatingHelper(b)
		child := b.reg.CreatePolicy(cfg.childName, Args{Helper: helper, Registry: b.reg})
		if child == nil {
			helper.Detach()
			return fmt.Errorf("%w: imbalancer: child policy %q", ErrPolicyCreation, cfg.childName)
		}
		b.tearDownChild()
		b.childName = cfg.childName
		b.child = child
		b.childHelper = helper
	}
	// Forward the update with the child's own config. The child's result is
	// returned verbatim.
	args.Config = cfg.childConfig
	return b.child.Update(args)
}

func (b *imbalancer) ExitIdle() {
	if b.child != nil {
		b.child.ExitIdle()
	}
}

func (b *imbalancer) ResetBackoff() {
	if b.child != nil {
		b.child.ResetBackoff()
	}
}

// Shutdown is terminal. The helper is detached before the child is shut down
// so no in-flight child callback can reach this instance afterwards.
func (b *imbalancer) Shutdown() {
	if b.shuttingDown {
		return
	}
	b.shuttingDown = true
	b.tearDownChild()
	b.childName = ""
}

// tearDownChild detaches the child's helper and shuts the child down, in that
// order. No-op when no child is held.
func (b *imbalancer) tearDownChild() {
	if b.child == nil {
		return
	}
	b.childHelper.Detach()
	b.child.Shutdown()
	b.child = nil
	b.childHelper = nil
}

// UpdatePicker implements Helper: child picker updates pass through to the
// upstream helper unchanged.
func (b *imbalancer) UpdatePicker(p Picker) { b.helper.UpdatePicker(p) }

// ResolveNow implements Helper: forwarded upstream unchanged.
func (b *imbalancer) ResolveNow() { b.helper.ResolveNow() }
