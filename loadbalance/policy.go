// Package loadbalance implements config-driven, pluggable load balancing
// policies for routing RPC calls across service instances.
//
// Unlike a one-shot Pick helper, a Policy is a long-lived object with a
// lifecycle: it receives instance/config updates, publishes a Picker through
// its Helper, and is eventually shut down. Policies are registered by name in
// a Registry and selected via a JSON service config, so a client can switch
// strategies without code changes.
//
// Built-in policies:
//   - round_robin:     Stateless services, equal-capacity instances
//   - weighted_random: Heterogeneous instances (different CPU/memory)
//   - consistent_hash: Stateful services requiring cache affinity
//   - imbalancer:      Delegating policy that wraps a configurable child
package loadbalance

import (
	"encoding/json"
	"errors"

	"imbalancer-rpc/registry"
)

// Error kinds returned by config parsing and policy lifecycle operations.
// Callers match them with errors.Is; the wrapped message carries the cause.
var (
	// ErrMissingConfig means Update was invoked without a validated config of
	// the kind the policy expects.
	ErrMissingConfig = errors.New("loadbalance: missing or invalid policy config")

	// ErrInvalidConfig means config validation failed: an unregistered policy
	// name, or a config shape the policy rejects.
	ErrInvalidConfig = errors.New("loadbalance: invalid policy config")

	// ErrPolicyCreation means the registry produced no policy instance for a
	// name that parsed as resolvable.
	ErrPolicyCreation = errors.New("loadbalance: policy creation failed")

	// ErrNoInstances is returned by a Picker whose instance snapshot is empty.
	ErrNoInstances = errors.New("loadbalance: no instances available")
)

// Config is a validated, policy-specific configuration value produced by a
// Builder's ParseConfig. Configs are immutable after construction.
type Config interface {
	// Name returns the policy name this config belongs to.
	Name() string
}

// UpdateArgs carries one resolved state update into a policy: the current
// instance list for the service plus the validated config for the policy.
type UpdateArgs struct {
	Instances []registry.ServiceInstance
	Config    Config
}

// Policy is the lifecycle interface implemented by balancing strategies.
//
// The owner serializes all four methods: for a given Policy they are never
// invoked concurrently, so implementations need no locking on these paths.
// Helper callbacks are the exception — they may fire asynchronously relative
// to the call that triggered them.
type Policy interface {
	// Update delivers a new instance list and config. The policy reacts by
	// rebuilding and publishing its Picker through the Helper.
	Update(args UpdateArgs) error

	// ExitIdle prompts the policy to resume routing if it went idle.
	ExitIdle()

	// ResetBackoff clears any connection backoff state the policy tracks.
	ResetBackoff()

	// Shutdown is terminal. After it returns, Update is a silent no-op and
	// the policy must not invoke its Helper again.
	Shutdown()
}

// PickInfo carries the per-call routing inputs.
type PickInfo struct {
	ServiceMethod string // "Service.Method" of the call being routed
	HashKey       string // Affinity key for hash-based policies (optional)
}

// Picker selects one instance per RPC over an immutable instance snapshot.
// Called on every call — must be goroutine-safe.
type Picker interface {
	Pick(info PickInfo) (registry.ServiceInstance, error)
}

// Helper is the channel-control surface a policy reports through. The owner
// (typically the client) implements it; delegating policies forward it.
type Helper interface {
	// UpdatePicker installs the picker built from the latest instance set.
	UpdatePicker(p Picker)

	// ResolveNow asks the owner to refresh the instance list out of band.
	ResolveNow()
}

// Args holds everything a Builder needs to construct a policy.
type Args struct {
	// Helper receives the policy's picker updates and resolution requests.
	Helper Helper

	// Registry resolves nested policy names. Delegating policies use it to
	// construct their children; leaf policies ignore it.
	Registry *Registry
}

// Builder creates policies of one named kind and parses their configs.
type Builder interface {
	// Name returns the policy name this builder registers under.
	Name() string

	// Build constructs a new policy instance. A nil return means the builder
	// declined (treated as creation failure by the caller).
	Build(args Args) Policy

	// ParseConfig validates the raw JSON config for this policy and returns
	// the immutable config value Update will later receive.
	ParseConfig(raw json.RawMessage) (Config, error)
}
