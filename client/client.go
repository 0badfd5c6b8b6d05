// Package client implements the RPC client. Calls are routed through a
// load balancing policy chosen by a JSON service config; instances come from
// the discovery registry and flow into the policy via Discover and Watch.
//
// Call path:
//
//	Call → picker.Pick → instance → transport pool → framed request → reply
//
// Policy path (per service):
//
//	Discover/Watch → serviceBalancer.update → Policy.Update
//	                 Policy → Helper.UpdatePicker → picker used by Call
package client

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"imbalancer-rpc/codec"
	"imbalancer-rpc/loadbalance"
	"imbalancer-rpc/registry"
	"imbalancer-rpc/transport"
)

// DefaultServiceConfig delegates through the imbalancer to round_robin.
const DefaultServiceConfig = `[{"imbalancer":{}}]`

// Client is an RPC client with config-driven load balancing. One balancing
// policy is maintained per service name, created on first use.
type Client struct {
	registry  registry.Registry
	policies  *loadbalance.Registry
	policyCfg loadbalance.Config // Parsed service config, shared by all services
	codecType codec.CodecType
	poolSize  int

	mu       sync.Mutex
	services map[string]*serviceBalancer
	pools    map[string]*transport.Pool // addr → transport pool
	closed   bool
}

// NewClient validates serviceConfig (a policy config list such as
// [{"imbalancer": {"childPolicy": "weighted_random"}}]) against the default
// policy registry and returns a client routing through that policy. A nil
// serviceConfig means DefaultServiceConfig.
func NewClient(reg registry.Registry, serviceConfig json.RawMessage, codecType byte, poolSize int) (*Client, error) {
	if serviceConfig == nil {
		serviceConfig = json.RawMessage(DefaultServiceConfig)
	}
	policies := loadbalance.Default
	cfg, err := policies.ParseConfig(serviceConfig)
	if err != nil {
		return nil, err
	}
	return &Client{
		registry:  reg,
		policies:  policies,
		policyCfg: cfg,
		codecType: codec.CodecType(codecType),
		poolSize:  poolSize,
		services:  make(map[string]*serviceBalancer),
		pools:     make(map[string]*transport.Pool),
	}, nil
}

// Call invokes "Service.Method" with args, filling reply from the response.
func (c *Client) Call(serviceMethod string, args any, reply any) error {
	return c.CallWithKey(serviceMethod, "", args, reply)
}

// CallWithKey is Call with an explicit affinity key for hash-based policies.
func (c *Client) CallWithKey(serviceMethod, hashKey string, args any, reply any) error {
	split := strings.Split(serviceMethod, ".")
	if len(split) != 2 {
		return fmt.Errorf("invalid serviceMethod format: %v", serviceMethod)
	}

	sb, err := c.balancerFor(split[0])
	if err != nil {
		return err
	}

	picker := sb.currentPicker()
	if picker == nil {
		return fmt.Errorf("no picker available for service %s", split[0])
	}
	instance, err := picker.Pick(loadbalance.PickInfo{
		ServiceMethod: serviceMethod,
		HashKey:       hashKey,
	})
	if err != nil {
		return err
	}

	pool, err := c.poolFor(instance.Addr)
	if err != nil {
		return err
	}
	t, err := pool.Get()
	if err != nil {
		return err
	}
	defer pool.Put(t)

	_, ch, err := t.Send(serviceMethod, args)
	if err != nil {
		return err
	}
	resp := <-ch
	if resp.Error != "" {
		return fmt.Errorf("server error: %v", resp.Error)
	}
	return json.Unmarshal(resp.Payload, reply)
}

// ExitIdle prompts every service's policy to resume routing.
func (c *Client) ExitIdle() {
	for _, sb := range c.balancers() {
		sb.exitIdle()
	}
}

// ResetBackoff clears backoff state on every service's policy.
func (c *Client) ResetBackoff() {
	for _, sb := range c.balancers() {
		sb.resetBackoff()
	}
}

// Close shuts down every policy (terminal) and closes all transports.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	services := c.services
	pools := c.pools
	c.services = nil
	c.pools = nil
	c.mu.Unlock()

	for _, sb := range services {
		sb.shutdown()
	}
	for _, pool := range pools {
		pool.Close()
	}
	return nil
}

// balancerFor returns the service's balancer, creating and priming it on
// first use: build the policy, feed it the current instance set, start the
// watch loop.
func (c *Client) balancerFor(serviceName string) (*serviceBalancer, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("client is closed")
	}
	if sb, ok := c.services[serviceName]; ok {
		c.mu.Unlock()
		return sb, nil
	}

	sb := &serviceBalancer{
		client:  c,
		service: serviceName,
		stop:    make(chan struct{}),
	}
	policy := c.policies.CreatePolicy(c.policyCfg.Name(), loadbalance.Args{
		Helper:   sb,
		Registry: c.policies,
	})
	if policy == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", loadbalance.ErrPolicyCreation, c.policyCfg.Name())
	}
	sb.policy = policy
	c.services[serviceName] = sb
	c.mu.Unlock()

	if err := sb.refresh(); err != nil {
		sb.shutdown()
		c.mu.Lock()
		if c.services != nil {
			delete(c.services, serviceName)
		}
		c.mu.Unlock()
		return nil, err
	}
	go sb.watchLoop(c.registry.Watch(serviceName))
	return sb, nil
}

func (c *Client) balancers() []*serviceBalancer {
	c.mu.Lock()
	defer c.mu.Unlock()
	sbs := make([]*serviceBalancer, 0, len(c.services))
	for _, sb := range c.services {
		sbs = append(sbs, sb)
	}
	return sbs
}

func (c *Client) poolFor(addr string) (*transport.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}
	pool, ok := c.pools[addr]
	if !ok {
		pool = transport.NewPool(addr, c.poolSize, c.codecType)
		c.pools[addr] = pool
	}
	return pool, nil
}

// serviceBalancer owns the policy for one service. Its mutex is the
// serialized execution context the policy contracts assume: every
// Update/ExitIdle/ResetBackoff/Shutdown on the policy happens under it, so
// the policy itself never locks.
type serviceBalancer struct {
	client  *Client
	service string
	stop    chan struct{}

	mu     sync.Mutex // Serializes all policy lifecycle calls
	policy loadbalance.Policy
	down   bool

	pickerMu sync.RWMutex
	picker   loadbalance.Picker
}

// UpdatePicker implements loadbalance.Helper: the policy publishes the
// picker Call routes with.
func (sb *serviceBalancer) UpdatePicker(p loadbalance.Picker) {
	sb.pickerMu.Lock()
	sb.picker = p
	sb.pickerMu.Unlock()
}

// ResolveNow implements loadbalance.Helper: re-discover off the caller's
// goroutine, since the policy may invoke this mid-update.
func (sb *serviceBalancer) ResolveNow() {
	go sb.refresh()
}

func (sb *serviceBalancer) currentPicker() loadbalance.Picker {
	sb.pickerMu.RLock()
	defer sb.pickerMu.RUnlock()
	return sb.picker
}

func (sb *serviceBalancer) refresh() error {
	instances, err := sb.client.registry.Discover(sb.service)
	if err != nil {
		return err
	}
	return sb.update(instances)
}

func (sb *serviceBalancer) update(instances []registry.ServiceInstance) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.down {
		return nil
	}
	return sb.policy.Update(loadbalance.UpdateArgs{
		Instances: instances,
		Config:    sb.client.policyCfg,
	})
}

func (sb *serviceBalancer) exitIdle() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if !sb.down {
		sb.policy.ExitIdle()
	}
}

func (sb *serviceBalancer) resetBackoff() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if !sb.down {
		sb.policy.ResetBackoff()
	}
}

func (sb *serviceBalancer) shutdown() {
	sb.mu.Lock()
	if !sb.down {
		sb.down = true
		sb.policy.Shutdown()
		close(sb.stop)
	}
	sb.mu.Unlock()
}

// watchLoop feeds registry changes through the serialized update path until
// shutdown.
func (sb *serviceBalancer) watchLoop(ch <-chan []registry.ServiceInstance) {
	for {
		select {
		case instances, ok := <-ch:
			if !ok {
				return
			}
			sb.update(instances)
		case <-sb.stop:
			return
		}
	}
}
