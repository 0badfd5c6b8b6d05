// Package registry provides service registration and discovery. Servers
// register their instances under a service name; clients discover and watch
// the instance set to keep their load balancing policies current.
package registry

// ServiceInstance describes one addressable instance of a service.
type ServiceInstance struct {
	Addr    string // "host:port" the instance listens on
	Weight  int    // Relative capacity, consumed by weighted policies
	Version string // Deployed version, informational
}

// Registry is the discovery interface. Implementations: EtcdRegistry for
// production, MemoryRegistry for in-process use and tests.
type Registry interface {
	// Register adds an instance under serviceName with a TTL in seconds.
	Register(serviceName string, instance ServiceInstance, ttl int64) error

	// Deregister removes the instance with the given address.
	Deregister(serviceName string, addr string) error

	// Discover returns the current instance set for serviceName.
	Discover(serviceName string) ([]ServiceInstance, error)

	// Watch emits the full updated instance set whenever it changes.
	Watch(serviceName string) <-chan []ServiceInstance
}
