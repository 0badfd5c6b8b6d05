package registry

import "sync"

// MemoryRegistry is an in-process Registry. It backs tests and single-binary
// deployments where etcd would be overkill. TTLs are ignored: entries live
// until Deregister.
type MemoryRegistry struct {
	mu       sync.Mutex
	services map[string]map[string]ServiceInstance // service → addr → instance
	watchers map[string][]chan []ServiceInstance
}

// NewMemoryRegistry returns an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		services: make(map[string]map[string]ServiceInstance),
		watchers: make(map[string][]chan []ServiceInstance),
	}
}

func (r *MemoryRegistry) Register(serviceName string, instance ServiceInstance, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	insts := r.services[serviceName]
	if insts == nil {
		insts = make(map[string]ServiceInstance)
		r.services[serviceName] = insts
	}
	insts[instance.Addr] = instance
	r.notifyLocked(serviceName)
	return nil
}

func (r *MemoryRegistry) Deregister(serviceName string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if insts := r.services[serviceName]; insts != nil {
		delete(insts, addr)
		r.notifyLocked(serviceName)
	}
	return nil
}

func (r *MemoryRegistry) Discover(serviceName string) ([]ServiceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(serviceName), nil
}

// Watch registers a buffered channel that receives the full instance set on
// every change. Slow consumers drop intermediate sets rather than blocking
// registrations.
func (r *MemoryRegistry) Watch(serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	r.mu.Lock()
	r.watchers[serviceName] = append(r.watchers[serviceName], ch)
	r.mu.Unlock()
	return ch
}

func (r *MemoryRegistry) notifyLocked(serviceName string) {
	snapshot := r.snapshotLocked(serviceName)
	for _, ch := range r.watchers[serviceName] {
		select {
		case ch <- snapshot:
		default:
			// Drop the stale set; replace the buffered one with the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}

func (r *MemoryRegistry) snapshotLocked(serviceName string) []ServiceInstance {
	insts := r.services[serviceName]
	snapshot := make([]ServiceInstance, 0, len(insts))
	for _, inst := range insts {
		snapshot = append(snapshot, inst)
	}
	return snapshot
}
