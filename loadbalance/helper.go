package loadbalance

import "sync"

// DelegatingHelper is the Helper handed to a child policy by a delegating
// parent. It forwards every callback to the parent and can be detached when
// the parent tears the child down, so a callback issued by a dying child is
// dropped instead of reaching a parent that no longer owns it.
//
// Callbacks may race with Detach (they arrive off the serialized policy
// path), hence the mutex.
type DelegatingHelper struct {
	mu     sync.Mutex
	parent Helper
}

// NewDelegatingHelper returns a helper forwarding to parent until detached.
func NewDelegatingHelper(parent Helper) *DelegatingHelper {
	return &DelegatingHelper{parent: parent}
}

// UpdatePicker forwards to the parent, or drops the update if detached.
func (h *DelegatingHelper) UpdatePicker(p Picker) {
	if parent := h.target(); parent != nil {
		parent.UpdatePicker(p)
	}
}

// ResolveNow forwards to the parent, or drops the request if detached.
func (h *DelegatingHelper) ResolveNow() {
	if parent := h.target(); parent != nil {
		parent.ResolveNow()
	}
}

// Detach severs the forwarding path. Must be called before the child that
// holds this helper is shut down.
func (h *DelegatingHelper) Detach() {
	h.mu.Lock()
	h.parent = nil
	h.mu.Unlock()
}

func (h *DelegatingHelper) target() Helper {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.parent
}
