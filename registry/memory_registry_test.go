package registry

import (
	"testing"
	"time"
)

func TestMemoryRegisterAndDiscover(t *testing.T) {
	reg := NewMemoryRegistry()

	if err := reg.Register("Arith", ServiceInstance{Addr: ":8001", Weight: 10}, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("Arith", ServiceInstance{Addr: ":8002", Weight: 5}, 10); err != nil {
		t.Fatal(err)
	}

	instances, err := reg.Discover("Arith")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	if err := reg.Deregister("Arith", ":8001"); err != nil {
		t.Fatal(err)
	}
	instances, _ = reg.Discover("Arith")
	if len(instances) != 1 || instances[0].Addr != ":8002" {
		t.Fatalf("expect only :8002 left, got %v", instances)
	}
}

func TestMemoryWatch(t *testing.T) {
	reg := NewMemoryRegistry()
	ch := reg.Watch("Arith")

	reg.Register("Arith", ServiceInstance{Addr: ":8001"}, 10)

	select {
	case instances := <-ch:
		if len(instances) != 1 || instances[0].Addr != ":8001" {
			t.Fatalf("unexpected watch snapshot: %v", instances)
		}
	case <-time.After(time.Second):
		t.Fatal("watch did not fire after register")
	}

	// A second change while nobody is reading must not block Register; the
	// buffered snapshot is replaced with the newest one.
	reg.Register("Arith", ServiceInstance{Addr: ":8002"}, 10)
	reg.Deregister("Arith", ":8001")

	select {
	case instances := <-ch:
		if len(instances) != 1 || instances[0].Addr != ":8002" {
			t.Fatalf("expect latest snapshot with :8002, got %v", instances)
		}
	case <-time.After(time.Second):
		t.Fatal("watch did not fire after deregister")
	}
}
