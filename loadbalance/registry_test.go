package loadbalance

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestRegistryParseConfigFirstSupported(t *testing.T) {
	probe := &probeBuilder{name: "probe"}
	reg := NewRegistry()
	reg.Register(probe)

	// The unknown candidate is skipped, the registered one parsed.
	cfg, err := reg.ParseConfig(json.RawMessage(`[{"unknown": {}}, {"probe": {"x": 1}}]`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name() != "probe" {
		t.Fatalf("expect probe config, got %q", cfg.Name())
	}
	if string(probe.lastRaw) != `{"x": 1}` {
		t.Fatalf("expect the entry's config handed to the builder, got %s", probe.lastRaw)
	}
}

func TestRegistryParseConfigErrors(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&probeBuilder{name: "probe"})

	// Not a list, empty list, no registered candidate, two names per entry.
	cases := []string{
		`{"probe": {}}`,
		`[]`,
		`[{"unknown": {}}]`,
		`[{"probe": {}, "other": {}}]`,
	}
	for _, raw := range cases {
		if _, err := reg.ParseConfig(json.RawMessage(raw)); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("parse %s: expect ErrInvalidConfig, got %v", raw, err)
		}
	}
}

func TestRegistryParseConfigBuilderFailure(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&probeBuilder{name: "probe", parseErr: errors.New("bad shape")})

	_, err := reg.ParseConfig(json.RawMessage(`[{"probe": {}}]`))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expect ErrInvalidConfig wrapping the builder error, got %v", err)
	}
}

func TestRegistryCreatePolicy(t *testing.T) {
	probe := &probeBuilder{name: "probe"}
	reg := NewRegistry()
	reg.Register(probe)

	if p := reg.CreatePolicy("probe", Args{Helper: &fakeHelper{}}); p == nil {
		t.Fatal("expect a policy for a registered name")
	}
	if p := reg.CreatePolicy("unknown", Args{Helper: &fakeHelper{}}); p != nil {
		t.Fatal("expect nil for an unregistered name")
	}
}

func TestRegistryLastRegistrationWins(t *testing.T) {
	first := &probeBuilder{name: "probe"}
	second := &probeBuilder{name: "probe"}
	reg := NewRegistry()
	reg.Register(first)
	reg.Register(second)

	reg.CreatePolicy("probe", Args{Helper: &fakeHelper{}})
	if first.builds != 0 || second.builds != 1 {
		t.Fatalf("expect the later registration to serve builds, got first=%d second=%d", first.builds, second.builds)
	}
}

func TestDefaultRegistryBuiltins(t *testing.T) {
	for _, name := range []string{RoundRobinName, WeightedRandomName, ConsistentHashName, ImbalancerName} {
		if Default.Builder(name) == nil {
			t.Fatalf("expect %q registered in the default registry", name)
		}
	}
}
