package discovery

import (
	"testing"

	"github.com/miekg/dns"
)

func TestSRVToEndpointsOrdersByPriorityThenWeight(t *testing.T) {
	records := []*dns.SRV{
		{Priority: 10, Weight: 5, Port: 9711, Target: "engine-b.internal."},
		{Priority: 0, Weight: 1, Port: 9710, Target: "engine-a.internal."},
		{Priority: 0, Weight: 9, Port: 9712, Target: "engine-c.internal."},
	}

	endpoints := srvToEndpoints(records)
	if len(endpoints) != 3 {
		t.Fatalf("len(endpoints) = %d, want 3", len(endpoints))
	}

	want := []string{"engine-c.internal:9712", "engine-a.internal:9710", "engine-b.internal:9711"}
	for i, e := range endpoints {
		if e.Addr != want[i] {
			t.Errorf("endpoints[%d].Addr = %q, want %q", i, e.Addr, want[i])
		}
	}
}

func TestSRVToEndpointsEmpty(t *testing.T) {
	if endpoints := srvToEndpoints(nil); len(endpoints) != 0 {
		t.Errorf("expected no endpoints, got %d", len(endpoints))
	}
}
