package metrics

import "testing"

func TestRegistryCounters(t *testing.T) {
	r := NewRegistry()

	r.IncElectionsStarted()
	r.IncElectionsStarted()
	r.IncElectionsWon()
	r.IncRoleTransitions()
	r.IncMalformedFrames()
	r.IncStaleFrames()
	r.IncStaleFrames()

	started, won, transitions, malformed, stale := r.Snapshot()
	if started != 2 {
		t.Errorf("electionsStarted = %d, want 2", started)
	}
	if won != 1 {
		t.Errorf("electionsWon = %d, want 1", won)
	}
	if transitions != 1 {
		t.Errorf("roleTransitions = %d, want 1", transitions)
	}
	if malformed != 1 {
		t.Errorf("malformedFrames = %d, want 1", malformed)
	}
	if stale != 2 {
		t.Errorf("staleFrames = %d, want 2", stale)
	}
}
