package engine

import (
	"testing"

	"fixgate/internal/protocol"
)

func TestSessionRegistryRequestAndRelease(t *testing.T) {
	r := NewSessionRegistry()

	if status := r.Request(1, 100); status != protocol.StatusOK {
		t.Fatalf("expected OK claiming a free session, got %v", status)
	}
	if status := r.Request(1, 100); status != protocol.StatusOK {
		t.Fatalf("expected idempotent reclaim by the same library to succeed, got %v", status)
	}
	if status := r.Request(2, 100); status == protocol.StatusOK {
		t.Fatal("expected a different library to be rejected while session is owned")
	}
	if status := r.Release(2, 100); status == protocol.StatusOK {
		t.Fatal("expected release by a non-owner to fail")
	}
	if status := r.Release(1, 100); status != protocol.StatusOK {
		t.Fatalf("expected release by the owner to succeed, got %v", status)
	}
	if status := r.Request(2, 100); status != protocol.StatusOK {
		t.Fatalf("expected the freed session to be claimable, got %v", status)
	}
}

func TestSessionRegistryReleaseUnknown(t *testing.T) {
	r := NewSessionRegistry()
	if status := r.Release(1, 999); status == protocol.StatusOK {
		t.Fatal("expected releasing an unknown session to fail")
	}
}
