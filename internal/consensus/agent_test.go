package consensus

import (
	"testing"
	"time"

	"fixgate/internal/logging"
)

func newTestAgent(clusterSize int) (*ClusterAgent, *fakeFactory, *fakePub, *fakePub, *fakeClock) {
	factory := newFakeFactory()
	controlPub := &fakePub{}
	dataPub := &fakePub{}
	clock := newFakeClock()
	session := &fakeSession{}
	archiver := &fakeArchiver{}

	cfg := AgentConfig{
		Self:              1,
		Session:           100,
		ClusterSize:       clusterSize,
		ElectionTimeout:   100 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		ExpectedFragment:  4096,
	}
	agent := NewClusterAgent(cfg, logging.Default("n1"), clock, factory, controlPub, dataPub, session, archiver, archiver)
	return agent, factory, controlPub, dataPub, clock
}

func TestAgentStartsAsFollower(t *testing.T) {
	agent, factory, _, _, _ := newTestAgent(3)
	if agent.Role() != RoleFollower {
		t.Fatalf("expected initial role Follower, got %v", agent.Role())
	}
	if factory.controlOpens != 1 || factory.dataOpens != 1 {
		t.Fatalf("expected one control and one data subscription opened at construction, got %d/%d",
			factory.controlOpens, factory.dataOpens)
	}
}

func TestAgentFollowerToCandidateOnTimeout(t *testing.T) {
	agent, factory, _, _, clock := newTestAgent(3)
	prevControl := factory.control

	clock.Advance(250 * time.Millisecond)
	agent.Poll(10)

	if agent.Role() != RoleCandidate {
		t.Fatalf("expected Candidate after timeout, got %v", agent.Role())
	}
	if !prevControl.closed {
		t.Fatal("expected departing Follower's control subscription closed")
	}
	if factory.controlOpens != 2 {
		t.Fatalf("expected a fresh control subscription opened on transition, got %d opens", factory.controlOpens)
	}
}

func TestAgentFullElectionToLeader(t *testing.T) {
	agent, factory, _, _, clock := newTestAgent(3)

	clock.Advance(250 * time.Millisecond)
	agent.Poll(10) // Follower -> Candidate

	if agent.Role() != RoleCandidate {
		t.Fatalf("expected Candidate, got %v", agent.Role())
	}
	term := agent.Term().Term()

	factory.control.push(encodeFrame(ReplyVote{Term: term, CandidateID: 1, VoterID: 2, Granted: true}))
	agent.Poll(10) // Candidate -> Leader

	if agent.Role() != RoleLeader {
		t.Fatalf("expected Leader after quorum, got %v", agent.Role())
	}
}

func TestAgentTermNeverRegressesAcrossTransitions(t *testing.T) {
	agent, factory, _, _, clock := newTestAgent(3)

	clock.Advance(250 * time.Millisecond)
	agent.Poll(10)
	t1 := agent.Term().Term()

	factory.control.push(encodeFrame(ConsensusHeartbeat{Term: t1 + 5, LeaderID: 2, SessionID: 9, Position: 0}))
	agent.Poll(10)
	t2 := agent.Term().Term()

	if t2 < t1 {
		t.Fatalf("term regressed: %d -> %d", t1, t2)
	}
	if agent.Role() != RoleFollower {
		t.Fatalf("expected step down to Follower on higher-term heartbeat, got %v", agent.Role())
	}
}
