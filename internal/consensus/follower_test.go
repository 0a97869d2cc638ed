package consensus

import (
	"testing"
	"time"

	"fixgate/internal/logging"
)

func newTestFollower() (*Follower, *TermState, *fakePub, *fakeSub, *fakeSub, *fakeSession, *fakeArchiver, *fakeClock) {
	term := NewTermState()
	pub := &fakePub{}
	controlSub := &fakeSub{}
	dataSub := &fakeSub{}
	session := &fakeSession{}
	archiver := &fakeArchiver{}
	clock := newFakeClock()

	f := NewFollower(NodeID(1), term, logging.Default("n1"), clock, pub, session, archiver, 100*time.Millisecond, 4096)
	f.Reset(controlSub, dataSub, clock.Now().Add(100*time.Millisecond))
	return f, term, pub, controlSub, dataSub, session, archiver, clock
}

func TestFollowerPromotesOnTimeout(t *testing.T) {
	f, _, _, _, _, _, _, clock := newTestFollower()

	if tr := f.Poll(10, clock.Now()); tr != Stay {
		t.Fatalf("expected Stay before timeout, got %v", tr)
	}

	clock.Advance(200 * time.Millisecond)
	if tr := f.Poll(10, clock.Now()); tr != ToCandidate {
		t.Fatalf("expected ToCandidate after timeout, got %v", tr)
	}
}

func TestFollowerHeartbeatExtendsTimeout(t *testing.T) {
	f, term, _, controlSub, _, _, _, clock := newTestFollower()

	controlSub.push(encodeFrame(ConsensusHeartbeat{Term: 1, LeaderID: 2, SessionID: 9, Position: 0}))
	if tr := f.Poll(10, clock.Now()); tr != Stay {
		t.Fatalf("got %v", tr)
	}
	if term.Term() != 1 {
		t.Fatalf("expected term advanced to 1, got %d", term.Term())
	}

	clock.Advance(200 * time.Millisecond)
	if tr := f.Poll(10, clock.Now()); tr != ToCandidate {
		t.Fatalf("expected eventual timeout despite earlier heartbeat, got %v", tr)
	}
}

func TestFollowerGrantsVoteForHigherTermAndLongerLog(t *testing.T) {
	f, term, pub, controlSub, _, _, _, clock := newTestFollower()
	term.AdvancePosition(10)

	controlSub.push(encodeFrame(RequestVote{Term: 5, CandidateID: 2, LastPosition: 10}))
	f.Poll(10, clock.Now())

	if len(pub.sent) != 1 {
		t.Fatalf("expected one reply sent, got %d", len(pub.sent))
	}
	reply, err := Decode(pub.sent[0])
	if err != nil {
		t.Fatal(err)
	}
	rv, ok := reply.(ReplyVote)
	if !ok || !rv.Granted {
		t.Fatalf("expected granted ReplyVote, got %+v", reply)
	}
}

func TestFollowerRejectsVoteWhenLogBehind(t *testing.T) {
	f, term, pub, controlSub, _, _, _, clock := newTestFollower()
	term.AdvancePosition(100)

	controlSub.push(encodeFrame(RequestVote{Term: 5, CandidateID: 2, LastPosition: 10}))
	f.Poll(10, clock.Now())

	reply, _ := Decode(pub.sent[0])
	if reply.(ReplyVote).Granted {
		t.Fatal("expected vote rejected: candidate log is behind")
	}
}

func TestFollowerVotesOncePerTerm(t *testing.T) {
	f, _, pub, controlSub, _, _, _, clock := newTestFollower()

	controlSub.push(encodeFrame(RequestVote{Term: 5, CandidateID: 2, LastPosition: 0}))
	f.Poll(10, clock.Now())
	controlSub.push(encodeFrame(RequestVote{Term: 5, CandidateID: 3, LastPosition: 0}))
	f.Poll(10, clock.Now())

	first, _ := Decode(pub.sent[0])
	second, _ := Decode(pub.sent[1])
	if !first.(ReplyVote).Granted {
		t.Fatal("expected first vote granted")
	}
	if second.(ReplyVote).Granted {
		t.Fatal("expected second, different candidate in same term rejected")
	}
}

func TestFollowerAppliesDataAndAcks(t *testing.T) {
	f, term, pub, _, dataSub, session, archiver, clock := newTestFollower()

	frag := []byte("8=FIX.4.4\x019=5\x01")
	dataSub.pushAt(frag, Position(len(frag)))
	f.Poll(10, clock.Now())

	if len(session.delivered) != 1 {
		t.Fatalf("expected one fragment delivered to session, got %d", len(session.delivered))
	}
	if len(archiver.data) == 0 {
		t.Fatal("expected fragment archived")
	}
	if term.Position() != Position(len(frag)) {
		t.Fatalf("expected position advanced to fragment end %d, got %d", len(frag), term.Position())
	}
	if len(pub.sent) != 1 {
		t.Fatalf("expected one ack sent, got %d", len(pub.sent))
	}
	ack, _ := Decode(pub.sent[0])
	ma, ok := ack.(MessageAcknowledgement)
	if !ok {
		t.Fatalf("expected MessageAcknowledgement, got %+v", ack)
	}
	if ma.Position != Position(len(frag)) {
		t.Fatalf("expected ack at %d, got %d", len(frag), ma.Position)
	}
}

// Redelivered fragments (a leader answering another follower's Resend)
// must not be double-applied; the follower re-acks instead.
func TestFollowerSkipsDuplicateData(t *testing.T) {
	f, term, pub, _, dataSub, session, archiver, clock := newTestFollower()

	frag := []byte("8=FIX.4.4\x019=5\x01")
	dataSub.pushAt(frag, Position(len(frag)))
	f.Poll(10, clock.Now())
	dataSub.pushAt(frag, Position(len(frag)))
	f.Poll(10, clock.Now())

	if len(session.delivered) != 1 {
		t.Fatalf("duplicate was re-delivered to session: %d fragments", len(session.delivered))
	}
	if len(archiver.data) != len(frag) {
		t.Fatalf("duplicate was re-archived: %d bytes", len(archiver.data))
	}
	if len(pub.sent) != 2 {
		t.Fatalf("expected original ack plus re-ack, got %d", len(pub.sent))
	}
	if term.Position() != Position(len(frag)) {
		t.Fatalf("position moved on duplicate: %d", term.Position())
	}
}

type countingObserver struct {
	malformed int
	stale     int
}

func (o *countingObserver) OnMalformedFrame() { o.malformed++ }
func (o *countingObserver) OnStaleFrame()     { o.stale++ }

func TestFollowerNotifiesObserverOnDrops(t *testing.T) {
	f, term, _, controlSub, _, _, _, clock := newTestFollower()
	obs := &countingObserver{}
	f.SetObserver(obs)

	controlSub.push([]byte{0xFF, 0xFF})
	f.Poll(10, clock.Now())
	if obs.malformed != 1 {
		t.Fatalf("malformed = %d want 1", obs.malformed)
	}

	term.ObserveTerm(5)
	controlSub.push(encodeFrame(ConsensusHeartbeat{Term: 2, LeaderID: 2, SessionID: 9, Position: 0}))
	f.Poll(10, clock.Now())
	if obs.stale != 1 {
		t.Fatalf("stale = %d want 1", obs.stale)
	}
}
