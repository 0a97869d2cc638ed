/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package consensus

import (
	"time"

	"fixgate/internal/logging"
	"fixgate/internal/transport"
)

// Follower applies leader data to the local archive, acknowledges
// positions, and promotes itself to Candidate on heartbeat timeout.
// It never initiates an election on its own; only its timeout does.
type Follower struct {
	self     NodeID
	term     *TermState
	log      *logging.Logger
	clock    Clock
	observer FrameObserver

	controlPub  transport.Publication
	controlSub  transport.Subscription
	dataSub     transport.Subscription
	session     SessionHandler
	archiver    Archiver

	electionTimeout     time.Duration
	latestNextReceive   time.Time
	receivedHeartbeat   bool

	// expectedFragment bounds how far ahead of our own position an
	// incoming heartbeat can be before we request a resend.
	expectedFragment Position
}

// NewFollower constructs a Follower. Reset must be called (by the
// agent, on every transition into Follower) before the first Poll.
func NewFollower(self NodeID, term *TermState, log *logging.Logger, clock Clock,
	controlPub transport.Publication, session SessionHandler, archiver Archiver,
	electionTimeout time.Duration, expectedFragment Position) *Follower {
	return &Follower{
		self:             self,
		observer:         NopFrameObserver{},
		term:             term,
		log:              log,
		clock:            clock,
		controlPub:       controlPub,
		session:          session,
		archiver:         archiver,
		electionTimeout:  electionTimeout,
		expectedFragment: expectedFragment,
	}
}

// SetObserver installs a drop-notification observer; nil restores the
// no-op default.
func (f *Follower) SetObserver(obs FrameObserver) {
	if obs == nil {
		obs = NopFrameObserver{}
	}
	f.observer = obs
}

// Reset installs the subscriptions for a new stint as Follower and
// restarts the timeout clock. Called by ClusterAgent on every
// transition into this role.
func (f *Follower) Reset(controlSub, dataSub transport.Subscription, timeoutAt time.Time) {
	f.controlSub = controlSub
	f.dataSub = dataSub
	f.latestNextReceive = timeoutAt
	f.receivedHeartbeat = false
}

// Poll drives one iteration of the Follower's per-poll contract.
func (f *Follower) Poll(fragmentLimit int, now time.Time) Transition {
	transition := Stay

	if f.controlSub != nil {
		f.controlSub.Poll(func(data []byte, pos Position, session SessionID) transport.Action {
			msg, err := decodeAndHandle(f.log, f.observer, data)
			if err != nil {
				return transport.ActionContinue
			}
			if t := f.dispatch(msg, session); t != Stay {
				transition = t
			}
			return transport.ActionContinue
		}, fragmentLimit)
	}

	if transition != Stay {
		return transition
	}

	if f.dataSub != nil {
		f.dataSub.Poll(func(data []byte, pos Position, session SessionID) transport.Action {
			if pos <= f.term.Position() {
				// Duplicate delivery (leader answering a Resend for a
				// peer); re-ack so the leader's PeerAck stays current.
				f.ack(f.term.Position())
				return transport.ActionContinue
			}
			f.session.OnData(data, pos)
			f.term.AdvancePosition(pos)
			if f.archiver != nil {
				f.archiver.Append(data)
			}
			f.ack(pos)
			f.latestNextReceive = now.Add(f.electionTimeout)
			return transport.ActionContinue
		}, fragmentLimit)
	}

	if f.receivedHeartbeat {
		f.latestNextReceive = now.Add(f.electionTimeout)
		f.receivedHeartbeat = false
	}

	if now.After(f.latestNextReceive) {
		f.log.Warn("leader heartbeat timeout, requesting candidacy", logging.Fields{"term": int32(f.term.Term())})
		return ToCandidate
	}

	return Stay
}

func (f *Follower) dispatch(msg ControlMessage, senderSession SessionID) Transition {
	switch m := msg.(type) {
	case ConsensusHeartbeat:
		return f.onHeartbeat(m)
	case RequestVote:
		return f.onRequestVote(m)
	default:
		// Acks and Resends are leader-side concerns; a follower drops
		// anything else it receives on the control stream.
		return Stay
	}
}

// onHeartbeat drops stale terms; otherwise it observes the term,
// records the leader session, marks liveness, and requests a resend if
// the leader is ahead of what we locally expect.
func (f *Follower) onHeartbeat(m ConsensusHeartbeat) Transition {
	if m.Term < f.term.Term() {
		f.observer.OnStaleFrame()
		return Stay
	}
	f.term.ObserveTerm(m.Term)
	f.term.SetLeader(m.SessionID)
	f.receivedHeartbeat = true

	if m.Position > f.term.Position()+f.expectedFragment {
		f.requestResend(m.Term, m.LeaderID, f.term.Position())
	}
	return Stay
}

// onRequestVote implements the standard Raft vote rule:
// grant iff term > current_term, the candidate's log is at least
// as long as ours, and we have not already voted for someone else this
// term.
func (f *Follower) onRequestVote(m RequestVote) Transition {
	if m.Term <= f.term.Term() {
		f.reply(ReplyVote{Term: f.term.Term(), CandidateID: m.CandidateID, VoterID: f.self, Granted: false})
		return Stay
	}
	f.term.ObserveTerm(m.Term)

	if m.LastPosition < f.term.Position() {
		f.reply(ReplyVote{Term: f.term.Term(), CandidateID: m.CandidateID, VoterID: f.self, Granted: false})
		return Stay
	}

	granted := f.term.TryVote(m.CandidateID)
	f.reply(ReplyVote{Term: f.term.Term(), CandidateID: m.CandidateID, VoterID: f.self, Granted: granted})
	return Stay
}

func (f *Follower) ack(pos Position) {
	if f.controlPub == nil {
		return
	}
	msg := MessageAcknowledgement{Term: f.term.Term(), FollowerID: f.self, Position: pos}
	buf := make([]byte, EncodedLen(msg))
	n, err := Encode(buf, msg)
	if err != nil {
		return
	}
	f.controlPub.Offer(buf[:n], pos)
}

func (f *Follower) reply(m ReplyVote) {
	if f.controlPub == nil {
		return
	}
	buf := make([]byte, EncodedLen(m))
	n, err := Encode(buf, m)
	if err != nil {
		return
	}
	f.controlPub.Offer(buf[:n], f.term.Position())
}

func (f *Follower) requestResend(term Term, leaderID NodeID, from Position) {
	if f.controlPub == nil {
		return
	}
	msg := Resend{Term: term, LeaderID: leaderID, StartPosition: from, Length: int32(f.expectedFragment)}
	buf := make([]byte, EncodedLen(msg))
	n, err := Encode(buf, msg)
	if err != nil {
		return
	}
	f.controlPub.Offer(buf[:n], from)
}

func decodeAndHandle(log *logging.Logger, obs FrameObserver, data []byte) (ControlMessage, error) {
	msg, err := Decode(data)
	if err != nil {
		obs.OnMalformedFrame()
		log.Warn("dropping malformed control frame", logging.Fields{"error": err.Error()})
		return nil, err
	}
	return msg, nil
}
