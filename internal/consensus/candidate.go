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

// Candidate runs an election: it solicits votes from every peer, counts
// granted votes against a quorum, and transitions to Leader on success
// or back to Follower if it observes a term at least as large as its own.
type Candidate struct {
	self        NodeID
	term        *TermState
	log         *logging.Logger
	observer    FrameObserver
	clusterSize int

	controlPub transport.Publication
	controlSub transport.Subscription

	electionTimeoutBase time.Duration
	electionDeadline    time.Time
	granted             map[NodeID]bool
}

// NewCandidate constructs a Candidate. Reset must be called on every
// transition into this role, including re-elections.
func NewCandidate(self NodeID, term *TermState, log *logging.Logger, clusterSize int,
	controlPub transport.Publication, electionTimeoutBase time.Duration) *Candidate {
	return &Candidate{
		self:                self,
		observer:            NopFrameObserver{},
		term:                term,
		log:                 log,
		clusterSize:         clusterSize,
		controlPub:          controlPub,
		electionTimeoutBase: electionTimeoutBase,
	}
}

// SetObserver installs a drop-notification observer; nil restores the
// no-op default.
func (c *Candidate) SetObserver(obs FrameObserver) {
	if obs == nil {
		obs = NopFrameObserver{}
	}
	c.observer = obs
}

// Reset performs the Candidate entry action: bump the term, vote
// for self, broadcast RequestVote, and arm the election deadline.
// randomizedTimeout is the caller-supplied jittered deadline duration.
func (c *Candidate) Reset(controlSub transport.Subscription, now time.Time, randomizedTimeout time.Duration) {
	c.controlSub = controlSub
	newTerm := c.term.BeginElection(c.self)
	c.granted = map[NodeID]bool{c.self: true}
	c.electionDeadline = now.Add(randomizedTimeout)

	c.broadcastRequestVote(newTerm)
	c.log.Info("starting election", logging.Fields{"term": int32(newTerm)})
}

func (c *Candidate) broadcastRequestVote(term Term) {
	if c.controlPub == nil {
		return
	}
	msg := RequestVote{Term: term, CandidateID: c.self, LastPosition: c.term.Position()}
	buf := make([]byte, EncodedLen(msg))
	n, err := Encode(buf, msg)
	if err != nil {
		return
	}
	c.controlPub.Offer(buf[:n], c.term.Position())
}

// Poll drives one iteration of the Candidate's per-poll contract.
func (c *Candidate) Poll(fragmentLimit int, now time.Time) Transition {
	transition := Stay

	if c.controlSub != nil {
		c.controlSub.Poll(func(data []byte, pos Position, session SessionID) transport.Action {
			msg, err := decodeAndHandle(c.log, c.observer, data)
			if err != nil {
				return transport.ActionContinue
			}
			if t := c.dispatch(msg); t != Stay {
				transition = t
			}
			return transport.ActionContinue
		}, fragmentLimit)
	}

	if transition != Stay {
		return transition
	}

	if now.After(c.electionDeadline) {
		c.log.Info("election deadline without quorum, retrying", logging.Fields{"term": int32(c.term.Term())})
		return ToCandidate
	}

	return Stay
}

func (c *Candidate) dispatch(msg ControlMessage) Transition {
	switch m := msg.(type) {
	case ReplyVote:
		return c.onReplyVote(m)
	case ConsensusHeartbeat:
		return c.onHeartbeat(m)
	case RequestVote:
		return c.onRequestVoteFromPeer(m)
	default:
		return Stay
	}
}

// onReplyVote accepts only replies for our own term and
// candidacy; once a quorum of the cluster (including self) has granted,
// transition to Leader.
func (c *Candidate) onReplyVote(m ReplyVote) Transition {
	if m.Term != c.term.Term() || m.CandidateID != c.self {
		if m.Term < c.term.Term() {
			c.observer.OnStaleFrame()
		}
		return Stay
	}
	if m.Granted {
		c.granted[m.VoterID] = true
	}
	if len(c.granted) >= QuorumSize(c.clusterSize) {
		c.log.Info("quorum reached, becoming leader", logging.Fields{"term": int32(c.term.Term())})
		return ToLeader
	}
	return Stay
}

// onHeartbeat steps down to Follower whenever term >= our term.
func (c *Candidate) onHeartbeat(m ConsensusHeartbeat) Transition {
	if m.Term >= c.term.Term() {
		c.term.ObserveTerm(m.Term)
		c.term.SetLeader(m.SessionID)
		return ToFollower
	}
	return Stay
}

// onRequestVoteFromPeer steps down and grants per the Follower rule when
// a competing candidate has a strictly higher term.
func (c *Candidate) onRequestVoteFromPeer(m RequestVote) Transition {
	if m.Term <= c.term.Term() {
		return Stay
	}
	c.term.ObserveTerm(m.Term)

	granted := m.LastPosition >= c.term.Position() && c.term.TryVote(m.CandidateID)
	if c.controlPub != nil {
		reply := ReplyVote{Term: c.term.Term(), CandidateID: m.CandidateID, VoterID: c.self, Granted: granted}
		buf := make([]byte, EncodedLen(reply))
		if n, err := Encode(buf, reply); err == nil {
			c.controlPub.Offer(buf[:n], c.term.Position())
		}
	}
	return ToFollower
}
