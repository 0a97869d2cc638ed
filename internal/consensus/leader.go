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

// Leader broadcasts heartbeats, tracks each follower's acknowledged
// position in PeerAck, and advances the committed position through a
// pluggable AcknowledgementStrategy. The PeerAck map is cleared whenever
// this role becomes current.
type Leader struct {
	self        NodeID
	session     SessionID
	term        *TermState
	log         *logging.Logger
	observer    FrameObserver
	clusterSize int
	strategy    AcknowledgementStrategy

	controlPub transport.Publication
	controlSub transport.Subscription
	dataPub    transport.Publication
	reader     ArchiveReader

	heartbeatInterval time.Duration
	heartbeatDeadline time.Time

	peerAck         map[NodeID]Position
	replicateCursor Position
}

// NewLeader constructs a Leader. Reset must be called on every
// transition into this role.
func NewLeader(self NodeID, session SessionID, term *TermState, log *logging.Logger, clusterSize int,
	strategy AcknowledgementStrategy, controlPub, dataPub transport.Publication, reader ArchiveReader,
	heartbeatInterval time.Duration) *Leader {
	if strategy == nil {
		strategy = QuorumStrategy
	}
	return &Leader{
		self:              self,
		observer:          NopFrameObserver{},
		session:           session,
		term:              term,
		log:               log,
		clusterSize:       clusterSize,
		strategy:          strategy,
		controlPub:        controlPub,
		dataPub:           dataPub,
		reader:            reader,
		heartbeatInterval: heartbeatInterval,
	}
}

// SetObserver installs a drop-notification observer; nil restores the
// no-op default.
func (l *Leader) SetObserver(obs FrameObserver) {
	if obs == nil {
		obs = NopFrameObserver{}
	}
	l.observer = obs
}

// Reset clears PeerAck, installs the control subscription, and arms an
// immediate heartbeat deadline so a fresh leader announces itself on its
// very first poll.
func (l *Leader) Reset(controlSub transport.Subscription, now time.Time) {
	l.controlSub = controlSub
	l.peerAck = make(map[NodeID]Position)
	l.heartbeatDeadline = time.Time{}
	l.replicateCursor = l.term.CommitPosition()
	l.term.SetLeader(l.session)
}

// Poll drives one iteration of the Leader's per-poll contract.
func (l *Leader) Poll(fragmentLimit int, now time.Time) Transition {
	transition := Stay

	if l.controlSub != nil {
		l.controlSub.Poll(func(data []byte, pos Position, session SessionID) transport.Action {
			msg, err := decodeAndHandle(l.log, l.observer, data)
			if err != nil {
				return transport.ActionContinue
			}
			if t := l.dispatch(msg); t != Stay {
				transition = t
			}
			return transport.ActionContinue
		}, fragmentLimit)
	}
	if transition != Stay {
		return transition
	}

	if now.After(l.heartbeatDeadline) {
		l.sendHeartbeat()
		l.heartbeatDeadline = now.Add(l.heartbeatInterval)
	}

	newCommit := l.strategy(l.term.Position(), l.peerAck, l.clusterSize)
	if newCommit > l.term.CommitPosition() {
		l.term.AdvanceCommitPosition(newCommit)
	}

	l.replicate(fragmentLimit)

	return Stay
}

func (l *Leader) sendHeartbeat() {
	if l.controlPub == nil {
		return
	}
	msg := ConsensusHeartbeat{Term: l.term.Term(), LeaderID: l.self, SessionID: l.session, Position: l.term.Position()}
	buf := make([]byte, EncodedLen(msg))
	n, err := Encode(buf, msg)
	if err != nil {
		return
	}
	l.controlPub.Offer(buf[:n], l.term.Position())
}

// replicate reads archive-durable data not yet handed to the data
// publication and offers it, capped to fragmentLimit bytes per
// iteration to preserve responsiveness.
func (l *Leader) replicate(fragmentLimit int) {
	if l.reader == nil || l.dataPub == nil {
		return
	}
	if l.replicateCursor >= l.term.Position() {
		return
	}
	data, err := l.reader.ReadRange(l.replicateCursor, fragmentLimit)
	if err != nil || len(data) == 0 {
		return
	}
	endPos := l.replicateCursor + Position(len(data))
	if l.dataPub.Offer(data, endPos) {
		l.replicateCursor = endPos
	}
}

// Propose appends data to the leader's own archive and advances its
// locally observed position, making it eligible for replication on the
// next poll. The engine's library RPC server does not call it; that
// server only arbitrates session ownership and leader redirection.
func (l *Leader) Propose(data []byte, archiver Archiver) (Position, error) {
	pos, err := archiver.Append(data)
	if err != nil {
		return 0, err
	}
	l.term.AdvancePosition(pos)
	return pos, nil
}

func (l *Leader) dispatch(msg ControlMessage) Transition {
	switch m := msg.(type) {
	case MessageAcknowledgement:
		return l.onAck(m)
	case RequestVote:
		return l.onRequestVote(m)
	case ConsensusHeartbeat:
		return l.onHeartbeat(m)
	case Resend:
		return l.onResend(m)
	default:
		return Stay
	}
}

// onResend rewinds the replicate cursor so the requested range is
// re-offered on subsequent polls. Re-delivery is idempotent for
// followers: AdvancePosition ignores positions at or below their own.
func (l *Leader) onResend(m Resend) Transition {
	if m.Term != l.term.Term() {
		return Stay
	}
	if m.StartPosition < l.replicateCursor {
		l.replicateCursor = m.StartPosition
	}
	return Stay
}

// onAck updates PeerAck only for the current term;
// lower-term acks are dropped (stale).
func (l *Leader) onAck(m MessageAcknowledgement) Transition {
	if m.Term != l.term.Term() {
		if m.Term < l.term.Term() {
			l.observer.OnStaleFrame()
		}
		return Stay
	}
	if existing, ok := l.peerAck[m.FollowerID]; !ok || m.Position > existing {
		l.peerAck[m.FollowerID] = m.Position
	}
	return Stay
}

// onRequestVote steps down and grants when term > current_term, else
// rejects.
func (l *Leader) onRequestVote(m RequestVote) Transition {
	if m.Term <= l.term.Term() {
		if l.controlPub != nil {
			reply := ReplyVote{Term: l.term.Term(), CandidateID: m.CandidateID, VoterID: l.self, Granted: false}
			buf := make([]byte, EncodedLen(reply))
			if n, err := Encode(buf, reply); err == nil {
				l.controlPub.Offer(buf[:n], l.term.Position())
			}
		}
		return Stay
	}
	l.term.ObserveTerm(m.Term)
	granted := m.LastPosition >= l.term.Position() && l.term.TryVote(m.CandidateID)
	if l.controlPub != nil {
		reply := ReplyVote{Term: l.term.Term(), CandidateID: m.CandidateID, VoterID: l.self, Granted: granted}
		buf := make([]byte, EncodedLen(reply))
		if n, err := Encode(buf, reply); err == nil {
			l.controlPub.Offer(buf[:n], l.term.Position())
		}
	}
	return ToFollower
}

// onHeartbeat steps down only for a strictly higher term: two leaders
// of the same term cannot coexist by construction, but a
// stale duplicate heartbeat of our own term must not demote us.
func (l *Leader) onHeartbeat(m ConsensusHeartbeat) Transition {
	if m.Term > l.term.Term() {
		l.term.ObserveTerm(m.Term)
		l.term.SetLeader(m.SessionID)
		return ToFollower
	}
	return Stay
}
