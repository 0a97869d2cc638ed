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
	"math/rand"
	"time"

	"fixgate/internal/logging"
	"fixgate/internal/transport"
)

// RoleKind tags which of the three pre-allocated roles is current.
type RoleKind int

const (
	RoleFollower RoleKind = iota
	RoleCandidate
	RoleLeader
)

func (r RoleKind) String() string {
	switch r {
	case RoleFollower:
		return "Follower"
	case RoleCandidate:
		return "Candidate"
	case RoleLeader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// SubscriptionFactory opens fresh control/data subscriptions from the
// transport on each role transition, so a departing role's handles can
// be released and the arriving role gets its own.
type SubscriptionFactory interface {
	OpenControl() transport.Subscription
	OpenData() transport.Subscription
}

// AgentConfig carries the construction-time parameters ClusterAgent
// needs. NewClusterAgent performs no validation of its own and returns
// no error; internal/config.Validate is where configuration is checked.
type AgentConfig struct {
	Self              NodeID
	Session           SessionID
	ClusterSize       int
	ElectionTimeout   time.Duration
	HeartbeatInterval time.Duration
	ExpectedFragment  Position
	// InitialPosition seeds TermState's position from durable storage so
	// a restarted node resumes acking from where its archive ends
	// instead of zero.
	InitialPosition Position
	Strategy        AcknowledgementStrategy
	// Observer, when non-nil, is notified of dropped control frames so
	// the process can surface drop counters. Defaults to a no-op.
	Observer FrameObserver
}

// ClusterAgent owns TermState and the three pre-allocated Role
// instances; exactly one is current at a time. It routes
// inbound fragments to the current role and acts on the Transition each
// poll returns.
type ClusterAgent struct {
	cfg   AgentConfig
	term  *TermState
	log   *logging.Logger
	clock Clock
	rng   *rand.Rand

	factory SubscriptionFactory

	follower  *Follower
	candidate *Candidate
	leader    *Leader

	current     RoleKind
	controlSub  transport.Subscription
	dataSub     transport.Subscription
}

// NewClusterAgent wires the three roles together and sets the agent to
// its initial state: Follower, term 0, with the first election timeout
// randomized in [timeout, 2*timeout).
func NewClusterAgent(cfg AgentConfig, log *logging.Logger, clock Clock, factory SubscriptionFactory,
	controlPub, dataPub transport.Publication, session SessionHandler, archiver Archiver, reader ArchiveReader) *ClusterAgent {
	term := NewTermState()
	term.AdvancePosition(cfg.InitialPosition)
	a := &ClusterAgent{
		cfg:     cfg,
		term:    term,
		log:     log,
		clock:   clock,
		rng:     rand.New(rand.NewSource(int64(cfg.Self) + 1)),
		factory: factory,
	}

	a.follower = NewFollower(cfg.Self, term, log, clock, controlPub, session, archiver, cfg.ElectionTimeout, cfg.ExpectedFragment)
	a.candidate = NewCandidate(cfg.Self, term, log, cfg.ClusterSize, controlPub, cfg.ElectionTimeout)
	a.leader = NewLeader(cfg.Self, cfg.Session, term, log, cfg.ClusterSize, cfg.Strategy, controlPub, dataPub, reader, cfg.HeartbeatInterval)
	if cfg.Observer != nil {
		a.follower.SetObserver(cfg.Observer)
		a.candidate.SetObserver(cfg.Observer)
		a.leader.SetObserver(cfg.Observer)
	}

	a.current = RoleFollower
	a.controlSub = factory.OpenControl()
	a.dataSub = factory.OpenData()
	a.follower.Reset(a.controlSub, a.dataSub, clock.Now().Add(a.randomizedElectionTimeout()))

	return a
}

// randomizedElectionTimeout returns a duration uniformly drawn from
// [timeout, 2*timeout) to avoid split votes across the cluster.
func (a *ClusterAgent) randomizedElectionTimeout() time.Duration {
	base := a.cfg.ElectionTimeout
	jitter := time.Duration(a.rng.Int63n(int64(base)))
	return base + jitter
}

// Role reports which role is currently active.
func (a *ClusterAgent) Role() RoleKind { return a.current }

// Term exposes the shared TermState for observability (fixctl status).
func (a *ClusterAgent) Term() *TermState { return a.term }

// Poll drives one iteration of whichever role is current and applies
// any resulting Transition.
func (a *ClusterAgent) Poll(fragmentLimit int) {
	now := a.clock.Now()

	var transition Transition
	switch a.current {
	case RoleFollower:
		transition = a.follower.Poll(fragmentLimit, now)
	case RoleCandidate:
		transition = a.candidate.Poll(fragmentLimit, now)
	case RoleLeader:
		transition = a.leader.Poll(fragmentLimit, now)
	}

	if transition == Stay {
		return
	}
	a.transitionTo(transition, now)
}

// transitionTo performs the role swap: close the
// departing role's streams, open fresh ones for the arriving role, and
// only then swap current_role. TermState updates (done inside each
// role's handler, before it returns a Transition) always precede the
// swap, so an externally observed term never regresses.
func (a *ClusterAgent) transitionTo(t Transition, now time.Time) {
	a.closeSubs()

	switch t {
	case ToFollower:
		a.log.Info("role transition", logging.Fields{"from": a.current.String(), "to": "Follower", "term": int32(a.term.Term())})
		a.controlSub = a.factory.OpenControl()
		a.dataSub = a.factory.OpenData()
		a.follower.Reset(a.controlSub, a.dataSub, now.Add(a.randomizedElectionTimeout()))
		a.current = RoleFollower

	case ToCandidate:
		a.log.Info("role transition", logging.Fields{"from": a.current.String(), "to": "Candidate", "term": int32(a.term.Term())})
		a.controlSub = a.factory.OpenControl()
		a.candidate.Reset(a.controlSub, now, a.randomizedElectionTimeout())
		a.current = RoleCandidate

	case ToLeader:
		a.log.Info("role transition", logging.Fields{"from": a.current.String(), "to": "Leader", "term": int32(a.term.Term())})
		a.controlSub = a.factory.OpenControl()
		a.dataSub = a.factory.OpenData()
		a.leader.Reset(a.controlSub, now)
		a.current = RoleLeader
	}
}

func (a *ClusterAgent) closeSubs() {
	if a.controlSub != nil {
		a.controlSub.Close()
		a.controlSub = nil
	}
	if a.dataSub != nil {
		a.dataSub.Close()
		a.dataSub = nil
	}
}

// Follower/Candidate/Leader expose the pre-allocated role instances so
// callers (e.g. fixctl, LibraryPoller redirect resolution) can inspect
// role-scoped state without reaching into agent internals.
func (a *ClusterAgent) Leader() *Leader { return a.leader }
func (a *ClusterAgent) Candidate() *Candidate { return a.candidate }
func (a *ClusterAgent) FollowerRole() *Follower { return a.follower }
