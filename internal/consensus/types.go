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

/*
Package consensus implements the cluster agent: a Raft-style Follower /
Candidate / Leader role state machine replicating a FIX message stream
across engine nodes over the transport contract in internal/transport.

TermState is the single piece of state shared across role transitions;
each role is pre-allocated once by ClusterAgent and borrows TermState
only while it is current. A role's poll returns a Transition rather than
reaching back into the agent, so there is no role->agent back-reference.
*/
package consensus

import "fixgate/internal/wire"

// NodeID identifies a cluster member. Small and positive, unique per node.
// Aliased from internal/wire, which internal/transport also depends on;
// see that package's doc comment for why the types live there.
type NodeID = wire.NodeID

// SessionID identifies a publication/subscription session.
type SessionID = wire.SessionID

// Term is Raft's monotonically increasing logical clock of leadership
// attempts.
type Term = wire.Term

// Position is a monotonically non-decreasing byte offset into the
// leader's logical log; the unit of acknowledgement and commit.
type Position = wire.Position

// NoLeader is the zero SessionID, meaning "no leader known."
const NoLeader = wire.NoLeader

// NoVote is the zero NodeID sentinel for "voted for nobody this term."
const NoVote = wire.NoVote
