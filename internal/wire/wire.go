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

// Package wire holds the small set of identifier and offset types that
// both internal/consensus and internal/transport need to agree on.
// consensus depends on transport (to drive roles over a Publication /
// Subscription), and transport needs these same types to tag and order
// the fragments it carries, so neither package can own them without
// creating an import cycle. wire has no dependencies of its own and
// both packages import it; consensus re-exports the types as aliases
// so existing call sites keep writing consensus.Position etc.
package wire

import "fmt"

// NodeID identifies a cluster member. Small and positive, unique per node.
type NodeID int16

// SessionID identifies a publication/subscription session.
type SessionID int32

// Term is Raft's monotonically increasing logical clock of leadership
// attempts.
type Term int32

// Position is a monotonically non-decreasing byte offset into the
// leader's logical log; the unit of acknowledgement and commit.
type Position int64

// NoLeader is the zero SessionID, meaning "no leader known."
const NoLeader SessionID = 0

// NoVote is the zero NodeID sentinel for "voted for nobody this term."
const NoVote NodeID = 0

func (n NodeID) String() string { return fmt.Sprintf("node(%d)", int16(n)) }
func (s SessionID) String() string { return fmt.Sprintf("session(%d)", int32(s)) }
