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

// Package transport defines the non-blocking publication/subscription
// contract the consensus and library packages are built against, plus a
// concrete UDP-datagram implementation of it (see udp.go). Every role in
// internal/consensus is written only against the interfaces here, so a
// different substrate (shared memory, reliable multicast) can be
// substituted without touching role logic.
package transport

import "fixgate/internal/wire"

// Action is returned by a FragmentHandler to tell the Subscription
// whether the fragment was consumed.
type Action int

const (
	// ActionContinue means the fragment was consumed; advance past it.
	ActionContinue Action = iota
	// ActionAbort means the fragment must be redelivered on the next
	// Poll, implementing back-pressure from the consumer side.
	ActionAbort
)

// FragmentHandler processes one fragment delivered by Subscription.Poll.
type FragmentHandler func(data []byte, position wire.Position, session wire.SessionID) Action

// Publication is a non-blocking, session-identified output stream.
// Offer never blocks: it either sends the frame or reports back-pressure.
//
// The caller, not the transport, owns the Position coordinate space:
// pos is the absolute position data ends at once applied (to the
// archive, for the data stream), and Offer carries it on the wire
// alongside data rather than deriving it from a datagram-local
// counter. A transport has no way to know the logical log's numbering
// on its own, so it must be told.
type Publication interface {
	// Offer attempts to publish data tagged with the position it ends
	// at. Returns ok=false on back-pressure, in which case the caller
	// should retry the same data and pos next poll.
	Offer(data []byte, pos wire.Position) (ok bool)
	// SessionID identifies this publication's emitting peer.
	SessionID() wire.SessionID
	// Close releases the publication's transport resources.
	Close() error
}

// Subscription is a non-blocking, multiplexed input stream.
type Subscription interface {
	// Poll delivers up to fragmentLimit fragments to handler, returning
	// the number actually delivered.
	Poll(handler FragmentHandler, fragmentLimit int) int
	// Close releases the subscription's transport resources.
	Close() error
}
