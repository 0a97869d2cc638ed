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

package transport

import (
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"

	"fixgate/internal/logging"
	"fixgate/internal/wire"
)

// datagramLimit is the largest single frame this transport will send or
// receive; large enough for a batch of FIX fragments plus header.
const datagramLimit = 64 * 1024

// MaxFragmentBytes is the largest payload one Offer can carry, and
// therefore the furthest a leader's heartbeat position can legitimately
// run ahead of a follower between deliveries.
const MaxFragmentBytes wire.Position = datagramLimit - positionHeaderSize

// positionHeaderSize is the width of the absolute Position prefix every
// datagram carries ahead of its payload, mirroring the length+position
// record header internal/archive writes to disk. Offer's caller supplies
// this position; the transport only carries it, never invents it.
const positionHeaderSize = 8

// inbox is the bounded queue a UDP receiver loop fans fragments into.
// When full, incoming datagrams are dropped (the sender's reliable
// multicast/retransmit layer, out of scope here, is assumed to cover
// loss recovery).
type inbox struct {
	ch chan fragment
}

type fragment struct {
	data    []byte
	pos     wire.Position
	session wire.SessionID
}

func newInbox(depth int) *inbox { return &inbox{ch: make(chan fragment, depth)} }

func (b *inbox) push(f fragment) bool {
	select {
	case b.ch <- f:
		return true
	default:
		return false
	}
}

// UDPSubscription drains an inbox fed by a background receive loop.
type UDPSubscription struct {
	in     *inbox
	closed int32
}

func (s *UDPSubscription) Poll(handler FragmentHandler, fragmentLimit int) int {
	n := 0
	for n < fragmentLimit {
		select {
		case f := <-s.in.ch:
			handler(f.data, f.pos, f.session)
			n++
		default:
			return n
		}
	}
	return n
}

func (s *UDPSubscription) Close() error {
	atomic.StoreInt32(&s.closed, 1)
	return nil
}

// UDPPublication offers datagrams to one or more peer addresses
// (broadcast fan-out for control frames, unicast for data).
type UDPPublication struct {
	conn      net.PacketConn
	targets   []net.Addr
	sessionID wire.SessionID
	log       *logging.Logger
}

// Offer prefixes data with pos (its absolute end position, supplied by
// the caller) and writes the frame to every configured target. It never
// blocks past the OS socket buffer; a write error on every target is
// reported as back-pressure so the caller retries next poll with the
// same data and pos.
func (p *UDPPublication) Offer(data []byte, pos wire.Position) bool {
	if len(data) > datagramLimit-positionHeaderSize {
		return false
	}
	frame := make([]byte, positionHeaderSize+len(data))
	binary.LittleEndian.PutUint64(frame[:positionHeaderSize], uint64(pos))
	copy(frame[positionHeaderSize:], data)

	sentAny := false
	for _, addr := range p.targets {
		if _, err := p.conn.WriteTo(frame, addr); err != nil {
			p.log.Warn("udp publication write failed", logging.Fields{"target": addr.String(), "error": err.Error()})
			continue
		}
		sentAny = true
	}
	return sentAny
}

func (p *UDPPublication) SessionID() wire.SessionID { return p.sessionID }

func (p *UDPPublication) Close() error { return nil }

// UDPTransport owns the shared socket and fans inbound datagrams into
// whichever subscriptions are currently open. It implements
// consensus.SubscriptionFactory (OpenControl/OpenData), re-using the
// same socket for both logical streams distinguished by a 1-byte stream
// tag prefix, matching how the control and data publications share one
// broadcast channel in practice.
type UDPTransport struct {
	conn net.PacketConn
	log  *logging.Logger

	mu         sync.Mutex
	controlBox *inbox
	dataBox    *inbox

	sessionsMu sync.RWMutex
	sessions   map[string]wire.SessionID
	nextSess   int32
}

const (
	streamControl byte = 0
	streamData    byte = 1
)

// NewUDPTransport binds a UDP socket at laddr and starts the receive
// loop. Peers are addressed by host:port strings resolved lazily.
func NewUDPTransport(laddr string, log *logging.Logger) (*UDPTransport, error) {
	conn, err := net.ListenPacket("udp", laddr)
	if err != nil {
		return nil, err
	}
	t := &UDPTransport{
		conn:       conn,
		log:        log,
		controlBox: newInbox(1024),
		dataBox:    newInbox(1024),
		sessions:   make(map[string]wire.SessionID),
	}
	go t.receiveLoop()
	return t, nil
}

func (t *UDPTransport) receiveLoop() {
	buf := make([]byte, datagramLimit)
	for {
		n, addr, err := t.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		// 1-byte stream tag + 8-byte absolute position header.
		if n < 1+positionHeaderSize {
			continue
		}
		session := t.sessionFor(addr)
		pos := wire.Position(binary.LittleEndian.Uint64(buf[1 : 1+positionHeaderSize]))
		payload := append([]byte(nil), buf[1+positionHeaderSize:n]...)
		f := fragment{data: payload, pos: pos, session: session}

		t.mu.Lock()
		box := t.controlBox
		if buf[0] == streamData {
			box = t.dataBox
		}
		t.mu.Unlock()
		box.push(f)
	}
}

func (t *UDPTransport) sessionFor(addr net.Addr) wire.SessionID {
	key := addr.String()
	t.sessionsMu.RLock()
	id, ok := t.sessions[key]
	t.sessionsMu.RUnlock()
	if ok {
		return id
	}
	t.sessionsMu.Lock()
	defer t.sessionsMu.Unlock()
	if id, ok := t.sessions[key]; ok {
		return id
	}
	t.nextSess++
	id = wire.SessionID(t.nextSess)
	t.sessions[key] = id
	return id
}

// OpenControl returns a fresh view over the control inbox. Subscriptions
// are logically independent even though they share the physical socket,
// matching the "close departing, open arriving" role transition
// discipline without tearing down the socket itself.
func (t *UDPTransport) OpenControl() Subscription {
	t.mu.Lock()
	t.controlBox = newInbox(1024)
	box := t.controlBox
	t.mu.Unlock()
	return &UDPSubscription{in: box}
}

func (t *UDPTransport) OpenData() Subscription {
	t.mu.Lock()
	t.dataBox = newInbox(1024)
	box := t.dataBox
	t.mu.Unlock()
	return &UDPSubscription{in: box}
}

// ControlPublication returns a Publication that broadcasts the control
// stream tag to every peer address in peers ("host:port" strings).
func (t *UDPTransport) ControlPublication(selfSession wire.SessionID, peers []string) (*UDPPublication, error) {
	return t.publicationFor(streamControl, selfSession, peers)
}

// DataPublication returns a Publication that broadcasts the data stream
// tag to every peer address in peers.
func (t *UDPTransport) DataPublication(selfSession wire.SessionID, peers []string) (*UDPPublication, error) {
	return t.publicationFor(streamData, selfSession, peers)
}

func (t *UDPTransport) publicationFor(tag byte, session wire.SessionID, peers []string) (*UDPPublication, error) {
	targets := make([]net.Addr, 0, len(peers))
	for _, p := range peers {
		addr, err := net.ResolveUDPAddr("udp", p)
		if err != nil {
			return nil, err
		}
		targets = append(targets, addr)
	}
	return &UDPPublication{
		conn:      &taggedConn{PacketConn: t.conn, tag: tag},
		targets:   targets,
		sessionID: session,
		log:       t.log,
	}, nil
}

// Close releases the underlying socket.
func (t *UDPTransport) Close() error { return t.conn.Close() }

// taggedConn prefixes every WriteTo with a 1-byte stream tag so the
// receive loop can route control vs. data frames without a second
// socket.
type taggedConn struct {
	net.PacketConn
	tag byte
}

func (c *taggedConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	buf := make([]byte, 0, len(b)+1)
	buf = append(buf, c.tag)
	buf = append(buf, b...)
	n, err := c.PacketConn.WriteTo(buf, addr)
	if n > 0 {
		n--
	}
	return n, err
}
