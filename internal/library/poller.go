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
Package library implements the library side of the library-engine
reconnection protocol: a client that holds an ordered list of engine
channels, keeps exactly one connection open to whichever it believes
is leader, and fails over to the next channel when that engine stops
answering.

This is the client counterpart to the RPC messages defined in
internal/protocol. A library process embeds a Poller and drives it
from its own single-threaded event loop via Poll, the same
never-block-the-caller discipline internal/transport's Subscription.Poll
and internal/consensus's roles follow: Poll never blocks on the
network, draining whatever has arrived and returning immediately.

Failover Algorithm:
====================

  - channels is a fixed, ordered list (e.g. one per engine node);
    current_channel indexes the one currently in use.
  - On construction, and whenever the current connection is judged
    dead, Poller dials current_channel and sends LibraryConnect.
  - While no connection is open, Poll dials at replyTimeout/4 cadence
    rather than waiting the full timeout, so a library notices a
    fast-failing engine quickly. Once a connection is open,
    LibraryConnect is sent once and its reply is awaited for the full
    replyTimeout; it is not re-sent at the shorter cadence.
  - Every outbound request is stamped with a correlation_id (monotonic,
    seeded from a random nonzero per-library start so ids from a
    restarted library don't collide with a peer's in-flight ones) and
    tracked in pending with a deadline of now+replyTimeout.
  - A pending request whose deadline elapses without a reply counts as
    a failure against the current channel. After reconnectAttempts
    consecutive failures, Poller rotates to the next channel in the
    list and reconnects.
  - A NotLeader reply redirects immediately: if it names a channel,
    Poller switches straight to it (no rotation, no waiting out
    reconnectAttempts); if empty, Poller rotates as if the channel had
    failed.
*/
package library

import (
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"fixgate/internal/logging"
	"fixgate/internal/protocol"
)

// Dialer opens a fresh connection to an engine channel (typically
// "host:port"). Production code supplies a net.Dial-backed
// implementation; tests supply an in-memory one.
type Dialer interface {
	Dial(channel string) (io.ReadWriteCloser, error)
}

// DialerFunc adapts a plain function to Dialer.
type DialerFunc func(channel string) (io.ReadWriteCloser, error)

func (f DialerFunc) Dial(channel string) (io.ReadWriteCloser, error) { return f(channel) }

// Config controls a Poller's failover behavior.
type Config struct {
	// Channels is the ordered list of engine endpoints to try, e.g.
	// every node's library-facing listen address.
	Channels []string
	// LibraryID identifies this library to whichever engine it connects to.
	LibraryID int32
	// ReplyTimeout bounds how long a request may go unanswered before it
	// counts as a failure against the current channel.
	ReplyTimeout time.Duration
	// ReconnectAttempts is how many consecutive failures on one channel
	// are tolerated before rotating to the next.
	ReconnectAttempts int
	// HeartbeatInterval is how often Poll sends ApplicationHeartbeat
	// while connected.
	HeartbeatInterval time.Duration
}

// DefaultConfig returns sensible defaults for ReplyTimeout/
// ReconnectAttempts/HeartbeatInterval, leaving Channels/LibraryID for
// the caller to fill in.
func DefaultConfig() Config {
	return Config{
		ReplyTimeout:      2 * time.Second,
		ReconnectAttempts: 3,
		HeartbeatInterval: 500 * time.Millisecond,
	}
}

// ReplyKind tags what a caller is waiting for so Poll knows how to
// resolve a pending request once the matching reply arrives.
type ReplyKind int

const (
	ReplyInitiateConnection ReplyKind = iota
	ReplyRequestSession
	ReplyReleaseSession
)

// Reply is the resolved outcome of a pending request, handed back to
// the caller through Pending.Result() once Poll observes it (or through
// Timeout() if it never arrives).
type Reply struct {
	Msg  interface{} // one of protocol.InitiateConnection / RequestSessionReply / ReleaseSessionReply / protocol.NotLeader / protocol.ProtocolError
	Err  error        // non-nil on timeout, ProtocolError or NotLeader
}

type pendingRequest struct {
	kind     ReplyKind
	deadline time.Time
	result   chan Reply
}

// Poller is the library-side client of the reconnection protocol.
// It is not safe for concurrent use from more than one goroutine;
// callers drive it from a single event loop via Poll plus the
// Request* methods.
type Poller struct {
	cfg    Config
	log    *logging.Logger
	dialer Dialer
	rng    *rand.Rand

	mu sync.Mutex // guards pending only; replies are resolved from Poll, the reader goroutine only feeds inbox

	channels   []string
	currentIdx int
	failures   int
	nextCorrID int64
	// nonce identifies this library incarnation across reconnects; an
	// engine seeing a different nonce for the same LibraryID knows the
	// library restarted.
	nonce int64

	conn       io.ReadWriteCloser
	inbox      chan *protocol.Message
	connErr    chan error
	connected  bool
	isLeader   bool
	lastActivity time.Time
	nextConnectAttempt time.Time
	nextHeartbeat      time.Time

	pending map[int64]*pendingRequest
}

// NewPoller constructs a Poller in the disconnected state; the first
// call to Poll begins dialing cfg.Channels[0].
func NewPoller(cfg Config, dialer Dialer, log *logging.Logger) *Poller {
	if len(cfg.Channels) == 0 {
		panic("library: Config.Channels must not be empty")
	}
	seed := int64(cfg.LibraryID)<<32 | time.Now().UnixNano()&0xffffffff
	rng := rand.New(rand.NewSource(seed))
	start := rng.Int63()
	if start == 0 {
		start = 1
	}
	nonce := rng.Int63()
	if nonce == 0 {
		nonce = 1
	}

	return &Poller{
		cfg:        cfg,
		log:        log,
		dialer:     dialer,
		rng:        rng,
		channels:   cfg.Channels,
		nextCorrID: start,
		nonce:      nonce,
		pending:    make(map[int64]*pendingRequest),
	}
}

func (p *Poller) currentChannel() string { return p.channels[p.currentIdx] }

func (p *Poller) allocCorrID() int64 {
	p.nextCorrID++
	if p.nextCorrID == 0 {
		p.nextCorrID = 1
	}
	return p.nextCorrID
}

// IsConnected reports whether Poller currently holds an open
// connection it believes is answering.
func (p *Poller) IsConnected() bool { return p.connected }

// IsLeader reports whether the engine on the other end of the current
// connection identified itself as leader via InitiateConnection.
func (p *Poller) IsLeader() bool { return p.isLeader }

// CurrentChannel returns the channel Poller is connected (or
// attempting to connect) to.
func (p *Poller) CurrentChannel() string { return p.currentChannel() }

// Poll drains any replies that have arrived, resolves or times out
// pending requests, maintains the connect/heartbeat cadence, and never
// blocks on the network.
func (p *Poller) Poll(now time.Time) {
	if p.conn == nil {
		p.maybeConnect(now)
		return
	}

	select {
	case err := <-p.connErr:
		p.log.Warn("library connection lost", logging.Fields{"channel": p.currentChannel(), "error": err.Error()})
		p.teardown()
		p.recordFailure(now)
		return
	default:
	}

drain:
	for {
		select {
		case msg := <-p.inbox:
			p.lastActivity = now
			p.handleMessage(msg, now)
		default:
			break drain
		}
	}

	p.expirePending(now)

	if now.After(p.nextHeartbeat) || now.Equal(p.nextHeartbeat) {
		p.sendHeartbeat()
		p.nextHeartbeat = now.Add(p.cfg.HeartbeatInterval)
	}
}

// maybeConnect dials the current channel if enough time has passed
// since the last attempt (replyTimeout/4 cadence, so a dead engine is
// noticed well before a full ReplyTimeout elapses).
func (p *Poller) maybeConnect(now time.Time) {
	if now.Before(p.nextConnectAttempt) {
		return
	}
	cadence := p.cfg.ReplyTimeout / 4
	if cadence <= 0 {
		cadence = 250 * time.Millisecond
	}
	p.nextConnectAttempt = now.Add(cadence)

	channel := p.currentChannel()
	conn, err := p.dialer.Dial(channel)
	if err != nil {
		p.log.Warn("library dial failed", logging.Fields{"channel": channel, "error": err.Error()})
		p.recordFailure(now)
		return
	}

	p.conn = conn
	p.inbox = make(chan *protocol.Message, 64)
	p.connErr = make(chan error, 1)
	p.connected = false
	p.isLeader = false
	p.lastActivity = now
	p.nextHeartbeat = now.Add(p.cfg.HeartbeatInterval)
	go p.readLoop(conn, p.inbox, p.connErr)

	corrID := p.allocCorrID()
	hello := protocol.LibraryConnect{CorrelationID: corrID, LibraryID: p.cfg.LibraryID, Nonce: p.nonce}
	if err := protocol.WriteMessage(conn, protocol.MsgLibraryConnect, hello.Encode()); err != nil {
		p.log.Warn("library connect send failed", logging.Fields{"channel": channel, "error": err.Error()})
		p.teardown()
		p.recordFailure(now)
		return
	}
	p.registerPending(corrID, ReplyInitiateConnection, now)
}

// readLoop decodes framed messages off conn until it errors, handing
// each decoded message to inbox. It never touches Poller state
// directly, so it needs no locking against Poll.
func (p *Poller) readLoop(conn io.ReadWriteCloser, inbox chan *protocol.Message, errCh chan error) {
	for {
		msg, err := protocol.ReadMessage(conn)
		if err != nil {
			errCh <- err
			return
		}
		inbox <- msg
	}
}

func (p *Poller) teardown() {
	if p.conn != nil {
		p.conn.Close()
	}
	p.conn = nil
	p.inbox = nil
	p.connErr = nil
	p.connected = false
	p.isLeader = false
}

func (p *Poller) recordFailure(now time.Time) {
	p.failures++
	if p.failures >= p.cfg.ReconnectAttempts {
		p.teardown()
		p.rotate()
	}
}

// rotate advances currentIdx to the next channel in the list,
// wrapping around, and resets the failure counter.
func (p *Poller) rotate() {
	p.currentIdx = (p.currentIdx + 1) % len(p.channels)
	p.failures = 0
	p.log.Info("library rotating to next engine channel", logging.Fields{"channel": p.currentChannel()})
}

// switchTo jumps directly to channel (a NotLeader redirect naming a
// specific engine), inserting it as the current channel without
// consuming a rotation slot. If channel is not already in the list it
// is appended so future rotations include it.
func (p *Poller) switchTo(channel string) {
	for i, c := range p.channels {
		if c == channel {
			p.currentIdx = i
			p.failures = 0
			return
		}
	}
	p.channels = append(p.channels, channel)
	p.currentIdx = len(p.channels) - 1
	p.failures = 0
}

func (p *Poller) registerPending(corrID int64, kind ReplyKind, now time.Time) *pendingRequest {
	req := &pendingRequest{kind: kind, deadline: now.Add(p.cfg.ReplyTimeout), result: make(chan Reply, 1)}
	p.mu.Lock()
	p.pending[corrID] = req
	p.mu.Unlock()
	return req
}

func (p *Poller) resolve(corrID int64, reply Reply) {
	p.mu.Lock()
	req, ok := p.pending[corrID]
	if ok {
		delete(p.pending, corrID)
	}
	p.mu.Unlock()
	if ok {
		req.result <- reply
	}
}

// expirePending fails any pending request whose deadline has elapsed,
// counting it as a failure against the current channel.
func (p *Poller) expirePending(now time.Time) {
	var expired []int64
	p.mu.Lock()
	for id, req := range p.pending {
		if now.After(req.deadline) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		req := p.pending[id]
		delete(p.pending, id)
		req.result <- Reply{Err: fmt.Errorf("library: request %d timed out on channel %s", id, p.currentChannel())}
	}
	p.mu.Unlock()

	if len(expired) > 0 {
		p.recordFailure(now)
	}
}

func (p *Poller) sendHeartbeat() {
	if p.conn == nil {
		return
	}
	hb := protocol.ApplicationHeartbeat{LibraryID: p.cfg.LibraryID}
	if err := protocol.WriteMessage(p.conn, protocol.MsgApplicationHeartbeat, hb.Encode()); err != nil {
		p.log.Warn("library heartbeat send failed", logging.Fields{"channel": p.currentChannel(), "error": err.Error()})
	}
}

func (p *Poller) handleMessage(msg *protocol.Message, now time.Time) {
	switch msg.Header.Type {
	case protocol.MsgInitiateConnection:
		reply, err := protocol.DecodeInitiateConnection(msg.Payload)
		if err != nil {
			p.log.Warn("malformed InitiateConnection", logging.Fields{"error": err.Error()})
			return
		}
		p.connected = true
		p.isLeader = reply.IsLeader
		p.failures = 0
		if !reply.IsLeader {
			p.resolve(reply.CorrelationID, Reply{Msg: reply})
			if reply.LeaderChannel != "" {
				p.switchTo(reply.LeaderChannel)
			} else {
				p.rotate()
			}
			p.teardown()
			return
		}
		p.resolve(reply.CorrelationID, Reply{Msg: reply})

	case protocol.MsgRequestSessionReply:
		reply, err := protocol.DecodeRequestSessionReply(msg.Payload)
		if err != nil {
			p.log.Warn("malformed RequestSessionReply", logging.Fields{"error": err.Error()})
			return
		}
		p.resolve(reply.CorrelationID, Reply{Msg: reply})

	case protocol.MsgReleaseSessionReply:
		reply, err := protocol.DecodeReleaseSessionReply(msg.Payload)
		if err != nil {
			p.log.Warn("malformed ReleaseSessionReply", logging.Fields{"error": err.Error()})
			return
		}
		p.resolve(reply.CorrelationID, Reply{Msg: reply})

	case protocol.MsgManageConnection:
		reply, err := protocol.DecodeManageConnection(msg.Payload)
		if err != nil {
			p.log.Warn("malformed ManageConnection", logging.Fields{"error": err.Error()})
			return
		}
		p.resolve(reply.CorrelationID, Reply{Msg: reply})

	case protocol.MsgProtocolError:
		perr, err := protocol.DecodeProtocolError(msg.Payload)
		if err != nil {
			p.log.Warn("malformed ProtocolError", logging.Fields{"error": err.Error()})
			return
		}
		p.resolve(perr.CorrelationID, Reply{Msg: perr, Err: fmt.Errorf("engine error %d: %s", perr.Code, perr.Detail)})

	case protocol.MsgNotLeader:
		redirect, err := protocol.DecodeNotLeader(msg.Payload)
		if err != nil {
			p.log.Warn("malformed NotLeader", logging.Fields{"error": err.Error()})
			return
		}
		p.resolve(redirect.CorrelationID, Reply{Msg: redirect, Err: fmt.Errorf("not leader")})
		if redirect.RedirectChannel != "" {
			p.switchTo(redirect.RedirectChannel)
		} else {
			p.rotate()
		}
		p.teardown()

	case protocol.MsgCatchup, protocol.MsgDisconnect:
		// Unsolicited notifications; callers observing application-level
		// state (catchup ranges, session teardown) read these off a
		// higher-level session handler, not through pending correlation.

	default:
		p.log.Warn("unexpected message type from engine", logging.Fields{"type": fmt.Sprintf("0x%02x", byte(msg.Header.Type))})
	}
}

// RequestSession asks the current (believed-leader) engine to take
// ownership of sessionID, returning a channel the caller can receive
// on for the reply (or a timeout/NotLeader error).
func (p *Poller) RequestSession(sessionID int32, lastReceivedSeqNum int64, now time.Time) (<-chan Reply, error) {
	if p.conn == nil {
		return nil, fmt.Errorf("library: not connected")
	}
	corrID := p.allocCorrID()
	req := protocol.RequestSession{
		CorrelationID:      corrID,
		LibraryID:          p.cfg.LibraryID,
		SessionID:          sessionID,
		LastReceivedSeqNum: lastReceivedSeqNum,
	}
	if err := protocol.WriteMessage(p.conn, protocol.MsgRequestSession, req.Encode()); err != nil {
		return nil, err
	}
	pr := p.registerPending(corrID, ReplyRequestSession, now)
	return pr.result, nil
}

// ReleaseSession gives up ownership of a session previously acquired
// via RequestSession.
func (p *Poller) ReleaseSession(sessionID int32, now time.Time) (<-chan Reply, error) {
	if p.conn == nil {
		return nil, fmt.Errorf("library: not connected")
	}
	corrID := p.allocCorrID()
	req := protocol.ReleaseSession{CorrelationID: corrID, LibraryID: p.cfg.LibraryID, SessionID: sessionID}
	if err := protocol.WriteMessage(p.conn, protocol.MsgReleaseSession, req.Encode()); err != nil {
		return nil, err
	}
	pr := p.registerPending(corrID, ReplyReleaseSession, now)
	return pr.result, nil
}

// Close tears down any open connection.
func (p *Poller) Close() error {
	p.teardown()
	return nil
}
