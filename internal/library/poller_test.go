package library

import (
	"io"
	"net"
	"testing"
	"time"

	"fixgate/internal/logging"
	"fixgate/internal/protocol"
)

// pipeDialer hands out net.Pipe connections, invoking a per-channel
// handler on the server side so tests can script engine behavior
// without a real socket.
type pipeDialer struct {
	handlers map[string]func(net.Conn)
}

func (d pipeDialer) Dial(channel string) (io.ReadWriteCloser, error) {
	client, server := net.Pipe()
	h, ok := d.handlers[channel]
	if !ok {
		h = func(c net.Conn) { io.Copy(io.Discard, c) }
	}
	go h(server)
	return client, nil
}

func readLibraryConnect(t *testing.T, conn net.Conn) protocol.LibraryConnect {
	t.Helper()
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("server failed to read LibraryConnect: %v", err)
	}
	if msg.Header.Type != protocol.MsgLibraryConnect {
		t.Fatalf("expected LibraryConnect, got type 0x%02x", msg.Header.Type)
	}
	lc, err := protocol.DecodeLibraryConnect(msg.Payload)
	if err != nil {
		t.Fatalf("failed to decode LibraryConnect: %v", err)
	}
	return lc
}

func TestPollerConnectsAndReceivesInitiateConnection(t *testing.T) {
	dialer := pipeDialer{handlers: map[string]func(net.Conn){
		"engine-a": func(conn net.Conn) {
			lc := readLibraryConnect(t, conn)
			reply := protocol.InitiateConnection{CorrelationID: lc.CorrelationID, IsLeader: true}
			protocol.WriteMessage(conn, protocol.MsgInitiateConnection, reply.Encode())
			io.Copy(io.Discard, conn)
		},
	}}

	cfg := DefaultConfig()
	cfg.Channels = []string{"engine-a"}
	cfg.LibraryID = 1
	p := NewPoller(cfg, dialer, logging.Default("lib"))

	now := time.Now()
	p.Poll(now) // dials and sends LibraryConnect

	deadline := now.Add(time.Second)
	for !p.IsConnected() && now.Before(deadline) {
		now = now.Add(10 * time.Millisecond)
		time.Sleep(time.Millisecond)
		p.Poll(now)
	}

	if !p.IsConnected() {
		t.Fatal("expected poller to become connected")
	}
	if !p.IsLeader() {
		t.Fatal("expected poller to observe IsLeader=true")
	}
	p.Close()
}

func TestPollerRotatesAfterReconnectAttemptsExhausted(t *testing.T) {
	dialer := pipeDialer{handlers: map[string]func(net.Conn){
		"engine-a": func(conn net.Conn) {
			readLibraryConnect(t, conn) // never replies
			io.Copy(io.Discard, conn)
		},
		"engine-b": func(conn net.Conn) {
			lc := readLibraryConnect(t, conn)
			reply := protocol.InitiateConnection{CorrelationID: lc.CorrelationID, IsLeader: true}
			protocol.WriteMessage(conn, protocol.MsgInitiateConnection, reply.Encode())
			io.Copy(io.Discard, conn)
		},
	}}

	cfg := DefaultConfig()
	cfg.Channels = []string{"engine-a", "engine-b"}
	cfg.LibraryID = 2
	cfg.ReplyTimeout = 50 * time.Millisecond
	cfg.ReconnectAttempts = 1
	p := NewPoller(cfg, dialer, logging.Default("lib"))

	now := time.Now()
	p.Poll(now)
	if p.CurrentChannel() != "engine-a" {
		t.Fatalf("expected to start on engine-a, got %s", p.CurrentChannel())
	}

	// let the reader goroutine actually observe the pipe before we
	// advance time past the reply deadline.
	time.Sleep(10 * time.Millisecond)
	now = now.Add(cfg.ReplyTimeout + 10*time.Millisecond)
	p.Poll(now) // timeout fires, rotates to engine-b

	if p.CurrentChannel() != "engine-b" {
		t.Fatalf("expected rotation to engine-b, got %s", p.CurrentChannel())
	}
	p.Close()
}

func TestPollerNotLeaderRedirectsImmediately(t *testing.T) {
	dialer := pipeDialer{handlers: map[string]func(net.Conn){
		"engine-a": func(conn net.Conn) {
			lc := readLibraryConnect(t, conn)
			reply := protocol.InitiateConnection{CorrelationID: lc.CorrelationID, IsLeader: false, LeaderChannel: "engine-c"}
			protocol.WriteMessage(conn, protocol.MsgInitiateConnection, reply.Encode())
			io.Copy(io.Discard, conn)
		},
		"engine-c": func(conn net.Conn) {
			readLibraryConnect(t, conn)
			io.Copy(io.Discard, conn)
		},
	}}

	cfg := DefaultConfig()
	cfg.Channels = []string{"engine-a"}
	cfg.LibraryID = 3
	p := NewPoller(cfg, dialer, logging.Default("lib"))

	now := time.Now()
	p.Poll(now)

	deadline := now.Add(time.Second)
	for p.CurrentChannel() != "engine-c" && now.Before(deadline) {
		now = now.Add(10 * time.Millisecond)
		time.Sleep(time.Millisecond)
		p.Poll(now)
	}

	if p.CurrentChannel() != "engine-c" {
		t.Fatalf("expected redirect to engine-c, got %s", p.CurrentChannel())
	}
	p.Close()
}

func TestRequestSessionRoundTrip(t *testing.T) {
	dialer := pipeDialer{handlers: map[string]func(net.Conn){
		"engine-a": func(conn net.Conn) {
			lc := readLibraryConnect(t, conn)
			reply := protocol.InitiateConnection{CorrelationID: lc.CorrelationID, IsLeader: true}
			protocol.WriteMessage(conn, protocol.MsgInitiateConnection, reply.Encode())

			msg, err := protocol.ReadMessage(conn)
			if err != nil {
				return
			}
			if msg.Header.Type != protocol.MsgRequestSession {
				t.Errorf("expected RequestSession, got 0x%02x", msg.Header.Type)
				return
			}
			rs, err := protocol.DecodeRequestSession(msg.Payload)
			if err != nil {
				t.Errorf("decode RequestSession: %v", err)
				return
			}
			rsReply := protocol.RequestSessionReply{CorrelationID: rs.CorrelationID, Status: protocol.StatusOK, SessionID: rs.SessionID}
			protocol.WriteMessage(conn, protocol.MsgRequestSessionReply, rsReply.Encode())
			io.Copy(io.Discard, conn)
		},
	}}

	cfg := DefaultConfig()
	cfg.Channels = []string{"engine-a"}
	cfg.LibraryID = 4
	p := NewPoller(cfg, dialer, logging.Default("lib"))

	now := time.Now()
	p.Poll(now)
	deadline := now.Add(time.Second)
	for !p.IsConnected() && now.Before(deadline) {
		now = now.Add(10 * time.Millisecond)
		time.Sleep(time.Millisecond)
		p.Poll(now)
	}
	if !p.IsConnected() {
		t.Fatal("expected poller to connect before requesting a session")
	}

	resultCh, err := p.RequestSession(11, 0, now)
	if err != nil {
		t.Fatalf("RequestSession failed: %v", err)
	}

	var reply Reply
	gotReply := false
	for i := 0; i < 100 && !gotReply; i++ {
		now = now.Add(10 * time.Millisecond)
		time.Sleep(time.Millisecond)
		p.Poll(now)
		select {
		case reply = <-resultCh:
			gotReply = true
		default:
		}
	}
	if !gotReply {
		t.Fatal("timed out waiting for RequestSessionReply")
	}
	if reply.Err != nil {
		t.Fatalf("unexpected error in reply: %v", reply.Err)
	}
	rsReply, ok := reply.Msg.(protocol.RequestSessionReply)
	if !ok {
		t.Fatalf("expected RequestSessionReply, got %T", reply.Msg)
	}
	if rsReply.Status != protocol.StatusOK || rsReply.SessionID != 11 {
		t.Fatalf("unexpected reply contents: %+v", rsReply)
	}
	p.Close()
}

// A RequestSession answered with a NotLeader frame must fail the
// pending reply and move the poller to the named channel.
func TestRequestSessionNotLeaderFrameRedirects(t *testing.T) {
	dialer := pipeDialer{handlers: map[string]func(net.Conn){
		"engine-a": func(conn net.Conn) {
			lc := readLibraryConnect(t, conn)
			reply := protocol.InitiateConnection{CorrelationID: lc.CorrelationID, IsLeader: true}
			protocol.WriteMessage(conn, protocol.MsgInitiateConnection, reply.Encode())

			msg, err := protocol.ReadMessage(conn)
			if err != nil || msg.Header.Type != protocol.MsgRequestSession {
				return
			}
			rs, err := protocol.DecodeRequestSession(msg.Payload)
			if err != nil {
				return
			}
			redirect := protocol.NotLeader{CorrelationID: rs.CorrelationID, RedirectChannel: "engine-b"}
			protocol.WriteMessage(conn, protocol.MsgNotLeader, redirect.Encode())
			io.Copy(io.Discard, conn)
		},
		"engine-b": func(conn net.Conn) {
			readLibraryConnect(t, conn)
			io.Copy(io.Discard, conn)
		},
	}}

	cfg := DefaultConfig()
	cfg.Channels = []string{"engine-a"}
	cfg.LibraryID = 5
	p := NewPoller(cfg, dialer, logging.Default("lib"))

	now := time.Now()
	p.Poll(now)
	deadline := now.Add(time.Second)
	for !p.IsConnected() && now.Before(deadline) {
		now = now.Add(10 * time.Millisecond)
		time.Sleep(time.Millisecond)
		p.Poll(now)
	}
	if !p.IsConnected() {
		t.Fatal("expected poller to connect before requesting a session")
	}

	resultCh, err := p.RequestSession(7, 0, now)
	if err != nil {
		t.Fatalf("RequestSession failed: %v", err)
	}

	var reply Reply
	gotReply := false
	for i := 0; i < 100 && !gotReply; i++ {
		now = now.Add(10 * time.Millisecond)
		time.Sleep(time.Millisecond)
		p.Poll(now)
		select {
		case reply = <-resultCh:
			gotReply = true
		default:
		}
	}
	if !gotReply {
		t.Fatal("timed out waiting for NotLeader reply")
	}
	if reply.Err == nil {
		t.Fatal("expected NotLeader to surface as an error on the pending reply")
	}
	if _, ok := reply.Msg.(protocol.NotLeader); !ok {
		t.Fatalf("expected NotLeader payload, got %T", reply.Msg)
	}
	if p.CurrentChannel() != "engine-b" {
		t.Fatalf("expected redirect to engine-b, got %s", p.CurrentChannel())
	}
	p.Close()
}
