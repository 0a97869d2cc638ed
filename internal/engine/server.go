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

// Package engine implements the engine side of the Library<->Engine RPC
// protocol: the TCP listener a library's poller dials, session ownership
// tracking, and leader redirection. It sits in front of a
// consensus.ClusterAgent, translating connection-level requests
// (LibraryConnect, RequestSession, ReleaseSession) into registry state
// changes and audit events, without touching the replicated stream itself.
package engine

import (
	"net"
	"strconv"
	"sync"

	"fixgate/internal/audit"
	"fixgate/internal/consensus"
	"fixgate/internal/logging"
	"fixgate/internal/protocol"
)

// SessionRegistry tracks which library currently owns each FIX session on
// this engine. A session with no owner is free; RequestSession fails with
// StatusSessionOwned if another library already holds it.
type SessionRegistry struct {
	mu     sync.Mutex
	owners map[int32]int32 // sessionID -> libraryID
}

// NewSessionRegistry returns an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{owners: make(map[int32]int32)}
}

// Request claims sessionID for libraryID, succeeding if the session is
// unowned or already owned by the same library (idempotent reconnect).
func (r *SessionRegistry) Request(libraryID, sessionID int32) protocol.SessionReplyStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.owners[sessionID]; ok && owner != libraryID {
		return protocol.StatusSessionOwned
	}
	r.owners[sessionID] = libraryID
	return protocol.StatusOK
}

// Release relinquishes sessionID if libraryID currently owns it.
func (r *SessionRegistry) Release(libraryID, sessionID int32) protocol.SessionReplyStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[sessionID]
	if !ok {
		return protocol.StatusUnknownSession
	}
	if owner != libraryID {
		return protocol.StatusSessionOwned
	}
	delete(r.owners, sessionID)
	return protocol.StatusOK
}

// Server accepts library connections on a TCP listener and answers the
// control half of the Library<->Engine RPC protocol. The replicated FIX
// byte stream itself travels over the data channel the cluster agent's
// transport already owns; Server only arbitrates session ownership and
// leader redirection.
type Server struct {
	log      *logging.Logger
	agent    *consensus.ClusterAgent
	registry *SessionRegistry
	auditMgr *audit.Manager

	// dataChannel is the address handed back in ManageConnection so a
	// library knows where to attach for the replicated byte stream.
	dataChannel string
	// peerChannel resolves another node's library-facing address when
	// this engine is not the leader, keyed by NodeID. A NotLeader reply
	// with an unresolvable peer leaves RedirectChannel empty so the
	// library rotates through its own configured channel list instead.
	peerChannel map[consensus.NodeID]string

	ln net.Listener
}

// NewServer constructs a Server. dataChannel is this engine's own
// library-facing data address; peerChannel maps peer NodeIDs to their
// equivalent address for leader-redirect hints.
func NewServer(agent *consensus.ClusterAgent, registry *SessionRegistry, auditMgr *audit.Manager,
	log *logging.Logger, dataChannel string, peerChannel map[consensus.NodeID]string) *Server {
	return &Server{
		log:         log,
		agent:       agent,
		registry:    registry,
		auditMgr:    auditMgr,
		dataChannel: dataChannel,
		peerChannel: peerChannel,
	}
}

// Serve binds laddr and accepts library connections until Close is called.
// It runs the accept loop in the caller's goroutine; callers typically run
// it in its own goroutine alongside the cluster agent's poll loop.
func (s *Server) Serve(laddr string) error {
	ln, err := net.Listen("tcp", laddr)
	if err != nil {
		return err
	}
	s.ln = ln
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new library connections.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	var libraryID int32
	for {
		msg, err := protocol.ReadMessage(conn)
		if err != nil {
			s.log.Debug("library connection closed", logging.Fields{"error": err.Error()})
			return
		}

		switch msg.Header.Type {
		case protocol.MsgLibraryConnect:
			lc, err := protocol.DecodeLibraryConnect(msg.Payload)
			if err != nil {
				s.log.Warn("malformed LibraryConnect", logging.Fields{"error": err.Error()})
				return
			}
			libraryID = lc.LibraryID
			s.replyConnect(conn, lc)

		case protocol.MsgRequestSession:
			rs, err := protocol.DecodeRequestSession(msg.Payload)
			if err != nil {
				s.log.Warn("malformed RequestSession", logging.Fields{"error": err.Error()})
				return
			}
			s.replyRequestSession(conn, rs)

		case protocol.MsgReleaseSession:
			rel, err := protocol.DecodeReleaseSession(msg.Payload)
			if err != nil {
				s.log.Warn("malformed ReleaseSession", logging.Fields{"error": err.Error()})
				return
			}
			status := s.registry.Release(rel.LibraryID, rel.SessionID)
			reply := protocol.ReleaseSessionReply{CorrelationID: rel.CorrelationID, Status: status}
			protocol.WriteMessage(conn, protocol.MsgReleaseSessionReply, reply.Encode())

		case protocol.MsgApplicationHeartbeat:
			// Liveness only; no reply required.

		default:
			s.log.Warn("unexpected message from library", logging.Fields{"type": msg.Header.Type, "library_id": libraryID})
		}
	}
}

func (s *Server) replyConnect(conn net.Conn, lc protocol.LibraryConnect) {
	isLeader := s.agent.Role() == consensus.RoleLeader
	reply := protocol.InitiateConnection{CorrelationID: lc.CorrelationID, IsLeader: isLeader}
	if !isLeader {
		reply.LeaderChannel = s.resolveLeaderChannel()
	}
	protocol.WriteMessage(conn, protocol.MsgInitiateConnection, reply.Encode())

	if s.auditMgr != nil {
		s.auditMgr.LogEvent(audit.Event{
			EventType: audit.EventTypeLibraryConnect,
			Detail:    lc.LibraryChannel,
			Status:    audit.StatusSuccess,
			Metadata: map[string]string{
				"library_id": strconv.Itoa(int(lc.LibraryID)),
				"nonce":      strconv.FormatInt(lc.Nonce, 10),
				"is_leader":  strconv.FormatBool(isLeader),
			},
		})
	}
}

func (s *Server) replyRequestSession(conn net.Conn, rs protocol.RequestSession) {
	if s.agent.Role() != consensus.RoleLeader {
		redirect := protocol.NotLeader{CorrelationID: rs.CorrelationID, RedirectChannel: s.resolveLeaderChannel()}
		protocol.WriteMessage(conn, protocol.MsgNotLeader, redirect.Encode())
		return
	}

	status := s.registry.Request(rs.LibraryID, rs.SessionID)
	reply := protocol.RequestSessionReply{CorrelationID: rs.CorrelationID, Status: status, SessionID: rs.SessionID}
	protocol.WriteMessage(conn, protocol.MsgRequestSessionReply, reply.Encode())

	if status == protocol.StatusOK {
		manage := protocol.ManageConnection{CorrelationID: rs.CorrelationID, SessionID: rs.SessionID, DataChannel: s.dataChannel}
		protocol.WriteMessage(conn, protocol.MsgManageConnection, manage.Encode())
	}
}

// resolveLeaderChannel looks up the known leader's library-facing address.
// TermState only records the leader's SessionID, not its NodeID, so
// without a session->node directory this can only return the configured
// peer address when exactly one peer is known; otherwise it returns "" and
// lets the library rotate through its own channel list.
func (s *Server) resolveLeaderChannel() string {
	if len(s.peerChannel) == 1 {
		for _, addr := range s.peerChannel {
			return addr
		}
	}
	return ""
}
