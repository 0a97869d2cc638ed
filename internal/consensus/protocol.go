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
	"encoding/binary"
	"fmt"

	fixerrors "fixgate/internal/errors"
)

// Control frame type tags, shared across the cluster on the control
// stream. The header is always type:u8, version:u8, reserved:u16
// followed by the type's little-endian fields.
const (
	MsgRequestVote      byte = 0x01
	MsgReplyVote        byte = 0x02
	MsgConsensusHeartbt byte = 0x03
	MsgAck              byte = 0x04
	MsgResend           byte = 0x05
)

// ProtocolVersion is the only version this frame format supports.
const ProtocolVersion byte = 1

// HeaderSize is the fixed 4-byte header every control frame carries.
const HeaderSize = 4

// ControlMessage is the tagged union of the five control frames. Every
// variant carries term so stale messages can be filtered uniformly.
type ControlMessage interface {
	GetTerm() Term
	frameType() byte
	encodedLen() int
	encodeBody(buf []byte)
}

// RequestVote is sent by a Candidate soliciting votes.
type RequestVote struct {
	Term         Term
	CandidateID  NodeID
	LastPosition Position
}

func (m RequestVote) GetTerm() Term    { return m.Term }
func (m RequestVote) frameType() byte  { return MsgRequestVote }
func (m RequestVote) encodedLen() int  { return HeaderSize + 4 + 2 + 8 }
func (m RequestVote) encodeBody(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(m.Term))
	binary.LittleEndian.PutUint16(b[4:6], uint16(m.CandidateID))
	binary.LittleEndian.PutUint64(b[6:14], uint64(m.LastPosition))
}

// ReplyVote answers a RequestVote.
type ReplyVote struct {
	Term        Term
	CandidateID NodeID
	VoterID     NodeID
	Granted     bool
}

func (m ReplyVote) GetTerm() Term   { return m.Term }
func (m ReplyVote) frameType() byte { return MsgReplyVote }
func (m ReplyVote) encodedLen() int { return HeaderSize + 4 + 2 + 2 + 1 }
func (m ReplyVote) encodeBody(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(m.Term))
	binary.LittleEndian.PutUint16(b[4:6], uint16(m.CandidateID))
	binary.LittleEndian.PutUint16(b[6:8], uint16(m.VoterID))
	if m.Granted {
		b[8] = 1
	} else {
		b[8] = 0
	}
}

// ConsensusHeartbeat is sent periodically by the Leader asserting
// liveness at a given position.
type ConsensusHeartbeat struct {
	Term      Term
	LeaderID  NodeID
	SessionID SessionID
	Position  Position
}

func (m ConsensusHeartbeat) GetTerm() Term   { return m.Term }
func (m ConsensusHeartbeat) frameType() byte { return MsgConsensusHeartbt }
func (m ConsensusHeartbeat) encodedLen() int { return HeaderSize + 4 + 2 + 4 + 8 }
func (m ConsensusHeartbeat) encodeBody(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(m.Term))
	binary.LittleEndian.PutUint16(b[4:6], uint16(m.LeaderID))
	binary.LittleEndian.PutUint32(b[6:10], uint32(m.SessionID))
	binary.LittleEndian.PutUint64(b[10:18], uint64(m.Position))
}

// MessageAcknowledgement is sent by a Follower acking a received position.
type MessageAcknowledgement struct {
	Term       Term
	FollowerID NodeID
	Position   Position
}

func (m MessageAcknowledgement) GetTerm() Term   { return m.Term }
func (m MessageAcknowledgement) frameType() byte { return MsgAck }
func (m MessageAcknowledgement) encodedLen() int { return HeaderSize + 4 + 2 + 8 }
func (m MessageAcknowledgement) encodeBody(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(m.Term))
	binary.LittleEndian.PutUint16(b[4:6], uint16(m.FollowerID))
	binary.LittleEndian.PutUint64(b[6:14], uint64(m.Position))
}

// Resend is sent by a Follower to the Leader, asking it to re-deliver a
// range of the log the follower appears to have missed.
type Resend struct {
	Term          Term
	LeaderID      NodeID
	StartPosition Position
	Length        int32
}

func (m Resend) GetTerm() Term   { return m.Term }
func (m Resend) frameType() byte { return MsgResend }
func (m Resend) encodedLen() int { return HeaderSize + 4 + 2 + 8 + 4 }
func (m Resend) encodeBody(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(m.Term))
	binary.LittleEndian.PutUint16(b[4:6], uint16(m.LeaderID))
	binary.LittleEndian.PutUint64(b[6:14], uint64(m.StartPosition))
	binary.LittleEndian.PutUint32(b[14:18], uint32(m.Length))
}

// Encode writes msg's wire frame into dst, which must be at least
// EncodedLen(msg) bytes, and returns the number of bytes written.
func Encode(dst []byte, msg ControlMessage) (int, error) {
	n := msg.encodedLen()
	if len(dst) < n {
		return 0, fixerrors.Malformed("protocol", fmt.Sprintf("buffer too small: need %d have %d", n, len(dst)))
	}
	dst[0] = msg.frameType()
	dst[1] = ProtocolVersion
	dst[2] = 0
	dst[3] = 0
	msg.encodeBody(dst[HeaderSize:n])
	return n, nil
}

// Decode parses a wire frame, validating the type tag and declared
// length. A bad tag, version, or truncated frame yields a KindMalformed
// error — never fatal to the calling role.
func Decode(buf []byte) (ControlMessage, error) {
	if len(buf) < HeaderSize {
		return nil, fixerrors.Malformed("protocol", "frame shorter than header")
	}
	typ := buf[0]
	version := buf[1]
	if version != ProtocolVersion {
		return nil, fixerrors.Malformed("protocol", fmt.Sprintf("unsupported version %d", version))
	}
	body := buf[HeaderSize:]

	switch typ {
	case MsgRequestVote:
		if len(body) < 14 {
			return nil, fixerrors.Malformed("protocol", "RequestVote frame truncated")
		}
		return RequestVote{
			Term:         Term(binary.LittleEndian.Uint32(body[0:4])),
			CandidateID:  NodeID(binary.LittleEndian.Uint16(body[4:6])),
			LastPosition: Position(binary.LittleEndian.Uint64(body[6:14])),
		}, nil
	case MsgReplyVote:
		if len(body) < 9 {
			return nil, fixerrors.Malformed("protocol", "ReplyVote frame truncated")
		}
		return ReplyVote{
			Term:        Term(binary.LittleEndian.Uint32(body[0:4])),
			CandidateID: NodeID(binary.LittleEndian.Uint16(body[4:6])),
			VoterID:     NodeID(binary.LittleEndian.Uint16(body[6:8])),
			Granted:     body[8] != 0,
		}, nil
	case MsgConsensusHeartbt:
		if len(body) < 18 {
			return nil, fixerrors.Malformed("protocol", "Heartbeat frame truncated")
		}
		return ConsensusHeartbeat{
			Term:      Term(binary.LittleEndian.Uint32(body[0:4])),
			LeaderID:  NodeID(binary.LittleEndian.Uint16(body[4:6])),
			SessionID: SessionID(binary.LittleEndian.Uint32(body[6:10])),
			Position:  Position(binary.LittleEndian.Uint64(body[10:18])),
		}, nil
	case MsgAck:
		if len(body) < 14 {
			return nil, fixerrors.Malformed("protocol", "Ack frame truncated")
		}
		return MessageAcknowledgement{
			Term:       Term(binary.LittleEndian.Uint32(body[0:4])),
			FollowerID: NodeID(binary.LittleEndian.Uint16(body[4:6])),
			Position:   Position(binary.LittleEndian.Uint64(body[6:14])),
		}, nil
	case MsgResend:
		if len(body) < 18 {
			return nil, fixerrors.Malformed("protocol", "Resend frame truncated")
		}
		return Resend{
			Term:          Term(binary.LittleEndian.Uint32(body[0:4])),
			LeaderID:      NodeID(binary.LittleEndian.Uint16(body[4:6])),
			StartPosition: Position(binary.LittleEndian.Uint64(body[6:14])),
			Length:        int32(binary.LittleEndian.Uint32(body[14:18])),
		}, nil
	default:
		return nil, fixerrors.Malformed("protocol", fmt.Sprintf("unknown frame type 0x%02x", typ))
	}
}

// EncodedLen returns the number of bytes Encode will write for msg.
func EncodedLen(msg ControlMessage) int { return msg.encodedLen() }
