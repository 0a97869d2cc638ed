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
Package protocol implements the library-engine wire protocol: the RPC
exchange a library process uses to ask an engine to own its FIX
sessions, and the replies/notifications the engine sends back.

This is distinct from internal/consensus's control protocol, which is
engine-to-engine only. The library never speaks consensus; it speaks
this protocol to whichever engine it believes is leader, over a plain
TCP (or shared-memory, per the underlying transport) connection.

Protocol Overview:
==================

The binary protocol provides framed request/reply and notification
messages between a library and an engine. Every request carries a
correlation_id chosen by the library; every reply echoes it back so a
library juggling more than one outstanding request can match replies
without blocking.

Message Format:
===============

	+--------+--------+--------+--------+--------+--------+...
	| Magic  | Version| MsgType| Flags  |    Length (4B)   | Payload...
	+--------+--------+--------+--------+--------+--------+...

	- Magic (1 byte): Protocol magic number
	- Version (1 byte): Protocol version (currently 0x01)
	- MsgType (1 byte): Message type identifier
	- Flags (1 byte): Reserved, always 0x00
	- Length (4 bytes): Payload length in big-endian
	- Payload: Variable-length message data

Message Types:
==============

	- 0x01: LibraryConnect - a library announces itself to an engine
	- 0x02: InitiateConnection - engine's reply, naming itself leader or not
	- 0x03: RequestSession - library asks to own a FIX session
	- 0x04: RequestSessionReply - engine's reply to RequestSession
	- 0x05: ReleaseSession - library gives up ownership of a session
	- 0x06: ReleaseSessionReply - engine's reply to ReleaseSession
	- 0x07: ManageConnection - engine hands the library a session's connection details
	- 0x08: Logon - library reports a FIX logon it has processed
	- 0x09: Disconnect - either side reports the connection is ending
	- 0x0A: ProtocolError - engine reports a request it could not satisfy
	- 0x0B: ApplicationHeartbeat - library's liveness ping while connected
	- 0x0C: Catchup - engine tells the library a position range it must replay
	- 0x0D: NewSentPosition - library reports how far it has sent on a session
	- 0x0E: NotLeader - engine redirects the library to the channel it believes is leader
*/
package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

// Protocol constants.
const (
	MagicByte       byte = 0xF1
	ProtocolVersion byte = 0x01

	// MaxMessageSize bounds a single payload (1 MB; library/engine
	// messages are small control frames, never FIX application data).
	MaxMessageSize = 1 * 1024 * 1024

	// HeaderSize is the fixed framing header size in bytes.
	HeaderSize = 8
)

// MessageType represents the type of protocol message.
type MessageType byte

// Message type constants, per the RPC exchange above.
const (
	MsgLibraryConnect       MessageType = 0x01
	MsgInitiateConnection   MessageType = 0x02
	MsgRequestSession       MessageType = 0x03
	MsgRequestSessionReply  MessageType = 0x04
	MsgReleaseSession       MessageType = 0x05
	MsgReleaseSessionReply  MessageType = 0x06
	MsgManageConnection     MessageType = 0x07
	MsgLogon                MessageType = 0x08
	MsgDisconnect           MessageType = 0x09
	MsgProtocolError        MessageType = 0x0A
	MsgApplicationHeartbeat MessageType = 0x0B
	MsgCatchup              MessageType = 0x0C
	MsgNewSentPosition      MessageType = 0x0D
	MsgNotLeader            MessageType = 0x0E
)

// MessageFlag represents message flags. Reserved for future use (e.g.
// compression of catchup payloads); no flag is currently defined.
type MessageFlag byte

const FlagNone MessageFlag = 0x00

// Header represents a protocol message header.
type Header struct {
	Magic   byte
	Version byte
	Type    MessageType
	Flags   MessageFlag
	Length  uint32
}

// Message represents a complete protocol message: the header plus its
// still-encoded payload. Callers pick the Decode* function matching
// Header.Type (DecodeLibraryConnect, DecodeNotLeader, ...) to interpret
// Payload.
type Message struct {
	Header  Header
	Payload []byte
}

// Common errors.
var (
	ErrInvalidMagic    = errors.New("invalid protocol magic byte")
	ErrInvalidVersion  = errors.New("unsupported protocol version")
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
	ErrInvalidMessage  = errors.New("invalid message format")
	ErrTruncated       = errors.New("message body truncated")
)

// WriteHeader writes a message header to the writer.
func WriteHeader(w io.Writer, h Header) error {
	buf := make([]byte, HeaderSize)
	buf[0] = h.Magic
	buf[1] = h.Version
	buf[2] = byte(h.Type)
	buf[3] = byte(h.Flags)
	binary.BigEndian.PutUint32(buf[4:], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads a message header from the reader.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, err
	}

	h := Header{
		Magic:   buf[0],
		Version: buf[1],
		Type:    MessageType(buf[2]),
		Flags:   MessageFlag(buf[3]),
		Length:  binary.BigEndian.Uint32(buf[4:]),
	}

	if h.Magic != MagicByte {
		return Header{}, ErrInvalidMagic
	}
	if h.Version != ProtocolVersion {
		return Header{}, ErrInvalidVersion
	}
	if h.Length > MaxMessageSize {
		return Header{}, ErrMessageTooLarge
	}

	return h, nil
}

// WriteMessage writes a complete message to the writer.
func WriteMessage(w io.Writer, msgType MessageType, payload []byte) error {
	h := Header{
		Magic:   MagicByte,
		Version: ProtocolVersion,
		Type:    msgType,
		Flags:   FlagNone,
		Length:  uint32(len(payload)),
	}

	if err := WriteHeader(w, h); err != nil {
		return err
	}

	if len(payload) > 0 {
		_, err := w.Write(payload)
		return err
	}
	return nil
}

// ReadMessage reads a complete message from the reader.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	msg := &Message{Header: h}
	if h.Length > 0 {
		msg.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, msg.Payload); err != nil {
			return nil, err
		}
	}

	return msg, nil
}

// --- payload encoding helpers ---
//
// Every payload is a flat sequence of fixed-width little-endian fields
// followed, where needed, by one or more length-prefixed strings
// (uint16 length + UTF-8 bytes). This mirrors the fixed-header/
// variable-tail shape internal/consensus uses for its control frames.

func putString(buf *[]byte, s string) {
	var lenField [2]byte
	binary.LittleEndian.PutUint16(lenField[:], uint16(len(s)))
	*buf = append(*buf, lenField[:]...)
	*buf = append(*buf, s...)
}

func getString(body []byte) (string, []byte, error) {
	if len(body) < 2 {
		return "", nil, ErrTruncated
	}
	n := int(binary.LittleEndian.Uint16(body[0:2]))
	body = body[2:]
	if len(body) < n {
		return "", nil, ErrTruncated
	}
	return string(body[:n]), body[n:], nil
}

func putUint32(buf *[]byte, v uint32) {
	var f [4]byte
	binary.LittleEndian.PutUint32(f[:], v)
	*buf = append(*buf, f[:]...)
}

func getUint32(body []byte) (uint32, []byte, error) {
	if len(body) < 4 {
		return 0, nil, ErrTruncated
	}
	return binary.LittleEndian.Uint32(body[0:4]), body[4:], nil
}

func putInt64(buf *[]byte, v int64) {
	var f [8]byte
	binary.LittleEndian.PutUint64(f[:], uint64(v))
	*buf = append(*buf, f[:]...)
}

func getInt64(body []byte) (int64, []byte, error) {
	if len(body) < 8 {
		return 0, nil, ErrTruncated
	}
	return int64(binary.LittleEndian.Uint64(body[0:8])), body[8:], nil
}

func putByte(buf *[]byte, v byte) { *buf = append(*buf, v) }

func getByte(body []byte) (byte, []byte, error) {
	if len(body) < 1 {
		return 0, nil, ErrTruncated
	}
	return body[0], body[1:], nil
}

// LibraryConnect is sent by a library on startup (or reconnect) to
// announce itself to the engine it is currently pointed at. Nonce is a
// random nonzero value drawn once per library process: the same nonce
// across connects means a reconnect of a live library, a new nonce
// means the library restarted and its previous session state is gone.
type LibraryConnect struct {
	CorrelationID  int64
	LibraryID      int32
	Nonce          int64
	LibraryChannel string // where the engine should send unsolicited frames
}

func (m LibraryConnect) Encode() []byte {
	buf := make([]byte, 0, 24+len(m.LibraryChannel))
	putInt64(&buf, m.CorrelationID)
	putUint32(&buf, uint32(m.LibraryID))
	putInt64(&buf, m.Nonce)
	putString(&buf, m.LibraryChannel)
	return buf
}

func DecodeLibraryConnect(body []byte) (LibraryConnect, error) {
	var m LibraryConnect
	var err error
	if m.CorrelationID, body, err = getInt64(body); err != nil {
		return m, err
	}
	var lid uint32
	if lid, body, err = getUint32(body); err != nil {
		return m, err
	}
	m.LibraryID = int32(lid)
	if m.Nonce, body, err = getInt64(body); err != nil {
		return m, err
	}
	m.LibraryChannel, _, err = getString(body)
	return m, err
}

// InitiateConnection is the engine's reply to LibraryConnect. IsLeader
// tells the library whether this engine can accept session requests
// right now; if false the library should treat this like NotLeader.
type InitiateConnection struct {
	CorrelationID int64
	IsLeader      bool
	LeaderChannel string // best-known leader channel, may be empty
}

func (m InitiateConnection) Encode() []byte {
	buf := make([]byte, 0, 16+len(m.LeaderChannel))
	putInt64(&buf, m.CorrelationID)
	if m.IsLeader {
		putByte(&buf, 1)
	} else {
		putByte(&buf, 0)
	}
	putString(&buf, m.LeaderChannel)
	return buf
}

func DecodeInitiateConnection(body []byte) (InitiateConnection, error) {
	var m InitiateConnection
	var err error
	var leader byte
	if m.CorrelationID, body, err = getInt64(body); err != nil {
		return m, err
	}
	if leader, body, err = getByte(body); err != nil {
		return m, err
	}
	m.IsLeader = leader != 0
	m.LeaderChannel, _, err = getString(body)
	return m, err
}

// RequestSession asks the engine to take ownership of a FIX session,
// optionally resuming from a sequence number the library has already
// processed (0 if none).
type RequestSession struct {
	CorrelationID         int64
	LibraryID             int32
	SessionID             int32
	LastReceivedSeqNum    int64
}

func (m RequestSession) Encode() []byte {
	buf := make([]byte, 0, 28)
	putInt64(&buf, m.CorrelationID)
	putUint32(&buf, uint32(m.LibraryID))
	putUint32(&buf, uint32(m.SessionID))
	putInt64(&buf, m.LastReceivedSeqNum)
	return buf
}

func DecodeRequestSession(body []byte) (RequestSession, error) {
	var m RequestSession
	var err error
	var lib, sess uint32
	if m.CorrelationID, body, err = getInt64(body); err != nil {
		return m, err
	}
	if lib, body, err = getUint32(body); err != nil {
		return m, err
	}
	m.LibraryID = int32(lib)
	if sess, body, err = getUint32(body); err != nil {
		return m, err
	}
	m.SessionID = int32(sess)
	m.LastReceivedSeqNum, _, err = getInt64(body)
	return m, err
}

// SessionReplyStatus is the outcome code carried by RequestSessionReply
// and ReleaseSessionReply.
type SessionReplyStatus byte

const (
	StatusOK             SessionReplyStatus = 0
	StatusSessionOwned   SessionReplyStatus = 1 // already owned by another library
	StatusUnknownSession SessionReplyStatus = 2
)

// RequestSessionReply answers RequestSession.
type RequestSessionReply struct {
	CorrelationID int64
	Status        SessionReplyStatus
	SessionID     int32
}

func (m RequestSessionReply) Encode() []byte {
	buf := make([]byte, 0, 13)
	putInt64(&buf, m.CorrelationID)
	putByte(&buf, byte(m.Status))
	putUint32(&buf, uint32(m.SessionID))
	return buf
}

func DecodeRequestSessionReply(body []byte) (RequestSessionReply, error) {
	var m RequestSessionReply
	var err error
	var status byte
	var sess uint32
	if m.CorrelationID, body, err = getInt64(body); err != nil {
		return m, err
	}
	if status, body, err = getByte(body); err != nil {
		return m, err
	}
	m.Status = SessionReplyStatus(status)
	sess, _, err = getUint32(body)
	m.SessionID = int32(sess)
	return m, err
}

// ReleaseSession gives up ownership of a session the library previously
// acquired via RequestSession.
type ReleaseSession struct {
	CorrelationID int64
	LibraryID     int32
	SessionID     int32
}

func (m ReleaseSession) Encode() []byte {
	buf := make([]byte, 0, 16)
	putInt64(&buf, m.CorrelationID)
	putUint32(&buf, uint32(m.LibraryID))
	putUint32(&buf, uint32(m.SessionID))
	return buf
}

func DecodeReleaseSession(body []byte) (ReleaseSession, error) {
	var m ReleaseSession
	var err error
	var lib, sess uint32
	if m.CorrelationID, body, err = getInt64(body); err != nil {
		return m, err
	}
	if lib, body, err = getUint32(body); err != nil {
		return m, err
	}
	m.LibraryID = int32(lib)
	sess, _, err = getUint32(body)
	m.SessionID = int32(sess)
	return m, err
}

// ReleaseSessionReply answers ReleaseSession.
type ReleaseSessionReply struct {
	CorrelationID int64
	Status        SessionReplyStatus
}

func (m ReleaseSessionReply) Encode() []byte {
	buf := make([]byte, 0, 9)
	putInt64(&buf, m.CorrelationID)
	putByte(&buf, byte(m.Status))
	return buf
}

func DecodeReleaseSessionReply(body []byte) (ReleaseSessionReply, error) {
	var m ReleaseSessionReply
	var err error
	var status byte
	if m.CorrelationID, body, err = getInt64(body); err != nil {
		return m, err
	}
	status, _, err = getByte(body)
	m.Status = SessionReplyStatus(status)
	return m, err
}

// ManageConnection hands the library the transport details it needs to
// exchange application data for a session it now owns.
type ManageConnection struct {
	CorrelationID int64
	SessionID     int32
	DataChannel   string
}

func (m ManageConnection) Encode() []byte {
	buf := make([]byte, 0, 14+len(m.DataChannel))
	putInt64(&buf, m.CorrelationID)
	putUint32(&buf, uint32(m.SessionID))
	putString(&buf, m.DataChannel)
	return buf
}

func DecodeManageConnection(body []byte) (ManageConnection, error) {
	var m ManageConnection
	var err error
	var sess uint32
	if m.CorrelationID, body, err = getInt64(body); err != nil {
		return m, err
	}
	if sess, body, err = getUint32(body); err != nil {
		return m, err
	}
	m.SessionID = int32(sess)
	m.DataChannel, _, err = getString(body)
	return m, err
}

// Logon reports that the library has processed a FIX logon on behalf
// of a session it owns. internal/engine's Server does not act on it: it
// logs the frame as an unexpected message.
type Logon struct {
	SessionID int32
	Username  string
}

func (m Logon) Encode() []byte {
	buf := make([]byte, 0, 6+len(m.Username))
	putUint32(&buf, uint32(m.SessionID))
	putString(&buf, m.Username)
	return buf
}

func DecodeLogon(body []byte) (Logon, error) {
	var m Logon
	var err error
	var sess uint32
	if sess, body, err = getUint32(body); err != nil {
		return m, err
	}
	m.SessionID = int32(sess)
	m.Username, _, err = getString(body)
	return m, err
}

// Disconnect reports a session's connection ending, in either
// direction.
type Disconnect struct {
	SessionID int32
	Reason    string
}

func (m Disconnect) Encode() []byte {
	buf := make([]byte, 0, 6+len(m.Reason))
	putUint32(&buf, uint32(m.SessionID))
	putString(&buf, m.Reason)
	return buf
}

func DecodeDisconnect(body []byte) (Disconnect, error) {
	var m Disconnect
	var err error
	var sess uint32
	if sess, body, err = getUint32(body); err != nil {
		return m, err
	}
	m.SessionID = int32(sess)
	m.Reason, _, err = getString(body)
	return m, err
}

// ProtocolError reports that a previously issued request could not be
// satisfied.
type ProtocolError struct {
	CorrelationID int64
	Code          int32
	Detail        string
}

func (m ProtocolError) Encode() []byte {
	buf := make([]byte, 0, 14+len(m.Detail))
	putInt64(&buf, m.CorrelationID)
	putUint32(&buf, uint32(m.Code))
	putString(&buf, m.Detail)
	return buf
}

func DecodeProtocolError(body []byte) (ProtocolError, error) {
	var m ProtocolError
	var err error
	var code uint32
	if m.CorrelationID, body, err = getInt64(body); err != nil {
		return m, err
	}
	if code, body, err = getUint32(body); err != nil {
		return m, err
	}
	m.Code = int32(code)
	m.Detail, _, err = getString(body)
	return m, err
}

// ApplicationHeartbeat is a library's periodic liveness signal to the
// engine while a connection is open, independent of FIX-level
// heartbeats on any individual session.
type ApplicationHeartbeat struct {
	LibraryID int32
}

func (m ApplicationHeartbeat) Encode() []byte {
	buf := make([]byte, 0, 4)
	putUint32(&buf, uint32(m.LibraryID))
	return buf
}

func DecodeApplicationHeartbeat(body []byte) (ApplicationHeartbeat, error) {
	var m ApplicationHeartbeat
	lib, _, err := getUint32(body)
	m.LibraryID = int32(lib)
	return m, err
}

// Catchup tells the library it must replay archived data for a session
// between two positions before the engine will resume delivering live
// fragments; the archived bytes themselves travel over the data
// channel, not inline in this control message.
type Catchup struct {
	SessionID    int32
	FromPosition int64
	ToPosition   int64
}

func (m Catchup) Encode() []byte {
	buf := make([]byte, 0, 20)
	putUint32(&buf, uint32(m.SessionID))
	putInt64(&buf, m.FromPosition)
	putInt64(&buf, m.ToPosition)
	return buf
}

func DecodeCatchup(body []byte) (Catchup, error) {
	var m Catchup
	var err error
	var sess uint32
	if sess, body, err = getUint32(body); err != nil {
		return m, err
	}
	m.SessionID = int32(sess)
	if m.FromPosition, body, err = getInt64(body); err != nil {
		return m, err
	}
	m.ToPosition, _, err = getInt64(body)
	return m, err
}

// NewSentPosition reports how far a library has sent FIX application
// data on a session it owns. internal/engine's Server does not act on it:
// it logs the frame as an unexpected message.
type NewSentPosition struct {
	SessionID int32
	Position  int64
}

func (m NewSentPosition) Encode() []byte {
	buf := make([]byte, 0, 12)
	putUint32(&buf, uint32(m.SessionID))
	putInt64(&buf, m.Position)
	return buf
}

func DecodeNewSentPosition(body []byte) (NewSentPosition, error) {
	var m NewSentPosition
	var err error
	var sess uint32
	if sess, body, err = getUint32(body); err != nil {
		return m, err
	}
	m.SessionID = int32(sess)
	m.Position, _, err = getInt64(body)
	return m, err
}

// NotLeader redirects the library to the channel the responding engine
// currently believes is leader. An empty RedirectChannel tells the
// library to rotate to the next channel in its own list instead.
type NotLeader struct {
	CorrelationID   int64
	RedirectChannel string
}

func (m NotLeader) Encode() []byte {
	buf := make([]byte, 0, 10+len(m.RedirectChannel))
	putInt64(&buf, m.CorrelationID)
	putString(&buf, m.RedirectChannel)
	return buf
}

func DecodeNotLeader(body []byte) (NotLeader, error) {
	var m NotLeader
	var err error
	if m.CorrelationID, body, err = getInt64(body); err != nil {
		return m, err
	}
	m.RedirectChannel, _, err = getString(body)
	return m, err
}
