package protocol

import (
	"bytes"
	"testing"
)

func TestWriteAndReadHeader(t *testing.T) {
	tests := []struct {
		name   string
		header Header
	}{
		{
			name: "LibraryConnect message",
			header: Header{
				Magic:   MagicByte,
				Version: ProtocolVersion,
				Type:    MsgLibraryConnect,
				Flags:   FlagNone,
				Length:  100,
			},
		},
		{
			name: "NotLeader message",
			header: Header{
				Magic:   MagicByte,
				Version: ProtocolVersion,
				Type:    MsgNotLeader,
				Flags:   FlagNone,
				Length:  50,
			},
		},
		{
			name: "Catchup message",
			header: Header{
				Magic:   MagicByte,
				Version: ProtocolVersion,
				Type:    MsgCatchup,
				Flags:   FlagNone,
				Length:  1000,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)

			if err := WriteHeader(buf, tt.header); err != nil {
				t.Fatalf("WriteHeader failed: %v", err)
			}

			readHeader, err := ReadHeader(buf)
			if err != nil {
				t.Fatalf("ReadHeader failed: %v", err)
			}

			if readHeader.Magic != tt.header.Magic {
				t.Errorf("Magic mismatch: got %x, want %x", readHeader.Magic, tt.header.Magic)
			}
			if readHeader.Version != tt.header.Version {
				t.Errorf("Version mismatch: got %x, want %x", readHeader.Version, tt.header.Version)
			}
			if readHeader.Type != tt.header.Type {
				t.Errorf("Type mismatch: got %x, want %x", readHeader.Type, tt.header.Type)
			}
			if readHeader.Length != tt.header.Length {
				t.Errorf("Length mismatch: got %d, want %d", readHeader.Length, tt.header.Length)
			}
		})
	}
}

func TestWriteAndReadMessage(t *testing.T) {
	payload := LibraryConnect{CorrelationID: 42, LibraryID: 7, LibraryChannel: "udp://127.0.0.1:41000"}.Encode()

	buf := new(bytes.Buffer)
	if err := WriteMessage(buf, MsgLibraryConnect, payload); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	msg, err := ReadMessage(buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if msg.Header.Type != MsgLibraryConnect {
		t.Errorf("Type mismatch: got %x, want %x", msg.Header.Type, MsgLibraryConnect)
	}
	if !bytes.Equal(msg.Payload, payload) {
		t.Errorf("Payload mismatch: got %v, want %v", msg.Payload, payload)
	}
}

func TestInvalidMagicByte(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x00, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00})

	_, err := ReadHeader(buf)
	if err != ErrInvalidMagic {
		t.Errorf("Expected ErrInvalidMagic, got %v", err)
	}
}

func TestInvalidVersion(t *testing.T) {
	buf := bytes.NewBuffer([]byte{MagicByte, 0xFF, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00})

	_, err := ReadHeader(buf)
	if err != ErrInvalidVersion {
		t.Errorf("Expected ErrInvalidVersion, got %v", err)
	}
}

func TestMessageTooLarge(t *testing.T) {
	buf := new(bytes.Buffer)
	h := Header{
		Magic:   MagicByte,
		Version: ProtocolVersion,
		Type:    MsgLibraryConnect,
		Flags:   FlagNone,
		Length:  MaxMessageSize + 1,
	}
	WriteHeader(buf, h)

	_, err := ReadHeader(bytes.NewReader(buf.Bytes()))
	if err != ErrMessageTooLarge {
		t.Errorf("Expected ErrMessageTooLarge, got %v", err)
	}
}

func TestEmptyPayload(t *testing.T) {
	buf := new(bytes.Buffer)

	if err := WriteMessage(buf, MsgApplicationHeartbeat, nil); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	msg, err := ReadMessage(buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if msg.Header.Type != MsgApplicationHeartbeat {
		t.Errorf("Type mismatch: got %x, want %x", msg.Header.Type, MsgApplicationHeartbeat)
	}
	if len(msg.Payload) != 0 {
		t.Errorf("Expected empty payload, got %d bytes", len(msg.Payload))
	}
}

func TestLibraryConnectRoundTrip(t *testing.T) {
	want := LibraryConnect{CorrelationID: 1234, LibraryID: 9, Nonce: 987654321, LibraryChannel: "udp://10.0.0.5:5000"}
	got, err := DecodeLibraryConnect(want.Encode())
	if err != nil {
		t.Fatalf("DecodeLibraryConnect failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestInitiateConnectionRoundTrip(t *testing.T) {
	want := InitiateConnection{CorrelationID: 5, IsLeader: true, LeaderChannel: "udp://10.0.0.1:5000"}
	got, err := DecodeInitiateConnection(want.Encode())
	if err != nil {
		t.Fatalf("DecodeInitiateConnection failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestRequestSessionRoundTrip(t *testing.T) {
	want := RequestSession{CorrelationID: 99, LibraryID: 3, SessionID: 11, LastReceivedSeqNum: 4021}
	got, err := DecodeRequestSession(want.Encode())
	if err != nil {
		t.Fatalf("DecodeRequestSession failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestRequestSessionReplyRoundTrip(t *testing.T) {
	want := RequestSessionReply{CorrelationID: 99, Status: StatusOK, SessionID: 11}
	got, err := DecodeRequestSessionReply(want.Encode())
	if err != nil {
		t.Fatalf("DecodeRequestSessionReply failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestReleaseSessionRoundTrip(t *testing.T) {
	want := ReleaseSession{CorrelationID: 12, LibraryID: 3, SessionID: 11}
	got, err := DecodeReleaseSession(want.Encode())
	if err != nil {
		t.Fatalf("DecodeReleaseSession failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestManageConnectionRoundTrip(t *testing.T) {
	want := ManageConnection{CorrelationID: 12, SessionID: 11, DataChannel: "udp://10.0.0.9:6000"}
	got, err := DecodeManageConnection(want.Encode())
	if err != nil {
		t.Fatalf("DecodeManageConnection failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestLogonRoundTrip(t *testing.T) {
	want := Logon{SessionID: 11, Username: "trader1"}
	got, err := DecodeLogon(want.Encode())
	if err != nil {
		t.Fatalf("DecodeLogon failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestDisconnectRoundTrip(t *testing.T) {
	want := Disconnect{SessionID: 11, Reason: "session reset"}
	got, err := DecodeDisconnect(want.Encode())
	if err != nil {
		t.Fatalf("DecodeDisconnect failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestProtocolErrorRoundTrip(t *testing.T) {
	want := ProtocolError{CorrelationID: 7, Code: 2, Detail: "unknown session"}
	got, err := DecodeProtocolError(want.Encode())
	if err != nil {
		t.Fatalf("DecodeProtocolError failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestCatchupRoundTrip(t *testing.T) {
	want := Catchup{SessionID: 11, FromPosition: 100, ToPosition: 500}
	got, err := DecodeCatchup(want.Encode())
	if err != nil {
		t.Fatalf("DecodeCatchup failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestNewSentPositionRoundTrip(t *testing.T) {
	want := NewSentPosition{SessionID: 11, Position: 777}
	got, err := DecodeNewSentPosition(want.Encode())
	if err != nil {
		t.Fatalf("DecodeNewSentPosition failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestNotLeaderRoundTrip(t *testing.T) {
	want := NotLeader{CorrelationID: 3, RedirectChannel: "udp://10.0.0.2:5000"}
	got, err := DecodeNotLeader(want.Encode())
	if err != nil {
		t.Fatalf("DecodeNotLeader failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	// Empty redirect channel means "rotate to next channel yourself".
	rotate := NotLeader{CorrelationID: 4}
	got2, err := DecodeNotLeader(rotate.Encode())
	if err != nil {
		t.Fatalf("DecodeNotLeader failed: %v", err)
	}
	if got2.RedirectChannel != "" {
		t.Errorf("expected empty redirect channel, got %q", got2.RedirectChannel)
	}
}

func TestApplicationHeartbeatRoundTrip(t *testing.T) {
	want := ApplicationHeartbeat{LibraryID: 7}
	got, err := DecodeApplicationHeartbeat(want.Encode())
	if err != nil {
		t.Fatalf("DecodeApplicationHeartbeat failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestReleaseSessionReplyRoundTrip(t *testing.T) {
	want := ReleaseSessionReply{CorrelationID: 12, Status: StatusOK}
	got, err := DecodeReleaseSessionReply(want.Encode())
	if err != nil {
		t.Fatalf("DecodeReleaseSessionReply failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}
