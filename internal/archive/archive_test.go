package archive

import (
	"bytes"
	"path/filepath"
	"testing"

	"fixgate/internal/compression"
	"fixgate/internal/consensus"
	"fixgate/internal/logging"
)

func newTestStore(t *testing.T, segmentBytes int64) *Store {
	t.Helper()
	cfg := Config{
		Dir:          t.TempDir(),
		SegmentBytes: segmentBytes,
		Compression:  compression.Config{Algorithm: compression.AlgorithmGzip, MinSize: 1},
	}
	s, err := NewStore(cfg, logging.Default("archive-test"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAdvancesPosition(t *testing.T) {
	s := newTestStore(t, 1024*1024)

	p1, err := s.Append([]byte("hello"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if p1 != consensus.Position(5) {
		t.Fatalf("expected position 5, got %d", p1)
	}

	p2, err := s.Append([]byte("world!"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if p2 != consensus.Position(11) {
		t.Fatalf("expected position 11, got %d", p2)
	}
}

func TestReadRangeReturnsAppendedBytes(t *testing.T) {
	s := newTestStore(t, 1024*1024)

	s.Append([]byte("AAAA"))
	s.Append([]byte("BBBB"))
	s.Append([]byte("CCCC"))

	got, err := s.ReadRange(0, 12)
	if err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	want := []byte("AAAABBBBCCCC")
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestReadRangeMidRecord(t *testing.T) {
	s := newTestStore(t, 1024*1024)

	s.Append([]byte("AAAA")) // ends at 4
	s.Append([]byte("BBBB")) // ends at 8

	got, err := s.ReadRange(2, 4)
	if err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	want := []byte("AABB")
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestReadRangeBeyondEndReturnsEmpty(t *testing.T) {
	s := newTestStore(t, 1024*1024)
	s.Append([]byte("AAAA"))

	got, err := s.ReadRange(100, 10)
	if err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no bytes beyond end, got %d", len(got))
	}
}

func TestReadRangeRespectsMaxBytes(t *testing.T) {
	s := newTestStore(t, 1024*1024)
	s.Append(bytes.Repeat([]byte("X"), 100))

	got, err := s.ReadRange(0, 10)
	if err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 bytes, got %d", len(got))
	}
}

func TestSegmentSealingAndReadAcrossSegments(t *testing.T) {
	// Force sealing after a handful of bytes so the range we read spans
	// a sealed (compressed) segment and the active one.
	s := newTestStore(t, int64(recordHeaderSize+4))

	s.Append([]byte("AAAA")) // seals on the next append
	s.Append([]byte("BBBB")) // lands in a new active segment
	s.Append([]byte("CCCC"))

	if len(s.sealed) == 0 {
		t.Fatal("expected at least one sealed segment")
	}

	got, err := s.ReadRange(0, 12)
	if err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	want := []byte("AAAABBBBCCCC")
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNewStoreReplaysExistingSegments(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "archive")
	cfg := Config{Dir: dir, SegmentBytes: 1024 * 1024, Compression: compression.Config{Algorithm: compression.AlgorithmGzip, MinSize: 1}}

	s1, err := NewStore(cfg, logging.Default("n1"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	s1.Append([]byte("hello"))
	s1.Append([]byte("world"))
	if err := s1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := NewStore(cfg, logging.Default("n1"))
	if err != nil {
		t.Fatalf("reopening NewStore failed: %v", err)
	}
	defer s2.Close()

	if s2.EndPosition() != consensus.Position(10) {
		t.Fatalf("expected replayed end position 10, got %d", s2.EndPosition())
	}

	got, err := s2.ReadRange(0, 10)
	if err != nil {
		t.Fatalf("ReadRange after reopen failed: %v", err)
	}
	if !bytes.Equal(got, []byte("helloworld")) {
		t.Fatalf("got %q, want %q", got, "helloworld")
	}

	p, err := s2.Append([]byte("!"))
	if err != nil {
		t.Fatalf("Append after reopen failed: %v", err)
	}
	if p != consensus.Position(11) {
		t.Fatalf("expected position 11 after reopen append, got %d", p)
	}
}

func TestCompressionRoundTripThroughStore(t *testing.T) {
	s := newTestStore(t, int64(recordHeaderSize+8))
	payload := bytes.Repeat([]byte("payload-data-"), 50)

	s.Append(payload)
	s.Append([]byte("trailer"))

	if len(s.sealed) == 0 {
		t.Fatal("expected the large payload to have forced a seal")
	}

	got, err := s.ReadRange(0, consensusLen(payload)+len("trailer"))
	if err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	want := append(append([]byte{}, payload...), []byte("trailer")...)
	if !bytes.Equal(got, want) {
		t.Fatal("round-tripped data through a sealed, compressed segment did not match")
	}
}

func consensusLen(b []byte) int { return len(b) }

func TestClearFromTruncatesActiveSegment(t *testing.T) {
	s := newTestStore(t, 1024*1024)

	s.Append([]byte("AAAA")) // ends at 4
	s.Append([]byte("BBBB")) // ends at 8
	s.Append([]byte("CCCC")) // ends at 12

	if err := s.ClearFrom(8); err != nil {
		t.Fatalf("ClearFrom failed: %v", err)
	}
	if s.EndPosition() != consensus.Position(8) {
		t.Fatalf("expected end position 8 after clear, got %d", s.EndPosition())
	}

	got, err := s.ReadRange(0, 100)
	if err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	if !bytes.Equal(got, []byte("AAAABBBB")) {
		t.Fatalf("got %q, want %q", got, "AAAABBBB")
	}

	p, err := s.Append([]byte("DDDD"))
	if err != nil {
		t.Fatalf("Append after clear failed: %v", err)
	}
	if p != consensus.Position(12) {
		t.Fatalf("expected re-append to land at 12, got %d", p)
	}
}

func TestClearFromMidRecord(t *testing.T) {
	s := newTestStore(t, 1024*1024)

	s.Append([]byte("AAAA"))
	s.Append([]byte("BBBB")) // clear lands mid-way through this record

	if err := s.ClearFrom(6); err != nil {
		t.Fatalf("ClearFrom failed: %v", err)
	}
	if s.EndPosition() != consensus.Position(6) {
		t.Fatalf("expected end position 6, got %d", s.EndPosition())
	}

	got, err := s.ReadRange(0, 100)
	if err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	if !bytes.Equal(got, []byte("AAAABB")) {
		t.Fatalf("got %q, want %q", got, "AAAABB")
	}
}

func TestClearFromDropsSealedSegments(t *testing.T) {
	s := newTestStore(t, int64(recordHeaderSize+4))

	s.Append([]byte("AAAA")) // sealed on next append
	s.Append([]byte("BBBB")) // sealed on next append
	s.Append([]byte("CCCC"))

	if err := s.ClearFrom(4); err != nil {
		t.Fatalf("ClearFrom failed: %v", err)
	}
	if s.EndPosition() != consensus.Position(4) {
		t.Fatalf("expected end position 4, got %d", s.EndPosition())
	}

	got, err := s.ReadRange(0, 100)
	if err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	if !bytes.Equal(got, []byte("AAAA")) {
		t.Fatalf("got %q, want %q", got, "AAAA")
	}
}

func TestClearFromBeyondEndIsNoOp(t *testing.T) {
	s := newTestStore(t, 1024*1024)
	s.Append([]byte("AAAA"))

	if err := s.ClearFrom(100); err != nil {
		t.Fatalf("ClearFrom failed: %v", err)
	}
	if s.EndPosition() != consensus.Position(4) {
		t.Fatalf("expected end position unchanged at 4, got %d", s.EndPosition())
	}
}
