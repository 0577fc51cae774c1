package debugsink

import "testing"

func TestRecordNoopWhenNotVerbose(t *testing.T) {
	s := New(4, false)
	s.Record(Entry{SocketID: "a"})
	if got := s.Snapshot(); len(got) != 0 {
		t.Fatalf("Snapshot() = %v, want empty", got)
	}
}

func TestRecordAndSnapshotOrder(t *testing.T) {
	s := New(4, true)
	s.Record(Entry{SocketID: "a", Direction: Inbound})
	s.Record(Entry{SocketID: "b", Direction: Outbound})
	s.Record(Entry{SocketID: "c", Direction: Inbound})

	got := s.Snapshot()
	if len(got) != 3 {
		t.Fatalf("len(Snapshot()) = %d, want 3", len(got))
	}
	want := []string{"a", "b", "c"}
	for i, e := range got {
		if e.SocketID != want[i] {
			t.Fatalf("entry %d SocketID = %q, want %q", i, e.SocketID, want[i])
		}
	}
}

func TestRecordOverwritesOldestOnceFull(t *testing.T) {
	s := New(2, true)
	s.Record(Entry{SocketID: "a"})
	s.Record(Entry{SocketID: "b"})
	s.Record(Entry{SocketID: "c"})

	got := s.Snapshot()
	if len(got) != 2 {
		t.Fatalf("len(Snapshot()) = %d, want 2", len(got))
	}
	if got[0].SocketID != "b" || got[1].SocketID != "c" {
		t.Fatalf("got %v, want oldest entry a evicted", got)
	}
}

func TestNewDefaultsNonPositiveCapacity(t *testing.T) {
	s := New(0, true)
	for i := 0; i < 300; i++ {
		s.Record(Entry{SocketID: "x"})
	}
	if got := len(s.Snapshot()); got != 256 {
		t.Fatalf("len(Snapshot()) = %d, want 256 (default capacity)", got)
	}
}

func TestCloseReturnsEntriesAndResetsBuffer(t *testing.T) {
	s := New(4, true)
	s.Record(Entry{SocketID: "a"})
	s.Record(Entry{SocketID: "b"})

	entries := s.Close()
	if len(entries) != 2 {
		t.Fatalf("len(Close()) = %d, want 2", len(entries))
	}
	if got := s.Snapshot(); len(got) != 0 {
		t.Fatalf("Snapshot() after Close() = %v, want empty", got)
	}
}

func TestNilSinkIsSafe(t *testing.T) {
	var s *Sink
	s.Record(Entry{SocketID: "a"})
	if got := s.Snapshot(); got != nil {
		t.Fatalf("Snapshot() on nil sink = %v, want nil", got)
	}
	if got := s.Close(); got != nil {
		t.Fatalf("Close() on nil sink = %v, want nil", got)
	}
}
