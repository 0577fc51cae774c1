package awareness

import "testing"

func TestStoreSetAndAll(t *testing.T) {
	s := NewStore()
	s.Set(1, []byte("alice"))
	s.Set(2, []byte("bob"))

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}

	all := s.All()
	seen := map[uint64]string{}
	for _, st := range all {
		seen[st.ClientID] = string(st.Payload)
	}
	if seen[1] != "alice" || seen[2] != "bob" {
		t.Fatalf("All() = %v", seen)
	}
}

func TestStoreSetReplacesExisting(t *testing.T) {
	s := NewStore()
	s.Set(1, []byte("first"))
	s.Set(1, []byte("second"))

	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	all := s.All()
	if string(all[0].Payload) != "second" {
		t.Fatalf("Payload = %q, want second", all[0].Payload)
	}
}

func TestStoreRemove(t *testing.T) {
	s := NewStore()
	s.Set(1, []byte("alice"))
	s.Set(2, []byte("bob"))

	s.Remove(1)
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	all := s.All()
	if all[0].ClientID != 2 {
		t.Fatalf("expected remaining client 2, got %d", all[0].ClientID)
	}
}

func TestStoreRemoveMissingIsNoop(t *testing.T) {
	s := NewStore()
	s.Remove(42)
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestStoreAllOnEmptyStore(t *testing.T) {
	s := NewStore()
	all := s.All()
	if len(all) != 0 {
		t.Fatalf("expected empty slice, got %v", all)
	}
}
