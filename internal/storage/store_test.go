package storage

import "testing"

func TestDocumentSnapshotTableName(t *testing.T) {
	if got := (DocumentSnapshot{}).TableName(); got != "document_snapshots" {
		t.Fatalf("TableName() = %q, want document_snapshots", got)
	}
}

func TestDocumentSnapshotBeforeCreateGeneratesID(t *testing.T) {
	s := &DocumentSnapshot{}
	if err := s.BeforeCreate(nil); err != nil {
		t.Fatalf("BeforeCreate: %v", err)
	}
	if s.ID == "" {
		t.Fatal("expected BeforeCreate to populate a KSUID")
	}
}

func TestDocumentSnapshotBeforeCreatePreservesExistingID(t *testing.T) {
	s := &DocumentSnapshot{ID: "existing-id"}
	if err := s.BeforeCreate(nil); err != nil {
		t.Fatalf("BeforeCreate: %v", err)
	}
	if s.ID != "existing-id" {
		t.Fatalf("ID = %q, want existing-id to be preserved", s.ID)
	}
}
