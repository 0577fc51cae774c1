package crdtdoc

import "testing"

func TestSaveLoadRoundTrip(t *testing.T) {
	doc := New()
	snapshot := doc.Save()

	loaded, err := Load(snapshot)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a non-nil loaded document")
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	if _, err := Load([]byte("not a snapshot")); err == nil {
		t.Fatal("expected an error loading a malformed snapshot")
	}
}

func TestApplyUpdateOfEquivalentStateReportsNoChange(t *testing.T) {
	doc := New()
	snapshot := doc.Save()

	other := New()
	changed, err := other.ApplyUpdate(snapshot)
	if err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}
	if changed {
		t.Fatal("expected no visible change when merging an equivalent empty document")
	}
}

func TestApplyUpdateRejectsGarbage(t *testing.T) {
	doc := New()
	if _, err := doc.ApplyUpdate([]byte("garbage")); err == nil {
		t.Fatal("expected an error applying a malformed update")
	}
}

func TestSyncStateRoundTripBetweenEmptyReplicas(t *testing.T) {
	local := New()
	remote := New()

	localSync := local.NewSyncState()
	remoteSync := remote.NewSyncState()

	for i := 0; i < 4; i++ {
		msg, ok := localSync.Generate()
		if !ok {
			break
		}
		if _, err := remoteSync.Receive(msg); err != nil {
			t.Fatalf("remote receive: %v", err)
		}
		reply, ok := remoteSync.Generate()
		if !ok {
			break
		}
		if _, err := localSync.Receive(reply); err != nil {
			t.Fatalf("local receive: %v", err)
		}
	}
}

func TestHeadsEqual(t *testing.T) {
	doc := New()
	heads := doc.inner.Heads()

	if !headsEqual(heads, heads) {
		t.Fatal("expected identical heads slices to compare equal")
	}
	if !headsEqual(nil, nil) {
		t.Fatal("expected two nil heads slices to compare equal")
	}
}
