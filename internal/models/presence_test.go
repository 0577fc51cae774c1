package models

import (
	"encoding/json"
	"testing"
)

func TestUserInfoContext(t *testing.T) {
	u := UserInfo{ID: "u1", Name: "alice", Color: "#3cb44b"}
	got := u.Context()
	want := map[string]any{"user_id": "u1", "name": "alice", "color": "#3cb44b"}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("Context()[%q] = %v, want %v", k, got[k], v)
		}
	}
}

func TestCursorPositionJSONRoundTrip(t *testing.T) {
	cp := CursorPosition{Line: 4, Column: 12}
	raw, err := json.Marshal(cp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got CursorPosition
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != cp {
		t.Fatalf("round-tripped = %+v, want %+v", got, cp)
	}
}
