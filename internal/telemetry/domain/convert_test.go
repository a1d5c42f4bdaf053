package domain

import (
	"testing"
	"time"
)

func TestFromJSON(t *testing.T) {
	raw := []byte(`{"workspaceId":"ws-1","userId":"u1","topic":"presence:ws-1","eventType":"realtime.join_accepted","source":"gateway","metadata":{"ref":"1"},"createdAt":"2026-02-03T04:05:06Z"}`)
	got, err := FromJSON(raw)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if got.WorkspaceID != "ws-1" || got.EventType != "realtime.join_accepted" || got.Source != "gateway" {
		t.Errorf("event = %+v", got)
	}
	if got.UserID == nil || *got.UserID != "u1" {
		t.Errorf("UserID = %v, want u1", got.UserID)
	}
	if got.ConnID != nil {
		t.Errorf("ConnID = %v, want nil", *got.ConnID)
	}
	if !got.CreatedAt.Equal(time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", got.CreatedAt)
	}
	if string(got.Metadata) != `{"ref":"1"}` {
		t.Errorf("Metadata = %s", got.Metadata)
	}
}

func TestFromJSON_Rejects(t *testing.T) {
	for _, raw := range []string{`not json`, `{"eventType":"x"}`, `{"workspaceId":"ws"}`, `{"workspaceId":"ws","eventType":"x","createdAt":"yesterday"}`} {
		if _, err := FromJSON([]byte(raw)); err == nil {
			t.Errorf("FromJSON(%s) should fail", raw)
		}
	}
}
