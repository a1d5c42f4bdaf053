package interceptors

import (
	"context"
	"testing"
)

func TestWithIdentity_SetsAllValues(t *testing.T) {
	ctx := WithIdentity(context.Background(), "user-1", "Ann", "session-1")

	userID, ok := GetUserID(ctx)
	if !ok {
		t.Fatal("GetUserID should return true")
	}
	if userID != "user-1" {
		t.Errorf("user_id = %q, want %q", userID, "user-1")
	}

	name, ok := GetDisplayName(ctx)
	if !ok {
		t.Fatal("GetDisplayName should return true")
	}
	if name != "Ann" {
		t.Errorf("display_name = %q, want %q", name, "Ann")
	}

	sessionID, ok := GetSessionID(ctx)
	if !ok {
		t.Fatal("GetSessionID should return true")
	}
	if sessionID != "session-1" {
		t.Errorf("session_id = %q, want %q", sessionID, "session-1")
	}
}

func TestGetters_ReturnFalseWhenNotSet(t *testing.T) {
	ctx := context.Background()
	if _, ok := GetUserID(ctx); ok {
		t.Error("GetUserID should return false when not set")
	}
	if _, ok := GetDisplayName(ctx); ok {
		t.Error("GetDisplayName should return false when not set")
	}
	if _, ok := GetSessionID(ctx); ok {
		t.Error("GetSessionID should return false when not set")
	}
}

func TestWithIdentity_Overrides(t *testing.T) {
	ctx := WithIdentity(context.Background(), "user-1", "Ann", "session-1")
	ctx = WithIdentity(ctx, "user-2", "Bob", "session-2")
	if userID, _ := GetUserID(ctx); userID != "user-2" {
		t.Errorf("user_id = %q, want %q", userID, "user-2")
	}
}
