package presence

import (
	"reflect"
	"testing"
	"time"

	"bizlinkone/backend/internal/realtime"
)

func meta(id, name, at string) realtime.PresenceMeta {
	m := realtime.PresenceMeta{FieldUserID: id, FieldDisplayName: name}
	if at != "" {
		m[FieldOnlineAt] = at
	}
	return m
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		snapshot realtime.PresenceSnapshot
		want     []string
	}{
		{
			name: "same user on two connections collapses",
			snapshot: realtime.PresenceSnapshot{
				"conn-1": {meta("u1", "Ann", "")},
				"conn-2": {meta("u1", "Ann", "")},
				"conn-3": {meta("u2", "Bob", "")},
			},
			want: []string{"u1", "u2"},
		},
		{
			name: "several metas under one key",
			snapshot: realtime.PresenceSnapshot{
				"u1": {meta("u1", "Ann", ""), meta("u1", "Ann", "")},
			},
			want: []string{"u1"},
		},
		{
			name: "malformed metas skipped individually",
			snapshot: realtime.PresenceSnapshot{
				"conn-1": {realtime.PresenceMeta{FieldDisplayName: "no id"}, meta("u3", "Cy", "")},
				"conn-2": {realtime.PresenceMeta{FieldUserID: 42}},
				"conn-3": {nil, realtime.PresenceMeta{FieldUserID: ""}},
			},
			want: []string{"u3"},
		},
		{name: "empty snapshot", snapshot: realtime.PresenceSnapshot{}, want: []string{}},
		{name: "nil snapshot", snapshot: nil, want: []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Aggregate(tc.snapshot)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Aggregate = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	snapshot := realtime.PresenceSnapshot{
		"conn-1": {meta("u1", "Ann", "")},
		"conn-2": {meta("u2", "Bob", "")},
	}
	first := Aggregate(snapshot)
	second := Aggregate(snapshot)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("second application = %v, want %v", second, first)
	}
}

func TestEntries_EarliestConnectionWins(t *testing.T) {
	early := "2026-01-02T10:00:00Z"
	late := "2026-01-02T11:00:00Z"
	snapshot := realtime.PresenceSnapshot{
		"tab-2": {meta("u1", "Ann (phone)", late)},
		"tab-1": {meta("u1", "Ann", early)},
		"tab-3": {meta("u2", "Bob", "not a time")},
		"tab-4": {realtime.PresenceMeta{FieldDisplayName: "ghost"}},
	}
	got := Entries(snapshot)
	want := []Entry{
		{UserID: "u1", DisplayName: "Ann", OnlineSince: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)},
		{UserID: "u2", DisplayName: "Bob"},
	}
	if len(got) != len(want) {
		t.Fatalf("Entries = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i].UserID != want[i].UserID || got[i].DisplayName != want[i].DisplayName || !got[i].OnlineSince.Equal(want[i].OnlineSince) {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestEntries_NameFromLaterConnection(t *testing.T) {
	snapshot := realtime.PresenceSnapshot{
		"tab-1": {meta("u1", "", "2026-01-02T10:00:00Z")},
		"tab-2": {meta("u1", "Ann", "2026-01-02T11:00:00Z")},
	}
	got := Entries(snapshot)
	if len(got) != 1 {
		t.Fatalf("Entries = %+v, want one entry", got)
	}
	if got[0].DisplayName != "Ann" {
		t.Errorf("DisplayName = %q, want %q", got[0].DisplayName, "Ann")
	}
	if want := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC); !got[0].OnlineSince.Equal(want) {
		t.Errorf("OnlineSince = %v, want %v", got[0].OnlineSince, want)
	}
}

func TestEntries_AcceptsTimeValues(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	got := Entries(realtime.PresenceSnapshot{"k": {{FieldUserID: "u1", FieldOnlineAt: at}}})
	if len(got) != 1 || !got[0].OnlineSince.Equal(at) {
		t.Errorf("Entries = %+v, want online since %v", got, at)
	}
}
