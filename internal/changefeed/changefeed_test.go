package changefeed

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"bizlinkone/backend/internal/realtime"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.ChangeEvent
}

func (p *recordingPublisher) Publish(ev realtime.ChangeEvent) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return 1
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestDecode(t *testing.T) {
	payload := `{"schema":"public","table":"messages","type":"UPDATE",
		"record":{"id":"m1","channel_id":"c1","body":"new"},
		"old_record":{"id":"m1","channel_id":"c1","body":"old"},
		"commit_timestamp":"2026-03-01T10:00:00.123456+00:00"}`
	ev, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Kind != realtime.ChangeUpdate || ev.Table != "messages" || ev.Schema != "public" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Record["body"] != "new" || ev.OldRecord["body"] != "old" {
		t.Errorf("records = %v / %v", ev.Record, ev.OldRecord)
	}
	want := time.Date(2026, 3, 1, 10, 0, 0, 123456000, time.UTC)
	if !ev.CommitTimestamp.Equal(want) {
		t.Errorf("CommitTimestamp = %v, want %v", ev.CommitTimestamp, want)
	}
}

func TestDecode_Rejects(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
	}{
		{"not json", `nope`},
		{"no table", `{"schema":"public","type":"INSERT"}`},
		{"unknown type", `{"schema":"public","table":"messages","type":"TRUNCATE"}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.payload); err == nil {
				t.Error("Decode should fail")
			}
		})
	}
}

func TestDecode_Truncated(t *testing.T) {
	ev, err := Decode(`{"schema":"public","table":"messages","type":"INSERT","record":{"id":"m1"},"truncated":true}`)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := ev.Record["body"]; ok {
		t.Error("truncated record should carry no body")
	}
}

func TestListener_HandleSkipsMalformed(t *testing.T) {
	pub := &recordingPublisher{}
	l := NewListener("unused", pub)
	l.handle(`{"schema":"public","table":"messages","type":"DELETE","old_record":{"id":"m1"}}`)
	l.handle(`garbage`)
	if pub.count() != 1 {
		t.Errorf("published = %d, want 1", pub.count())
	}
}

func TestNextBackoff(t *testing.T) {
	d := minBackoff
	for i := 0; i < 10; i++ {
		d = nextBackoff(d)
	}
	if d != maxBackoff {
		t.Errorf("backoff = %v, want cap %v", d, maxBackoff)
	}
}

func TestListener_RunRequiresDSN(t *testing.T) {
	if err := NewListener("", &recordingPublisher{}).Run(context.Background()); err == nil {
		t.Error("Run with empty DSN should fail")
	}
}

func TestListener_RunStopsOnCancel(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := NewListener(dsn, &recordingPublisher{}).Run(ctx); err != context.DeadlineExceeded {
		t.Errorf("Run = %v, want %v", err, context.DeadlineExceeded)
	}
}
