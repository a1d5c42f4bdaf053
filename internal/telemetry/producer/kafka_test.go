package producer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"bizlinkone/backend/internal/telemetry"
)

type mockWriter struct {
	msgs     []kafka.Message
	writeErr error
	closed   int
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed++
	return nil
}

func TestNewKafkaProducer_Disabled(t *testing.T) {
	tests := []struct {
		name    string
		brokers []string
		topic   string
	}{
		{"no brokers", nil, "events"},
		{"no topic", []string{"localhost:9092"}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewKafkaProducer(tc.brokers, tc.topic)
			if err != nil || p != nil {
				t.Fatalf("NewKafkaProducer = (%v, %v), want (nil, nil)", p, err)
			}
			if err := p.Emit(context.Background(), &telemetry.Event{EventType: "x"}); err != nil {
				t.Errorf("nil producer Emit: %v", err)
			}
			if err := p.Close(); err != nil {
				t.Errorf("nil producer Close: %v", err)
			}
		})
	}
}

func TestKafkaProducer_EmitKeyedByWorkspace(t *testing.T) {
	w := &mockWriter{}
	p := &KafkaProducer{writer: w, topic: "events"}
	ev := &telemetry.Event{WorkspaceID: "ws-1", EventType: telemetry.EventConnOpened}
	if err := p.Emit(context.Background(), ev); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "ws-1" {
		t.Errorf("key = %q, want %q", w.msgs[0].Key, "ws-1")
	}
	var got telemetry.Event
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("unmarshal value: %v", err)
	}
	if got.EventType != telemetry.EventConnOpened || got.WorkspaceID != "ws-1" {
		t.Errorf("value = %+v", got)
	}

	if err := p.Emit(context.Background(), &telemetry.Event{EventType: "x"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if w.msgs[1].Key != nil {
		t.Errorf("key without workspace = %q, want nil", w.msgs[1].Key)
	}
}

func TestKafkaProducer_EmitError(t *testing.T) {
	wantErr := errors.New("broker unavailable")
	p := &KafkaProducer{writer: &mockWriter{writeErr: wantErr}, topic: "events"}
	if err := p.Emit(context.Background(), &telemetry.Event{EventType: "x"}); !errors.Is(err, wantErr) {
		t.Errorf("Emit err = %v, want %v", err, wantErr)
	}
}
