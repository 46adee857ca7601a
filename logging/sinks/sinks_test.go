package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/lotuspar/libblitz/logging"
)

func sampleEvent() logging.Event {
	return logging.Event{
		Type:      "lifecycle.activity_activated",
		Seq:       4,
		Time:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		SessionID: "session-1",
		Actor:     logging.Activity("act-1"),
		Targets:   []logging.EntityRef{logging.Member("member-1"), logging.Member("member-2")},
		Severity:  logging.SeverityInfo,
		Category:  logging.CategoryLifecycle,
		Payload:   map[string]string{"kind": "round"},
	}
}

func TestConsoleSinkFormatsEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf)
	event := sampleEvent()
	event.Extra = map[string]any{"reason": "slow replica", "attempt": 2}
	if err := sink.Write(event); err != nil {
		t.Fatalf("write: %v", err)
	}
	line := buf.String()
	for _, want := range []string{
		"2026-01-02T03:04:05Z level=info event=lifecycle.activity_activated category=lifecycle",
		"session=session-1 seq=4 actor=activity:act-1",
		"targets=member:member-1,member:member-2",
		`payload="{\"kind\":\"round\"}"`,
		"attempt=2 reason=\"slow replica\"",
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
	if !strings.HasSuffix(line, "\n") || strings.Count(line, "\n") != 1 {
		t.Fatalf("expected exactly one line, got %q", line)
	}
}

func TestJSONSinkWritesOneRecordPerLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSON(&buf, 0)
	if err := sink.Write(sampleEvent()); err != nil {
		t.Fatalf("write: %v", err)
	}
	event := sampleEvent()
	event.Seq = 5
	if err := sink.Write(event); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record["type"] != "lifecycle.activity_activated" || record["severity"] != "info" {
		t.Fatalf("unexpected record %v", record)
	}
	if record["seq"] != float64(5) {
		t.Fatalf("expected seq 5, got %v", record["seq"])
	}
	if record["time"] != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected time %v", record["time"])
	}
}

func TestMemorySinkRetainsCopies(t *testing.T) {
	sink := NewMemorySink()
	event := sampleEvent()
	sink.Publish(context.Background(), event)
	event.Targets[0] = logging.Member("mutated")

	stored := sink.OfType("lifecycle.activity_activated")
	if len(stored) != 1 {
		t.Fatalf("expected 1 event, got %d", len(stored))
	}
	if stored[0].Targets[0].ID != "member-1" {
		t.Fatalf("expected stored event to be isolated from caller mutation")
	}
	sink.Reset()
	if len(sink.Events()) != 0 {
		t.Fatalf("expected reset to clear events")
	}
}
