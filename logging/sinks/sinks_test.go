package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Learath2/libtw2/logging"
)

func TestConsoleFormatsEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsole(&buf, logging.ConsoleConfig{ShowExtra: true})
	err := sink.Write(logging.Event{
		Type:     "replication.delta_sent",
		Tick:     7,
		Actor:    logging.PeerRef("abc"),
		Severity: logging.SeverityWarn,
		Payload:  map[string]int{"bytes": 12},
		Extra:    map[string]any{"b": 2, "a": 1},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	line := buf.String()
	for _, want := range []string{"[replication.delta_sent]", "tick=7", "actor=peer:abc", "severity=warn", `payload={"bytes":12}`, " a=1 b=2"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
}

func TestJSONSinkWritesRecords(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSON(&buf, 0)
	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := sink.Write(logging.Event{Type: "t", Tick: 3, Time: when, Severity: logging.SeverityError, Category: "network"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record["type"] != "t" || record["severity"] != "error" || record["tick"] != float64(3) {
		t.Fatalf("unexpected record %v", record)
	}
	if record["time"] != "2024-01-02T03:04:05Z" {
		t.Fatalf("unexpected time %v", record["time"])
	}
}

func TestBuildSinks(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.EnabledSinks = []string{"console", "json", "memory"}
	cfg.JSON.FilePath = filepath.Join(t.TempDir(), "events.jsonl")

	built, err := Build(cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(built) != 3 {
		t.Fatalf("expected 3 sinks, got %d", len(built))
	}
	for _, named := range built {
		if err := named.Sink.Close(context.Background()); err != nil {
			t.Fatalf("close %s: %v", named.Name, err)
		}
	}

	cfg.EnabledSinks = []string{"syslog"}
	if _, err := Build(cfg, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected unknown sink to fail")
	}
}

func TestMemoryFiltersByType(t *testing.T) {
	mem := NewMemory()
	mem.Publish(context.Background(), logging.Event{Type: "a"})
	mem.Publish(context.Background(), logging.Event{Type: "b"})
	mem.Publish(context.Background(), logging.Event{Type: "a"})
	if got := len(mem.OfType("a")); got != 2 {
		t.Fatalf("expected 2 events, got %d", got)
	}
	mem.Reset()
	if got := len(mem.Events()); got != 0 {
		t.Fatalf("expected reset to clear events, got %d", got)
	}
}
