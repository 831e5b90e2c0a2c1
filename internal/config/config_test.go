package config

import (
	"strings"
	"testing"
	"time"

	"github.com/Learath2/libtw2/logging"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.HistoryTicks != 150 {
		t.Fatalf("expected default history of 150 ticks, got %d", cfg.HistoryTicks)
	}
	if got := cfg.TickInterval(); got != time.Second/30 {
		t.Fatalf("expected 30Hz interval, got %s", got)
	}
	if got := cfg.Logging().EnabledSinks; len(got) != 1 || got[0] != "console" {
		t.Fatalf("expected console sink by default, got %v", got)
	}
	if cfg.Observability().EnablePprof {
		t.Fatalf("expected pprof to be off by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SNAPSYNC_TICK_RATE", "20")
	t.Setenv("SNAPSYNC_HISTORY_TICKS", "40")
	t.Setenv("SNAPSYNC_LOG_SINKS", "console,json")
	t.Setenv("SNAPSYNC_LOG_JSON_PATH", "/tmp/events.jsonl")
	t.Setenv("SNAPSYNC_LOG_LEVEL", "debug")
	t.Setenv("SNAPSYNC_PPROF", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TickRate != 20 || cfg.HistoryTicks != 40 {
		t.Fatalf("unexpected tick settings %+v", cfg)
	}
	logCfg := cfg.Logging()
	if !logCfg.HasSink("json") || logCfg.JSON.FilePath != "/tmp/events.jsonl" {
		t.Fatalf("unexpected logging config %+v", logCfg)
	}
	if logCfg.MinimumSeverity != logging.SeverityDebug {
		t.Fatalf("expected debug severity, got %s", logCfg.MinimumSeverity)
	}
	if !cfg.Observability().EnablePprof {
		t.Fatalf("expected pprof to be enabled")
	}
}

func TestLoadParseError(t *testing.T) {
	t.Setenv("SNAPSYNC_TICK_RATE", "fast")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	t.Setenv("SNAPSYNC_TICK_RATE", "0")
	t.Setenv("SNAPSYNC_OUTBOX_SIZE", "0")
	t.Setenv("SNAPSYNC_LOG_LEVEL", "loud")
	t.Setenv("SNAPSYNC_SERVER_URL", "http://localhost")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"SNAPSYNC_TICK_RATE", "SNAPSYNC_OUTBOX_SIZE", "SNAPSYNC_LOG_LEVEL", "SNAPSYNC_SERVER_URL"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}
