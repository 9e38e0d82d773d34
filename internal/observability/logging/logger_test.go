package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWritesServiceAndFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "backfill", "warn", "json")

	logger.Info("dropped")
	logger.Warn("stage_failed", "stage", "download")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 record, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec["service"] != "backfill" || rec["msg"] != "stage_failed" || rec["stage"] != "download" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "progress", "info", "text").Info("job_status", "job_id", "abc")
	if !strings.Contains(buf.String(), "msg=job_status") || !strings.Contains(buf.String(), "job_id=abc") {
		t.Fatalf("unexpected text output: %q", buf.String())
	}
}

func TestInstallHonoursFormatAndSetsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	install(&buf, "scheduler", "info", "TEXT")
	slog.Info("task_finished", "task", "incremental_update")
	if !strings.Contains(buf.String(), "service=scheduler") || !strings.Contains(buf.String(), "task=incremental_update") {
		t.Fatalf("expected text record through the default logger, got %q", buf.String())
	}

	buf.Reset()
	install(&buf, "scheduler", "info", "json")
	slog.Info("task_finished")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected json record, got %q: %v", buf.String(), err)
	}
}
