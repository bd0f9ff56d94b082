package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesAuditFile(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit", "security.log")

	if err := Init(Config{
		Level:       "debug",
		Format:      "text",
		OutputPaths: []string{filepath.Join(dir, "app.log")},
		Audit:       AuditConfig{Enabled: true, Path: auditPath},
	}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Sync() })

	Audit().Warn("firewall blocked instruction", slog.String("reason", "pattern"))
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	content, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &entry); err != nil {
		t.Fatalf("audit entry is not json: %v (%s)", err, content)
	}
	if entry["reason"] != "pattern" || entry["stream"] != "audit" {
		t.Fatalf("unexpected audit entry: %v", entry)
	}
}

func TestInitRejectsEmptyAuditPath(t *testing.T) {
	if err := Init(Config{Audit: AuditConfig{Enabled: true}}); err == nil {
		t.Fatalf("expected error for empty audit path")
	}
}

func TestNamedAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	UseHandler(slog.NewTextHandler(&buf, nil))
	t.Cleanup(func() { _ = Init(Config{}) })

	Named("firewall").Info("hello")
	if !strings.Contains(buf.String(), "component=firewall") {
		t.Fatalf("component attribute missing: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}
