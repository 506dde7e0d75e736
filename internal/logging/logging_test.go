package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(Redact(slog.NewJSONHandler(&buf, nil)))

	logger.With("mnemonic", "abandon abandon about").Info("wired",
		"account", "0xABC",
		"private_key", "deadbeef",
		slog.Group("agent", "Seed", "00ff", "index", 0),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["mnemonic"] != redacted || rec["private_key"] != redacted {
		t.Errorf("secrets leaked: %v", rec)
	}
	if rec["account"] != "0xABC" {
		t.Errorf("account = %v", rec["account"])
	}
	group, _ := rec["agent"].(map[string]any)
	if group["Seed"] != redacted {
		t.Errorf("grouped seed leaked: %v", group)
	}
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "warn", "text")
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if bytes.Contains(buf.Bytes(), []byte("hidden")) || !bytes.Contains(buf.Bytes(), []byte("shown")) {
		t.Errorf("level filter not applied: %q", buf.String())
	}

	if _, err := New(&buf, "loud", "text"); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New(&buf, "info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
