package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "warn", "auto")
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	// A buffer is not a terminal: auto means JSON.
	if !strings.HasPrefix(out, "{") || !strings.Contains(out, `"k":"v"`) {
		t.Errorf("output = %q, want JSON", out)
	}

	if _, err := newLogger(&buf, "loud", "text"); err == nil {
		t.Error("unknown level should fail")
	}
	if _, err := newLogger(&buf, "info", "xml"); err == nil {
		t.Error("unknown format should fail")
	}
}

func TestConfigCheck_Redacts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platewatch.yaml")
	doc := `
source:
  url: http://camera.local/local/Vaxreader/index.html#/
  username: root
  password: hunter2
recognizer:
  token: secret-token
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "check", "-c", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config check: %v", err)
	}

	got := out.String()
	if strings.Contains(got, "hunter2") || strings.Contains(got, "secret-token") {
		t.Errorf("secrets leaked:\n%s", got)
	}
	for _, want := range []string{"interval: 5s", "username: root", "fallback_make: BMW"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestConfigCheck_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platewatch.yaml")
	if err := os.WriteFile(path, []byte("sink:\n  url: ftp://nope\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"config", "check", "-c", path})
	if err := cmd.Execute(); err == nil {
		t.Error("invalid sink url should fail")
	}
}
