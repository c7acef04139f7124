package chat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultPrompt(t *testing.T) {
	p := DefaultPrompt()
	if !strings.Contains(p.System, "Smart Doctor") {
		t.Fatalf("unexpected system prompt: %q", p.System)
	}
	if p.HistoryHeader != "Previous conversation:" || p.UserLabel != "User" {
		t.Fatalf("unexpected labels: %+v", p)
	}
}

func TestLoadPrompt_OverridesSystemOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.toml")
	if err := os.WriteFile(path, []byte(`system = "be brief"`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	p, err := LoadPrompt(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.System != "be brief" {
		t.Fatalf("expected override, got %q", p.System)
	}
	if p.QuestionHeader != "Current question:" {
		t.Fatalf("expected default question header, got %q", p.QuestionHeader)
	}

	msgs := p.Build(Message{Content: "hi"}, nil)
	if msgs[0].Content != "be brief" || msgs[1].Content != `"hi"` {
		t.Fatalf("unexpected build: %+v", msgs)
	}
}

func TestLoadPrompt_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	if err := os.WriteFile(path, []byte(`system = `), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadPrompt(path); err == nil {
		t.Fatalf("expected decode error")
	}
}
