package msgcat

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRenderDefaults(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := c.Render("match.found", nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Match found! Redirecting to battle..." {
		t.Fatalf("unexpected text: %q", got)
	}

	got, err = c.Render("match.started", map[string]any{"Minutes": 15})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Battle started. You have 15 minutes." {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestRenderUnknownKey(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Render("no.such.key", nil); err == nil {
		t.Fatalf("unknown key must error")
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	override := []byte("match:\n  found: \"Opponent located\"\n")
	if err := os.WriteFile(filepath.Join(dir, "messages.yaml"), override, 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}

	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("match.found", nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Opponent located" {
		t.Fatalf("override not applied: %q", got)
	}
	// untouched keys keep their defaults
	if got, _ := c.Render("queue.left", nil); got != "Left matchmaking queue." {
		t.Fatalf("default lost: %q", got)
	}
}
