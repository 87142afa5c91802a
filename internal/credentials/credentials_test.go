package credentials

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Setenv("DEEPSEEK_API_KEY", "")
	s := NewStore(t.TempDir())
	if err := s.SaveAPIKey("  sk-test-123  "); err != nil {
		t.Fatalf("SaveAPIKey: %v", err)
	}
	if got := s.APIKey(); got != "sk-test-123" {
		t.Fatalf("APIKey = %q", got)
	}
}

func TestEnvTakesPrecedence(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.SaveAPIKey("sk-from-file"); err != nil {
		t.Fatalf("SaveAPIKey: %v", err)
	}
	t.Setenv("DEEPSEEK_API_KEY", "sk-from-env")
	if got := s.APIKey(); got != "sk-from-env" {
		t.Fatalf("APIKey = %q, env must win", got)
	}
}

func TestMissingOrCorruptSettings(t *testing.T) {
	t.Setenv("DEEPSEEK_API_KEY", "")
	dir := t.TempDir()
	s := NewStore(dir)
	if got := s.APIKey(); got != "" {
		t.Fatalf("APIKey on empty dir = %q", got)
	}
	if err := os.WriteFile(filepath.Join(dir, "settings.json"), []byte("{broken"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := s.APIKey(); got != "" {
		t.Fatalf("APIKey on corrupt file = %q", got)
	}
}
