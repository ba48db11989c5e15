package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSafeEnv(t *testing.T) {
	const key = "_SURVEYLEDGER_TEST_SAFEENV"
	t.Setenv(key, "")
	if got := SafeEnv(key, "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv(key, "value")
	if got := SafeEnv(key, "fallback"); got != "value" {
		t.Fatalf("expected 'value', got %q", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("_SURVEYLEDGER_DOTENV_A=from-file\n_SURVEYLEDGER_DOTENV_B=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("_SURVEYLEDGER_DOTENV_A", "")
	os.Unsetenv("_SURVEYLEDGER_DOTENV_A")
	t.Setenv("_SURVEYLEDGER_DOTENV_B", "from-process")
	t.Cleanup(func() { os.Unsetenv("_SURVEYLEDGER_DOTENV_A") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("_SURVEYLEDGER_DOTENV_A"); got != "from-file" {
		t.Fatalf("A = %q, want from-file", got)
	}
	if got := os.Getenv("_SURVEYLEDGER_DOTENV_B"); got != "from-process" {
		t.Fatalf("B = %q, process value must win", got)
	}
}
