package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaultStorageBaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PORT", "")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	expected := "http://localhost:8080/files"
	if cfg.StorageBaseURL != expected {
		t.Fatalf("StorageBaseURL mismatch: got %q want %q", cfg.StorageBaseURL, expected)
	}
}

func TestLoadConfigInheritsPortInStorageBaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PORT", "1919")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	expected := "http://localhost:1919/files"
	if cfg.StorageBaseURL != expected {
		t.Fatalf("StorageBaseURL mismatch: got %q want %q", cfg.StorageBaseURL, expected)
	}
}

func TestLoadConfigGenerationDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("GENERATION_TIMEOUT_SECONDS", "")
	t.Setenv("RETRY_ENABLED", "")
	t.Setenv("RECONCILE_INTERVAL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.GenerationTimeout != 30*time.Second {
		t.Fatalf("GenerationTimeout = %s", cfg.GenerationTimeout)
	}
	if cfg.RetryEnabled {
		t.Fatal("retry must be disabled by default")
	}
	if cfg.ReconcileInterval != "@every 5m" {
		t.Fatalf("ReconcileInterval = %q", cfg.ReconcileInterval)
	}
	if cfg.ReconcileEventDelay != 3*time.Second {
		t.Fatalf("ReconcileEventDelay = %s", cfg.ReconcileEventDelay)
	}
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected missing DATABASE_URL to fail")
	}
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected missing JWT_SECRET to fail")
	}
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("CREATIVEHUB_TEST_A=file\nCREATIVEHUB_TEST_B=file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CREATIVEHUB_TEST_A", "env")
	t.Cleanup(func() { os.Unsetenv("CREATIVEHUB_TEST_B") })

	LoadDotEnv(path, filepath.Join(dir, "missing.env"))

	if got := os.Getenv("CREATIVEHUB_TEST_A"); got != "env" {
		t.Fatalf("A = %q", got)
	}
	if got := os.Getenv("CREATIVEHUB_TEST_B"); got != "file" {
		t.Fatalf("B = %q", got)
	}
}
