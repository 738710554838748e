package runtimeconfig

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// cleanEnvVars clears every CRYFS_ variable this package reads so host
// environment leakage can't affect a test, returning prior values for
// restoration, the same helper shape the teacher's config_test.go uses.
func cleanEnvVars(t *testing.T) map[string]string {
	t.Helper()
	orig := make(map[string]string)
	vars := []string{
		"CRYFS_LOCAL_STATE_DIR",
		"CRYFS_CACHE_CAPACITY",
		"CRYFS_FLUSH_INTERVAL",
		"CRYFS_LOG_LEVEL",
		"CRYFS_DEFAULT_CIPHER",
		"CRYFS_DEFAULT_BLOCKSIZE_BYTES",
		"CRYFS_MISSING_BLOCK_IS_INTEGRITY_VIOLATION",
		"CRYFS_ALLOW_INTEGRITY_VIOLATIONS",
	}
	for _, v := range vars {
		if val, ok := os.LookupEnv(v); ok {
			orig[v] = val
		}
		_ = os.Unsetenv(v)
	}
	return orig
}

func restoreEnvVars(t *testing.T, orig map[string]string) {
	t.Helper()
	for k, v := range orig {
		_ = os.Setenv(k, v)
	}
}

func TestDefaultConfig(t *testing.T) {
	orig := cleanEnvVars(t)
	t.Cleanup(func() { restoreEnvVars(t, orig) })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	assert.EqualValues(t, DefaultConfig, *cfg)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	orig := cleanEnvVars(t)
	t.Cleanup(func() { restoreEnvVars(t, orig) })

	t.Setenv("CRYFS_CACHE_CAPACITY", "250")
	t.Setenv("CRYFS_FLUSH_INTERVAL", "1m")
	t.Setenv("CRYFS_DEFAULT_CIPHER", "xchacha20-poly1305")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.CacheCapacity != 250 {
		t.Fatalf("CacheCapacity = %d, want 250", cfg.CacheCapacity)
	}
	if cfg.FlushInterval != time.Minute {
		t.Fatalf("FlushInterval = %v, want 1m", cfg.FlushInterval)
	}
	if cfg.DefaultCipher != "xchacha20-poly1305" {
		t.Fatalf("DefaultCipher = %q", cfg.DefaultCipher)
	}
}

func TestLoadRejectsUnknownCipher(t *testing.T) {
	orig := cleanEnvVars(t)
	t.Cleanup(func() { restoreEnvVars(t, orig) })

	t.Setenv("CRYFS_DEFAULT_CIPHER", "rot13")
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error for unknown cipher")
	}
}

func TestLoadRejectsBadLocalStateDir(t *testing.T) {
	orig := cleanEnvVars(t)
	t.Cleanup(func() { restoreEnvVars(t, orig) })

	t.Setenv("CRYFS_LOCAL_STATE_DIR", "/")
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error for root local state dir")
	}
}

func TestLoadRejectsUnknownLogLevel(t *testing.T) {
	orig := cleanEnvVars(t)
	t.Cleanup(func() { restoreEnvVars(t, orig) })

	t.Setenv("CRYFS_LOG_LEVEL", "verbose")
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error for unknown log level")
	}
}

func TestSlogLevel(t *testing.T) {
	cfg := Config{LogLevel: "debug"}
	if cfg.SlogLevel().String() != "DEBUG" {
		t.Fatalf("SlogLevel() = %v, want DEBUG", cfg.SlogLevel())
	}
	cfg.LogLevel = "error"
	if cfg.SlogLevel().String() != "ERROR" {
		t.Fatalf("SlogLevel() = %v, want ERROR", cfg.SlogLevel())
	}
}
