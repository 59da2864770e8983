package config

import (
	"testing"
)

// clearEnv blanks every variable NewConfig reads so ambient values from
// the host cannot leak into assertions.  t.Setenv also restores the
// originals when the test ends.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "MSGINDEX_DB_PATH", "TZ",
		"MSGINDEX_IMAP_HOST", "MSGINDEX_IMAP_PORT",
		"MSGINDEX_IMAP_USER", "MSGINDEX_IMAP_PASSWORD",
		"MSGINDEX_COMMIT_EVERY",
	} {
		t.Setenv(key, "")
	}
	// Skip the .env lookup.
	t.Setenv("MSGINDEX_ENV", "production")
}

func TestNewConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig failed: %v", err)
	}
	if cfg.Environment != "production" {
		t.Errorf("Expected production, got %q", cfg.Environment)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %q", cfg.Port)
	}
	if cfg.DBPath != "data/index.db" {
		t.Errorf("Expected default db path, got %q", cfg.DBPath)
	}
	if cfg.Timezone != "UTC" {
		t.Errorf("Expected UTC, got %q", cfg.Timezone)
	}
	if cfg.Indexer != DefaultIndexer() {
		t.Errorf("Engine tuning should default to production values, got %+v", cfg.Indexer)
	}
	if cfg.IMAPAddr() != "" {
		t.Errorf("IMAP should be unconfigured, got %q", cfg.IMAPAddr())
	}
}

func TestNewConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("MSGINDEX_DB_PATH", "/tmp/custom.db")
	t.Setenv("MSGINDEX_COMMIT_EVERY", "50")

	cfg, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig failed: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Expected 9090, got %q", cfg.Port)
	}
	if cfg.DBPath != "/tmp/custom.db" {
		t.Errorf("Expected custom db path, got %q", cfg.DBPath)
	}
	if cfg.Indexer.MessagesPerFolderCommit != 50 {
		t.Errorf("Expected commit batch 50, got %d", cfg.Indexer.MessagesPerFolderCommit)
	}
}

func TestNewConfigRejectsBadCommitEvery(t *testing.T) {
	for _, bad := range []string{"banana", "0", "-3"} {
		t.Run(bad, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("MSGINDEX_COMMIT_EVERY", bad)
			if _, err := NewConfig(); err == nil {
				t.Errorf("MSGINDEX_COMMIT_EVERY=%q should be rejected", bad)
			}
		})
	}
}

func TestNewConfigIMAPValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("MSGINDEX_IMAP_HOST", "imap.example.com")

	if _, err := NewConfig(); err == nil {
		t.Error("An IMAP host without a username should be rejected")
	}

	t.Setenv("MSGINDEX_IMAP_USER", "someone@example.com")
	cfg, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig failed: %v", err)
	}
	if cfg.IMAPAddr() != "imap.example.com:993" {
		t.Errorf("Expected default IMAP port 993, got %q", cfg.IMAPAddr())
	}

	t.Setenv("MSGINDEX_IMAP_PORT", "1143")
	cfg, err = NewConfig()
	if err != nil {
		t.Fatalf("NewConfig failed: %v", err)
	}
	if cfg.IMAPAddr() != "imap.example.com:1143" {
		t.Errorf("Expected custom IMAP port, got %q", cfg.IMAPAddr())
	}
}

func TestValidateRequiresDBPath(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("An empty db path should be rejected")
	}
}
