package server

import (
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	t.Setenv("TIDEPOOL_SESSION_SECRET", "test-secret")

	cfg, err := ParseConfig()
	if err != nil {
		t.Fatalf("ParseConfig returned error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.DataPath != "data/tidepool.db" {
		t.Fatalf("DataPath = %q, want %q", cfg.DataPath, "data/tidepool.db")
	}
	if cfg.AuthDBPath != "data/tidepool-auth.db" {
		t.Fatalf("AuthDBPath = %q, want %q", cfg.AuthDBPath, "data/tidepool-auth.db")
	}
	if cfg.SessionSecret != "test-secret" {
		t.Fatalf("SessionSecret = %q, want %q", cfg.SessionSecret, "test-secret")
	}
	if cfg.SessionTTL != 168*time.Hour {
		t.Fatalf("SessionTTL = %v, want %v", cfg.SessionTTL, 168*time.Hour)
	}
	if cfg.TokenRotate {
		t.Fatal("TokenRotate = true, want false")
	}
	if len(cfg.TrustedOrigins) != 0 {
		t.Fatalf("TrustedOrigins = %v, want empty", cfg.TrustedOrigins)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("TIDEPOOL_SESSION_SECRET", "test-secret")
	t.Setenv("TIDEPOOL_HTTP_ADDR", ":9090")
	t.Setenv("TIDEPOOL_TRUSTED_ORIGINS", "https://app.example.com,https://*.example.org")
	t.Setenv("TIDEPOOL_SESSION_TTL", "24h")
	t.Setenv("TIDEPOOL_TOKEN_ROTATE", "true")

	cfg, err := ParseConfig()
	if err != nil {
		t.Fatalf("ParseConfig returned error: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if len(cfg.TrustedOrigins) != 2 || cfg.TrustedOrigins[0] != "https://app.example.com" {
		t.Fatalf("TrustedOrigins = %v, want two entries", cfg.TrustedOrigins)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Fatalf("SessionTTL = %v, want %v", cfg.SessionTTL, 24*time.Hour)
	}
	if !cfg.TokenRotate {
		t.Fatal("TokenRotate = false, want true")
	}
}

func TestParseConfigRequiresSecret(t *testing.T) {
	t.Setenv("TIDEPOOL_SESSION_SECRET", "")
	if _, err := ParseConfig(); err == nil {
		t.Fatal("expected error when session secret is unset")
	}
}
